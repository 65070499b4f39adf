package writer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/michaelniu1990/profilo/internal/entries"
)

type fakeCallbacks struct {
	starts  []int64
	ends    []int64
	aborts  []int64
	reasons []AbortReason
	paths   []string
}

func (f *fakeCallbacks) OnTraceStart(traceID int64, flags int32, path string) {
	f.starts = append(f.starts, traceID)
	f.paths = append(f.paths, path)
}
func (f *fakeCallbacks) OnTraceEnd(traceID int64) { f.ends = append(f.ends, traceID) }
func (f *fakeCallbacks) OnTraceAbort(traceID int64, reason AbortReason) {
	f.aborts = append(f.aborts, traceID)
	f.reasons = append(f.reasons, reason)
}

func newTestWriter(t *testing.T, expected int64, cb Callbacks) *Writer {
	t.Helper()
	dir := t.TempDir()
	w, err := New(Config{
		Folder:    dir,
		Prefix:    "trace",
		Precision: 100,
		Headers:   []KeyValue{{Key: "app", Value: "test"}},
	}, expected, cb, clockz.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	require.NoError(t, err)
	return w
}

func standard(id int32, typ entries.EntryType, ts int64, extra int64, matchID int32) entries.Unpacked {
	return entries.Unpacked{Standard: &entries.StandardEntry{
		ID: id, Type: typ, Timestamp: ts, Extra: extra, MatchID: matchID,
	}}
}

func TestNewRejectsRelativeFolder(t *testing.T) {
	_, err := New(Config{Folder: "relative/path"}, 1, nil, nil, nil)
	require.Error(t, err)
}

func TestTraceStartThenEndHappyPath(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceStart, 0, 7, 0))
	require.True(t, w.Active())
	require.Len(t, cb.starts, 1)
	require.Equal(t, int64(7), cb.starts[0])

	path := w.Path()
	require.FileExists(t, path)

	w.Visit(standard(2, entries.TraceEnd, 0, 7, 0))
	require.False(t, w.Active())
	require.Equal(t, []int64{7}, cb.ends)
	require.Empty(t, cb.aborts)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	plain, err := dec.DecodeAll(data, nil)
	require.NoError(t, err)
	require.Contains(t, string(plain), "ver|1")
	require.Contains(t, string(plain), "app|test")
}

func TestEntriesForOtherTraceIDsAreIgnored(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceStart, 0, 99, 0))
	require.False(t, w.Active())
	require.Empty(t, cb.starts)
}

func TestDoubleStartAbortsAsNewStart(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceStart, 0, 7, 0))
	require.True(t, w.Active())

	w.Visit(standard(2, entries.TraceStart, 0, 7, 0))
	require.False(t, w.Active())
	require.Equal(t, []int64{7}, cb.aborts)
	require.Equal(t, []AbortReason{NewStart}, cb.reasons)
}

func TestExplicitAbort(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceStart, 0, 7, 0))
	w.Visit(standard(2, entries.TraceAbort, 0, 7, 0))

	require.False(t, w.Active())
	require.Equal(t, []AbortReason{ControllerInitiated}, cb.reasons)
}

func TestTimeoutAbort(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceStart, 0, 7, 0))
	w.Visit(standard(2, entries.TraceTimeout, 0, 7, 0))

	require.False(t, w.Active())
	require.Equal(t, []AbortReason{Timeout}, cb.reasons)
}

func TestTraceBackwardsTreatedAsStart(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceBackwards, 0, 7, 0))
	require.True(t, w.Active())
	require.Len(t, cb.starts, 1)
}

func TestInvalidTraceIDRejectsStartWithoutPanicking(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, -1, cb)

	w.Visit(standard(1, entries.TraceStart, 0, -1, 0))
	require.False(t, w.Active())
	require.Empty(t, cb.starts)
}

func TestAbortExternallyClosesFile(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)

	w.Visit(standard(1, entries.TraceStart, 0, 7, 0))
	path := w.Path()
	w.Abort(ControllerInitiated)

	require.False(t, w.Active())
	require.FileExists(t, path) // left in place, not unlinked automatically
}

func TestTraceFileLivesUnderSanitizedTraceIDSubfolder(t *testing.T) {
	cb := &fakeCallbacks{}
	w := newTestWriter(t, 7, cb)
	w.Visit(standard(1, entries.TraceStart, 0, 7, 0))

	traceIDString, err := GetTraceID(7)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(w.cfg.Folder, traceIDString), filepath.Dir(w.Path()))
}
