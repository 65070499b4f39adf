package profilo

import (
	"sync"

	"github.com/zoobzio/clockz"

	"github.com/michaelniu1990/profilo/internal/entries"
	"github.com/michaelniu1990/profilo/internal/idalloc"
	"github.com/michaelniu1990/profilo/internal/logger"
	"github.com/michaelniu1990/profilo/internal/ring"
)

// MaxVariableLengthEntry bounds the largest entry the producer API can
// write in one call (the bound BytesEntry.Bytes is checked against).
const MaxVariableLengthEntry = entries.MaxBytesLen

// scratchCap is the size of the per-call scratch buffer: the largest
// possible entry (a full BytesEntry payload) plus its fixed header.
// Go has no portable stack-VLA equivalent for a reused, size-fitted
// scratch buffer, so a pooled, reused []byte plays the same role
// without allocating on every write.
const scratchCap = MaxVariableLengthEntry + 64

// Tracer is the producer-facing façade: it owns entry-ID assignment
// and packet fragmentation, and is safe for concurrent use by many
// producer goroutines.
//
//nolint:govet // field order kept readable over packed alignment.
type Tracer struct {
	ring    *ring.Buffer
	log     *logger.Logger
	ids     *idalloc.Allocator
	clock   clockz.Clock
	scratch sync.Pool
}

// Option configures a Tracer at construction time.
type Option func(*Tracer)

// WithClock injects a clock for timestamp generation and testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) { t.clock = clock }
}

// WithStartID seeds the entry-ID allocator, mostly useful for tests
// that want to exercise sentinel-skipping or wraparound deterministically.
func WithStartID(start int32) Option {
	return func(t *Tracer) { t.ids = idalloc.New(start) }
}

// New creates a Tracer backed by a ring buffer of the given capacity,
// which must be a power of two.
func New(capacity int, opts ...Option) (*Tracer, error) {
	rb, err := ring.New(capacity)
	if err != nil {
		return nil, err
	}
	t := &Tracer{
		ring:  rb,
		log:   logger.New(rb),
		ids:   idalloc.New(1),
		clock: clockz.RealClock,
	}
	t.scratch.New = func() interface{} {
		buf := make([]byte, scratchCap)
		return &buf
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Now returns the tracer's current time, honoring clock injection.
func (t *Tracer) Now() int64 { return t.clock.Now().UnixNano() }

func (t *Tracer) getScratch() *[]byte {
	return t.scratch.Get().(*[]byte)
}

func (t *Tracer) putScratch(buf *[]byte) {
	t.scratch.Put(buf)
}

// WriteStandard publishes a StandardEntry, assigning it a fresh id,
// and returns that id.
func (t *Tracer) WriteStandard(e entries.StandardEntry) int32 {
	id, _ := t.WriteStandardAndGetCursor(e)
	return id
}

// WriteStandardAndGetCursor is WriteStandard, additionally returning
// the ring-buffer cursor of the entry's last packet so a caller can
// correlate the write with a saved checkpoint.
func (t *Tracer) WriteStandardAndGetCursor(e entries.StandardEntry) (int32, uint64) {
	e.ID = t.ids.Next(1)
	buf := t.getScratch()
	defer t.putScratch(buf)
	n, err := entries.PackStandard(e, *buf)
	if err != nil {
		return e.ID, 0
	}
	cursor := t.log.WriteAndGetCursor((*buf)[:n])
	return e.ID, cursor
}

// WriteFrames publishes a FramesEntry and returns its id. Depths above
// entries.MaxFrameDepth are rejected: the entry is not written and the
// sentinel NoMatch id is returned.
func (t *Tracer) WriteFrames(e entries.FramesEntry) int32 {
	id, _ := t.WriteFramesAndGetCursor(e)
	return id
}

// WriteFramesAndGetCursor is WriteFrames, additionally returning the
// ring-buffer cursor.
func (t *Tracer) WriteFramesAndGetCursor(e entries.FramesEntry) (int32, uint64) {
	if len(e.Frames) > entries.MaxFrameDepth {
		return idalloc.NoMatch, 0
	}
	e.ID = t.ids.Next(1)
	size := entries.CalculateFramesSize(e)
	buf := make([]byte, size)
	n, err := entries.PackFrames(e, buf)
	if err != nil {
		return e.ID, 0
	}
	cursor := t.log.WriteAndGetCursor(buf[:n])
	return e.ID, cursor
}

// WriteBytes publishes an opaque payload up to entries.MaxBytesLen
// bytes and returns the assigned id.
func (t *Tracer) WriteBytes(typ entries.EntryType, arg1 int32, payload []byte) int32 {
	if len(payload) > entries.MaxBytesLen {
		return idalloc.NoMatch
	}
	e := entries.BytesEntry{
		StandardEntry: entries.StandardEntry{
			Type:      typ,
			Timestamp: t.Now(),
		},
		Arg1:  arg1,
		Bytes: payload,
	}
	e.ID = t.ids.Next(1)

	size := entries.CalculateBytesSize(e)
	var buf []byte
	if size <= scratchCap {
		pooled := t.getScratch()
		defer t.putScratch(pooled)
		buf = (*pooled)[:size]
	} else {
		buf = make([]byte, size)
	}

	if _, err := entries.PackBytes(e, buf); err != nil {
		return e.ID
	}
	t.log.Write(buf)
	return e.ID
}

// WriteStackFrames is a convenience over WriteFrames. It defaults
// entryType to entries.StackFrame.
func (t *Tracer) WriteStackFrames(tid int32, timestamp int64, frames []int64, entryType ...entries.EntryType) int32 {
	typ := entries.StackFrame
	if len(entryType) > 0 {
		typ = entryType[0]
	}
	return t.WriteFrames(entries.FramesEntry{
		StandardEntry: entries.StandardEntry{
			Type:      typ,
			Timestamp: timestamp,
			Tid:       tid,
		},
		Frames: frames,
	})
}

// WriteTraceAnnotation publishes a TRACE_ANNOTATION entry carrying an
// arbitrary (key, value) pair in (CallID, Extra).
func (t *Tracer) WriteTraceAnnotation(key int32, value int64) int32 {
	return t.WriteStandard(entries.StandardEntry{
		Type:      entries.TraceAnnotation,
		Timestamp: t.Now(),
		CallID:    key,
		Extra:     value,
	})
}

// WriteTraceStart publishes a TRACE_START entry for traceID, with
// matchID carried as the lifecycle writer's start "flags" argument.
func (t *Tracer) WriteTraceStart(traceID int64, matchID int32) int32 {
	return t.WriteStandard(entries.StandardEntry{
		Type:      entries.TraceStart,
		Timestamp: t.Now(),
		MatchID:   matchID,
		Extra:     traceID,
	})
}

// WriteTraceEnd publishes a TRACE_END entry for traceID.
func (t *Tracer) WriteTraceEnd(traceID int64) int32 {
	return t.WriteStandard(entries.StandardEntry{
		Type:      entries.TraceEnd,
		Timestamp: t.Now(),
		Extra:     traceID,
	})
}

// WriteTraceAbort publishes a TRACE_ABORT entry for traceID.
func (t *Tracer) WriteTraceAbort(traceID int64) int32 {
	return t.WriteStandard(entries.StandardEntry{
		Type:      entries.TraceAbort,
		Timestamp: t.Now(),
		Extra:     traceID,
	})
}

// Ring exposes the underlying ring buffer for the consumer side
// (Processor) to read from. It is not part of the producer API.
func (t *Tracer) Ring() *ring.Buffer { return t.ring }
