// Package writer implements the trace lifecycle state machine: it
// owns the per-trace output file, emits the header block, builds and
// tears down the visitor pipeline, and dispatches start/end/abort/
// timeout callbacks.
package writer

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zoobzio/clockz"

	"github.com/cockroachdb/errors"
	"github.com/michaelniu1990/profilo/internal/entries"
	"github.com/michaelniu1990/profilo/internal/visitor"
)

// TraceFormatVersion is written into every trace file's "ver|" header
// line.
const TraceFormatVersion = 1

// AbortReason explains why a trace ended via TraceAbort rather than
// TraceEnd.
type AbortReason int

const (
	// NewStart: a second TRACE_START for the same id arrived while a
	// trace was already active.
	NewStart AbortReason = iota
	// ControllerInitiated: an explicit TRACE_ABORT entry, or an I/O
	// failure while emitting the trace.
	ControllerInitiated
	// Timeout: a TRACE_TIMEOUT entry.
	Timeout
)

func (r AbortReason) String() string {
	switch r {
	case NewStart:
		return "NEW_START"
	case ControllerInitiated:
		return "CONTROLLER_INITIATED"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Callbacks receives lifecycle notifications. For every TRACE_START
// that opens a file exactly one of OnTraceEnd or OnTraceAbort is
// eventually invoked.
type Callbacks interface {
	OnTraceStart(traceID int64, flags int32, path string)
	OnTraceEnd(traceID int64)
	OnTraceAbort(traceID int64, reason AbortReason)
}

// KeyValue is one line of the trace file's header block. Headers are
// an ordered list rather than a map so emission order is preserved and
// duplicate keys are allowed.
type KeyValue struct {
	Key   string
	Value string
}

// Config configures a Writer.
type Config struct {
	// Folder is the trace root; must be an absolute path. Relative
	// folders are rejected outright by New.
	Folder string
	// Prefix names the trace file, e.g. "trace".
	Prefix string
	// Precision is the timestamp truncation quantum passed to the
	// visitor pipeline and written into the "prec|" header line.
	Precision int64
	// Headers are extra trace-file header lines, emitted in order
	// after "prec|".
	Headers []KeyValue
}

// Writer is a TraceLifecycleWriter for one expected trace id.
type Writer struct {
	cfg      Config
	expected int64
	callback Callbacks
	clock    clockz.Clock
	logger   *log.Logger

	file     *os.File
	enc      *zstd.Encoder
	pipeline *visitor.Pipeline
	path     string
}

// New creates a Writer that only reacts to lifecycle entries whose
// Extra field equals expectedTraceID.
func New(cfg Config, expectedTraceID int64, callback Callbacks, clock clockz.Clock, logger *log.Logger) (*Writer, error) {
	if !filepath.IsAbs(cfg.Folder) {
		return nil, errors.Newf("writer: folder %q must be an absolute path", cfg.Folder)
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{
		cfg:      cfg,
		expected: expectedTraceID,
		callback: callback,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Active reports whether a trace file is currently open.
func (w *Writer) Active() bool { return w.file != nil }

// Path returns the path of the currently open trace file, or "" if
// none is active.
func (w *Writer) Path() string { return w.path }

func header(u entries.Unpacked) entries.StandardEntry {
	switch {
	case u.Standard != nil:
		return *u.Standard
	case u.Frames != nil:
		return u.Frames.StandardEntry
	case u.Bytes != nil:
		return u.Bytes.StandardEntry
	default:
		return entries.StandardEntry{}
	}
}

// Visit drives the trace lifecycle state machine. Lifecycle entries
// whose Extra field doesn't match the expected trace id are ignored;
// every other entry is forwarded to the active pipeline, if any.
func (w *Writer) Visit(u entries.Unpacked) {
	hdr := header(u)

	switch hdr.Type {
	case entries.TraceEnd:
		if hdr.Extra != w.expected {
			return
		}
		wasActive := w.Active()
		w.forward(u)
		if wasActive && !w.Active() {
			// forward hit an I/O failure and already aborted the trace.
			return
		}
		w.finishEnd(hdr.Extra)

	case entries.TraceAbort, entries.TraceTimeout:
		if hdr.Extra != w.expected {
			return
		}
		reason := ControllerInitiated
		if hdr.Type == entries.TraceTimeout {
			reason = Timeout
		}
		wasActive := w.Active()
		w.forward(u)
		if wasActive && !w.Active() {
			// forward hit an I/O failure and already aborted the trace.
			return
		}
		w.finishAbort(hdr.Extra, reason)

	case entries.TraceStart, entries.TraceBackwards:
		if hdr.Extra != w.expected {
			return
		}
		w.onTraceStart(hdr.Extra, hdr.MatchID)
		w.forward(u)

	default:
		w.forward(u)
	}
}

// forward sends u through the active pipeline, if any. A write
// failure while emitting is treated as an implicit abort.
func (w *Writer) forward(u entries.Unpacked) {
	if w.pipeline == nil {
		return
	}
	if err := w.pipeline.Visit(u); err != nil {
		w.logger.Printf("writer: I/O failure writing trace %d: %v", w.expected, err)
		w.finishAbort(w.expected, ControllerInitiated)
	}
}

func (w *Writer) onTraceStart(traceID int64, flags int32) {
	if traceID != w.expected {
		return
	}

	if w.Active() {
		// A trace with this id is already active: abort it and do not
		// automatically begin the new one.
		w.finishAbort(traceID, NewStart)
		return
	}

	traceIDString, err := GetTraceID(traceID)
	if err != nil {
		w.logger.Printf("writer: rejecting TRACE_START: %v", err)
		return
	}

	traceFolder := filepath.Join(w.cfg.Folder, Sanitize(traceIDString))
	if err := ensureDir(traceFolder, w.cfg.Folder); err != nil {
		w.logger.Printf("writer: %v", err)
		return
	}

	filename := Sanitize(buildFilename(w.cfg.Prefix, traceIDString, w.clock.Now()))
	path := filepath.Join(traceFolder, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0660)
	if err != nil {
		w.logger.Printf("writer: could not open trace file %s: %v", path, err)
		return
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		w.logger.Printf("writer: could not create compressor for %s: %v", path, err)
		return
	}

	if err := writeHeaders(enc, traceIDString, w.cfg); err != nil {
		enc.Close()
		f.Close()
		w.logger.Printf("writer: could not write headers for %s: %v", path, err)
		return
	}

	w.file = f
	w.enc = enc
	w.path = path
	w.pipeline = visitor.New(w.cfg.Precision, enc)

	if w.callback != nil {
		w.callback.OnTraceStart(traceID, flags, path)
	}
}

func (w *Writer) finishEnd(traceID int64) {
	w.cleanup()
	if w.callback != nil {
		w.callback.OnTraceEnd(traceID)
	}
}

func (w *Writer) finishAbort(traceID int64, reason AbortReason) {
	w.cleanup()
	if w.callback != nil {
		w.callback.OnTraceAbort(traceID, reason)
	}
}

// Abort externally aborts the active trace, e.g. because an owning
// controller timed out waiting for TRACE_END. The .tmp file is left in
// place; callers decide whether to unlink it.
func (w *Writer) Abort(reason AbortReason) {
	if !w.Active() {
		return
	}
	w.finishAbort(w.expected, reason)
}

func (w *Writer) cleanup() {
	if w.enc != nil {
		w.enc.Close()
		w.enc = nil
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	w.pipeline = nil
	w.path = ""
}

func writeHeaders(w io.Writer, traceIDString string, cfg Config) error {
	if _, err := fmt.Fprintf(w, "dt\nver|%d\nid|%s\nprec|%d\n", TraceFormatVersion, traceIDString, cfg.Precision); err != nil {
		return err
	}
	for _, kv := range cfg.Headers {
		if _, err := fmt.Fprintf(w, "%s|%s\n", kv.Key, kv.Value); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
