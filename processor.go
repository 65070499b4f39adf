package profilo

import (
	"time"

	"github.com/zoobzio/clockz"

	"github.com/michaelniu1990/profilo/internal/reader"
	"github.com/michaelniu1990/profilo/internal/writer"
)

// Re-exported so callers only need to import the root package for the
// common consumer-side types.
type (
	// Callbacks receives trace lifecycle notifications. See
	// writer.Callbacks.
	Callbacks = writer.Callbacks
	// AbortReason explains why a trace ended via abort rather than end.
	// See writer.AbortReason.
	AbortReason = writer.AbortReason
	// WriterConfig configures the trace lifecycle writer. See
	// writer.Config.
	WriterConfig = writer.Config
	// HeaderField is one extra line in a trace file's header block.
	// See writer.KeyValue.
	HeaderField = writer.KeyValue
)

// Abort reasons, re-exported for callers that only import the root package.
const (
	AbortNewStart            = writer.NewStart
	AbortControllerInitiated = writer.ControllerInitiated
	AbortTimeout             = writer.Timeout
)

// pollBackoff is how long Processor sleeps when nothing is ready to
// read. The producer path is wait-free and never blocks on the
// consumer; this backoff only throttles the consumer's idle spin, it
// never introduces producer backpressure.
const pollBackoff = 200 * time.Microsecond

// Processor is the consumer side of the tracer: it drains a Tracer's
// ring buffer, reassembles entries, and drives a single trace
// lifecycle writer's state machine. Its background-goroutine shape —
// a stop channel, a done channel closed on exit, and a bounded wait on
// Close — keeps shutdown deterministic without leaking the goroutine.
type Processor struct {
	assembler *reader.Assembler
	lifecycle *writer.Writer

	stopCh chan struct{}
	done   chan struct{}
}

// NewProcessor creates a Processor that watches t's ring buffer for
// entries belonging to expectedTraceID.
func NewProcessor(t *Tracer, cfg WriterConfig, expectedTraceID int64, callbacks Callbacks) (*Processor, error) {
	return newProcessor(t, cfg, expectedTraceID, callbacks, clockz.RealClock)
}

func newProcessor(t *Tracer, cfg WriterConfig, expectedTraceID int64, callbacks Callbacks, clock clockz.Clock) (*Processor, error) {
	lw, err := writer.New(cfg, expectedTraceID, callbacks, clock, nil)
	if err != nil {
		return nil, err
	}
	return &Processor{
		assembler: reader.New(t.Ring()),
		lifecycle: lw,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the background consumer goroutine. Safe to call once.
func (p *Processor) Start() {
	go p.run()
}

func (p *Processor) run() {
	defer close(p.done)

	for {
		select {
		case <-p.stopCh:
			p.drain()
			return
		default:
			if u, ok := p.assembler.Poll(); ok {
				p.lifecycle.Visit(u)
			} else {
				time.Sleep(pollBackoff)
			}
		}
	}
}

// drain flushes any entries already published to the ring buffer
// before the consumer goroutine exits.
func (p *Processor) drain() {
	for {
		u, ok := p.assembler.Poll()
		if !ok {
			return
		}
		p.lifecycle.Visit(u)
	}
}

// Close stops the background goroutine and waits for it to finish, up
// to a bounded timeout. If a trace is still active when the goroutine
// exits, it is aborted with AbortControllerInitiated. If the goroutine
// hasn't exited within the timeout, Close returns without touching the
// lifecycle writer: it may still be executing Visit on unsynchronized
// state, and aborting concurrently with that would race.
func (p *Processor) Close() {
	close(p.stopCh)
	select {
	case <-p.done:
		p.lifecycle.Abort(AbortControllerInitiated)
	case <-time.After(time.Second):
	}
}

// NewProcessorWithClock is NewProcessor with an injectable clock, for
// deterministic tests of timestamp truncation and filename generation.
func NewProcessorWithClock(t *Tracer, cfg WriterConfig, expectedTraceID int64, callbacks Callbacks, clock clockz.Clock) (*Processor, error) {
	return newProcessor(t, cfg, expectedTraceID, callbacks, clock)
}

// LossCount returns the number of cursor positions skipped so far to
// ring-buffer overwrite, plus one for each entry dropped as corrupt.
func (p *Processor) LossCount() uint64 {
	return p.assembler.LossCount()
}

// Active reports whether a trace file is currently open.
func (p *Processor) Active() bool { return p.lifecycle.Active() }

// Path returns the path of the currently open trace file, or "" if none.
func (p *Processor) Path() string { return p.lifecycle.Path() }
