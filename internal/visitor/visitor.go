// Package visitor implements the ordered chain of transforming stages
// applied to a reassembled entry before it's written out: stack
// inversion, timestamp truncation, delta encoding, and finally textual
// emission to a sink. Dispatch is a small match over the entry's
// concrete shape rather than virtual dispatch through an allocated
// chain of delegates — this keeps the hot consumer path free of heap
// allocation and indirect calls.
package visitor

import "github.com/michaelniu1990/profilo/internal/entries"

// Stage is one non-terminal step of the pipeline. A stage may leave an
// entry unchanged for shapes it doesn't care about.
type Stage interface {
	VisitStandard(e *entries.StandardEntry)
	VisitFrames(e *entries.FramesEntry)
	VisitBytes(e *entries.BytesEntry)
}

// StackTraceInverting reverses FramesEntry.Frames so the deepest frame
// appears last. It has no effect on StandardEntry or BytesEntry.
type StackTraceInverting struct{}

func (StackTraceInverting) VisitStandard(*entries.StandardEntry) {}

func (StackTraceInverting) VisitFrames(e *entries.FramesEntry) {
	frames := e.Frames
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
}

func (StackTraceInverting) VisitBytes(*entries.BytesEntry) {}

// TimestampTruncating rescales Timestamp into units of the configured
// precision via integer division, not rounding. Applying it twice is
// not idempotent (it keeps shrinking the value); callers run it
// exactly once per entry, ahead of DeltaEncoding.
type TimestampTruncating struct {
	Precision int64
}

func (t TimestampTruncating) truncate(ts int64) int64 {
	if t.Precision <= 0 {
		return ts
	}
	return ts / t.Precision
}

func (t TimestampTruncating) VisitStandard(e *entries.StandardEntry) {
	e.Timestamp = t.truncate(e.Timestamp)
}

func (t TimestampTruncating) VisitFrames(e *entries.FramesEntry) {
	e.Timestamp = t.truncate(e.Timestamp)
}

func (t TimestampTruncating) VisitBytes(e *entries.BytesEntry) {
	e.Timestamp = t.truncate(e.Timestamp)
}

// DeltaEncoding replaces each outgoing timestamp with its difference
// from the last emitted (already-truncated) timestamp. It must run
// after TimestampTruncating so deltas are computed in truncated units.
// A single running prior value suffices because emission is serialized
// through one consumer; the prior resets to zero on every new trace,
// so callers construct a fresh DeltaEncoding per trace rather than
// sharing one across traces.
type DeltaEncoding struct {
	prior int64
}

func (d *DeltaEncoding) VisitStandard(e *entries.StandardEntry) {
	cur := e.Timestamp
	e.Timestamp = cur - d.prior
	d.prior = cur
}

func (d *DeltaEncoding) VisitFrames(e *entries.FramesEntry) {
	cur := e.Timestamp
	e.Timestamp = cur - d.prior
	d.prior = cur
}

func (d *DeltaEncoding) VisitBytes(e *entries.BytesEntry) {
	cur := e.Timestamp
	e.Timestamp = cur - d.prior
	d.prior = cur
}
