// Package logger implements the packet fragmentation layer: it splits
// a variable-length payload into fixed-size ring-buffer packets and
// publishes them atomically with respect to other producers.
package logger

import (
	"github.com/michaelniu1990/profilo/internal/ring"
)

// Logger fragments payloads onto a ring.Buffer.
type Logger struct {
	ring *ring.Buffer
}

// New wraps r with packet fragmentation.
func New(r *ring.Buffer) *Logger {
	return &Logger{ring: r}
}

// Write splits payload into the minimum number of packets that fit it,
// claims that many contiguous ring-buffer cursors in a single
// fetch-add (which is what makes the entry's packets atomic with
// respect to interleaving from other producers), fills in each
// packet's header and payload, and publishes them in ascending order.
// It returns the cursor of the last packet written.
func (l *Logger) Write(payload []byte) uint64 {
	n := len(payload)
	k := 1
	if n > 0 {
		k = (n + ring.PayloadCap - 1) / ring.PayloadCap
	}

	base := l.ring.Claim(k)

	for i := 0; i < k; i++ {
		cursor := base + uint64(i)
		start := i * ring.PayloadCap
		end := start + ring.PayloadCap
		if end > n {
			end = n
		}
		chunk := payload[start:end]

		pkt := l.ring.SlotFor(cursor)
		pkt.StreamID = base
		pkt.PayloadLen = uint8(len(chunk))
		pkt.Flags = 0
		if i == 0 {
			pkt.Flags |= ring.FlagStart
		} else {
			pkt.Flags |= ring.FlagContinuation
		}
		copy(pkt.Payload[:], chunk)
	}

	// Publish ascending: the reader will never observe a continuation
	// packet until every packet before it in the stream is visible,
	// because sequence publication is release-ordered.
	for i := 0; i < k; i++ {
		l.ring.Publish(base + uint64(i))
	}

	return base + uint64(k) - 1
}

// WriteAndGetCursor is Write, additionally exposing the cursor so a
// caller can correlate a log event with a saved checkpoint.
func (l *Logger) WriteAndGetCursor(payload []byte) uint64 {
	return l.Write(payload)
}
