// Package reader implements the consumer-side stream assembler: it
// reassembles entries from the ring buffer's packets, detects loss via
// sequence gaps, and yields typed entries. It is strictly
// single-threaded; callers never call Poll concurrently.
package reader

import (
	"sync/atomic"

	"github.com/michaelniu1990/profilo/internal/entries"
	"github.com/michaelniu1990/profilo/internal/ring"
)

// Assembler reconstructs entries from a ring.Buffer's packets.
type Assembler struct {
	ring    *ring.Buffer
	next    uint64
	partial map[uint64][]byte

	lossCount atomic.Uint64
}

// New creates an Assembler reading r from its current position.
func New(r *ring.Buffer) *Assembler {
	return &Assembler{
		ring:    r,
		partial: make(map[uint64][]byte),
	}
}

// LossCount returns the number of cursor positions skipped so far to
// ring-buffer overwrite, plus one for each entry dropped as corrupt.
func (a *Assembler) LossCount() uint64 {
	return a.lossCount.Load()
}

// Poll performs one unit of assembly work and reports whether a
// complete entry was produced. Callers loop on Poll; when it returns
// ok == false there is nothing ready right now (the caller should back
// off briefly before calling again).
func (a *Assembler) Poll() (entries.Unpacked, bool) {
	for {
		res := a.ring.Read(a.next)
		switch {
		case res.Lost > 0:
			// The producer has overwritten slots we hadn't read yet.
			// Every partial buffer we were accumulating straddled the
			// now-overwritten span (we can't distinguish which did), so
			// drop them all and resume fresh at the resync point.
			a.lossCount.Add(res.Lost)
			a.partial = make(map[uint64][]byte)
			a.next = res.Next
			continue

		case !res.Ready:
			// Nothing published yet.
			a.next = res.Next
			return entries.Unpacked{}, false

		default:
			a.next = res.Next
			if out, ok := a.ingest(res.Packet); ok {
				return out, true
			}
			// Packet consumed but no complete entry yet (or the entry it
			// completed was corrupt and got dropped); keep polling.
			continue
		}
	}
}

func (a *Assembler) ingest(pkt ring.Packet) (entries.Unpacked, bool) {
	if pkt.IsStart() {
		buf := make([]byte, 0, int(pkt.PayloadLen)*2+1)
		a.partial[pkt.StreamID] = append(buf, pkt.Payload[:pkt.PayloadLen]...)
	} else {
		buf, ok := a.partial[pkt.StreamID]
		if !ok {
			// A continuation packet with no known start: the start must
			// have been lost without triggering a detected gap (e.g. we
			// attached to the stream mid-flight). Drop silently; this
			// packet alone can't be charged as a full lost entry since
			// we never counted its start.
			return entries.Unpacked{}, false
		}
		a.partial[pkt.StreamID] = append(buf, pkt.Payload[:pkt.PayloadLen]...)
	}

	buf := a.partial[pkt.StreamID]
	declared, err := entries.DeclaredSize(buf)
	if err != nil {
		// Corrupt packet stream: declared length exceeds what the codec
		// allows. Drop the entry; the reader resumes at the next start
		// packet, which happens naturally since we delete this buffer.
		delete(a.partial, pkt.StreamID)
		a.lossCount.Add(1)
		return entries.Unpacked{}, false
	}
	if declared < 0 || len(buf) < declared {
		// Still waiting on more continuation packets.
		return entries.Unpacked{}, false
	}

	delete(a.partial, pkt.StreamID)
	if len(buf) > declared {
		// More bytes than declared: corrupt, drop rather than truncate
		// silently.
		a.lossCount.Add(1)
		return entries.Unpacked{}, false
	}

	out, err := entries.Unpack(buf)
	if err != nil {
		a.lossCount.Add(1)
		return entries.Unpacked{}, false
	}
	return out, true
}
