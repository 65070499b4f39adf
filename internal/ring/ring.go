// Package ring implements the fixed-capacity, multi-producer
// single-consumer queue of fixed-size packets that underlies the
// tracer's producer path. Producers never block: under load they
// overwrite unread slots, and the single consumer detects the
// overwrite by observing that a slot's sequence number has moved past
// what it expected.
package ring

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// PacketSize is the fixed size, in bytes, of every ring-buffer slot's
// packet payload capacity plus header. It is a compile-time constant.
const PacketSize = 64

// packetHeaderSize is StreamID (8) + Flags (1) + PayloadLen (1).
const packetHeaderSize = 8 + 1 + 1

// PayloadCap is the number of payload bytes a single Packet can carry.
const PayloadCap = PacketSize - packetHeaderSize

// Flag bits set on Packet.Flags.
const (
	FlagStart        uint8 = 1 << 0
	FlagContinuation uint8 = 1 << 1
)

// Packet is a fixed-size ring-buffer slot: a small header plus a
// payload fragment of a (possibly larger) entry.
type Packet struct {
	StreamID   uint64
	Flags      uint8
	PayloadLen uint8
	Payload    [PayloadCap]byte
}

// IsStart reports whether this packet begins a new entry stream.
func (p *Packet) IsStart() bool { return p.Flags&FlagStart != 0 }

// IsContinuation reports whether this packet continues an entry stream.
func (p *Packet) IsContinuation() bool { return p.Flags&FlagContinuation != 0 }

type slot struct {
	// seq is written with release ordering by the claimant on publish,
	// and read with acquire ordering by the reader. A slot at index i
	// starts with seq == i (its own index); it becomes readable once
	// seq == cursor+1 for the cursor that claimed it.
	seq    atomic.Uint64
	packet Packet
}

// Buffer is the bounded MPSC ring producers write to and the single
// consumer reads from.
type Buffer struct {
	slots []slot
	mask  uint64

	// producerCursor is the next cursor to be claimed; producers
	// advance it with a single fetch-add per claim, which is what makes
	// a multi-packet entry's claim atomic with respect to interleaving
	// from other producers.
	producerCursor atomic.Uint64
}

// New creates a Buffer with capacity n, which must be a power of two.
func New(n int) (*Buffer, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, errors.Newf("ring: capacity %d must be a positive power of two", n)
	}
	b := &Buffer{
		slots: make([]slot, n),
		mask:  uint64(n - 1),
	}
	for i := range b.slots {
		b.slots[i].seq.Store(uint64(i))
	}
	return b, nil
}

// Capacity returns the ring's fixed slot count.
func (b *Buffer) Capacity() uint64 { return uint64(len(b.slots)) }

// ProducerCursor returns the current producer cursor. It is racy by
// nature (other producers may advance it concurrently); it exists for
// diagnostics and tests, not for synchronization.
func (b *Buffer) ProducerCursor() uint64 { return b.producerCursor.Load() }

// Claim atomically reserves n contiguous cursor positions and returns
// the first (base) cursor of the reservation. All n positions are
// claimed by the caller alone; no other producer can claim any cursor
// in [base, base+n).
func (b *Buffer) Claim(n int) uint64 {
	return b.producerCursor.Add(uint64(n)) - uint64(n)
}

// SlotFor returns a pointer to the packet storage for cursor, for the
// claimant to fill in before calling Publish. It is only safe to write
// to the returned packet between Claim and the matching Publish call.
func (b *Buffer) SlotFor(cursor uint64) *Packet {
	return &b.slots[cursor&b.mask].packet
}

// Publish makes the packet written at cursor visible to the reader.
// Callers must only call this after the packet's payload bytes are
// fully written; the store uses release ordering so the reader's
// acquire-ordered load is guaranteed to see the payload.
func (b *Buffer) Publish(cursor uint64) {
	b.slots[cursor&b.mask].seq.Store(cursor + 1)
}

// ReadResult is the outcome of a single Read call.
type ReadResult struct {
	// Packet is valid only when Ready is true.
	Packet Packet
	// Next is the cursor the caller should pass to the next Read call.
	Next uint64
	// Lost is the number of cursor positions that were skipped because
	// their slots had already been overwritten. Non-zero only when
	// Ready is false and Next > the cursor passed in.
	Lost uint64
	// Ready reports whether Packet was actually read. False with Lost
	// == 0 means "not published yet, try again later"; false with Lost
	// > 0 means "skipped ahead past a gap, resume at Next".
	Ready bool
}

// Read attempts to read the packet at cursor next. The single consumer
// calls this in a loop, always passing back the Next field of the
// previous result.
func (b *Buffer) Read(next uint64) ReadResult {
	idx := next & b.mask
	seq := b.slots[idx].seq.Load()

	switch {
	case seq < next+1:
		// Not yet published by any producer.
		return ReadResult{Next: next}

	case seq == next+1:
		packet := b.slots[idx].packet
		// A producer can lap the ring and overwrite this slot between the
		// seq check above and the copy just taken; re-check seq before
		// trusting the copy, Disruptor-reader style. Without this a torn
		// or newer packet would be returned as Ready with Lost == 0.
		if b.slots[idx].seq.Load() != seq {
			return b.resync(next)
		}
		return ReadResult{Packet: packet, Next: next + 1, Ready: true}

	default:
		// seq > next+1: a producer has already overwritten this slot at
		// least once since we expected to read it.
		return b.resync(next)
	}
}

// resync recovers from a detected overwrite at cursor next by skipping
// ahead to the current producer position minus capacity, reporting the
// skipped span as loss.
func (b *Buffer) resync(next uint64) ReadResult {
	prod := b.producerCursor.Load()
	resync := uint64(0)
	if prod > b.Capacity() {
		resync = prod - b.Capacity()
	}
	if resync <= next {
		// The producer hasn't actually lapped us after all (stale read of
		// producerCursor); just retry at the same spot.
		return ReadResult{Next: next}
	}
	return ReadResult{Next: resync, Lost: resync - next}
}
