// Package entries defines the tagged-union entry shapes the tracer's
// producer API writes and the consumer-side codec that packs and unpacks
// them onto byte runs split across packets.
package entries

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// EntryType tags the kind of event a StandardEntry carries. Values below
// FirstUserType are reserved for the core; instrumented call sites may
// define their own types starting at FirstUserType.
type EntryType uint8

const (
	StackFrame EntryType = iota
	TraceStart
	TraceEnd
	TraceAbort
	TraceTimeout
	TraceBackwards
	TraceAnnotation

	// FirstUserType is the first value available to instrumented call
	// sites for their own entry types.
	FirstUserType EntryType = 64
)

// Sentinel entry IDs. An entry must never be published carrying either
// value; the ID allocator skips both when assigning IDs.
const (
	TracingDisabled int32 = -1
	NoMatch         int32 = 0
)

// MaxFrameDepth bounds FramesEntry.Frames; the depth is length-prefixed
// by a single byte, so it can never exceed 255.
const MaxFrameDepth = 255

// MaxBytesLen bounds BytesEntry.Bytes.
const MaxBytesLen = 1024

// shape tags the wire encoding of an entry. It is the first byte of
// every packed entry.
type shape uint8

const (
	shapeStandard shape = iota
	shapeFrames
	shapeBytes
)

// standardFixedSize is the encoded size of every StandardEntry field,
// excluding the leading shape tag.
const standardFixedSize = 4 + 1 + 8 + 4 + 4 + 4 + 8 // id,type,ts,tid,callid,matchid,extra

// StandardEntry is the common header shared by every entry shape.
type StandardEntry struct {
	ID        int32
	Type      EntryType
	Timestamp int64
	Tid       int32
	CallID    int32
	MatchID   int32
	Extra     int64
}

// FramesEntry is a StandardEntry plus a bounded sequence of stack frame
// addresses.
type FramesEntry struct {
	StandardEntry
	Frames []int64
}

// BytesEntry is a StandardEntry plus an opaque, bounded byte payload.
type BytesEntry struct {
	StandardEntry
	Arg1  int32
	Bytes []byte
}

// CalculateStandardSize returns the exact encoded size of a StandardEntry.
func CalculateStandardSize(StandardEntry) int {
	return 1 + standardFixedSize
}

// CalculateFramesSize returns the exact encoded size of a FramesEntry.
func CalculateFramesSize(e FramesEntry) int {
	return 1 + standardFixedSize + 1 + len(e.Frames)*8
}

// CalculateBytesSize returns the exact encoded size of a BytesEntry.
func CalculateBytesSize(e BytesEntry) int {
	return 1 + standardFixedSize + 4 + 2 + len(e.Bytes)
}

func putStandard(out []byte, e StandardEntry) int {
	off := 0
	binary.LittleEndian.PutUint32(out[off:], uint32(e.ID))
	off += 4
	out[off] = byte(e.Type)
	off++
	binary.LittleEndian.PutUint64(out[off:], uint64(e.Timestamp))
	off += 8
	binary.LittleEndian.PutUint32(out[off:], uint32(e.Tid))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(e.CallID))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(e.MatchID))
	off += 4
	binary.LittleEndian.PutUint64(out[off:], uint64(e.Extra))
	off += 8
	return off
}

func getStandard(in []byte) (StandardEntry, int, error) {
	if len(in) < standardFixedSize {
		return StandardEntry{}, 0, errors.Newf("entries: truncated standard header, have %d bytes need %d", len(in), standardFixedSize)
	}
	var e StandardEntry
	off := 0
	e.ID = int32(binary.LittleEndian.Uint32(in[off:]))
	off += 4
	e.Type = EntryType(in[off])
	off++
	e.Timestamp = int64(binary.LittleEndian.Uint64(in[off:]))
	off += 8
	e.Tid = int32(binary.LittleEndian.Uint32(in[off:]))
	off += 4
	e.CallID = int32(binary.LittleEndian.Uint32(in[off:]))
	off += 4
	e.MatchID = int32(binary.LittleEndian.Uint32(in[off:]))
	off += 4
	e.Extra = int64(binary.LittleEndian.Uint64(in[off:]))
	off += 8
	return e, off, nil
}

// PackStandard writes e's tag and fields into out, which must be at
// least CalculateStandardSize(e) bytes.
func PackStandard(e StandardEntry, out []byte) (int, error) {
	n := CalculateStandardSize(e)
	if len(out) < n {
		return 0, errors.Newf("entries: output buffer too small, have %d need %d", len(out), n)
	}
	out[0] = byte(shapeStandard)
	putStandard(out[1:], e)
	return n, nil
}

// PackFrames writes e's tag and fields into out, which must be at least
// CalculateFramesSize(e) bytes. Depth is rejected above MaxFrameDepth.
func PackFrames(e FramesEntry, out []byte) (int, error) {
	if len(e.Frames) > MaxFrameDepth {
		return 0, errors.Newf("entries: frame depth %d exceeds max %d", len(e.Frames), MaxFrameDepth)
	}
	n := CalculateFramesSize(e)
	if len(out) < n {
		return 0, errors.Newf("entries: output buffer too small, have %d need %d", len(out), n)
	}
	out[0] = byte(shapeFrames)
	off := 1 + putStandard(out[1:], e.StandardEntry)
	out[off] = byte(len(e.Frames))
	off++
	for _, f := range e.Frames {
		binary.LittleEndian.PutUint64(out[off:], uint64(f))
		off += 8
	}
	return n, nil
}

// PackBytes writes e's tag and fields into out, which must be at least
// CalculateBytesSize(e) bytes. The payload is rejected above MaxBytesLen.
func PackBytes(e BytesEntry, out []byte) (int, error) {
	if len(e.Bytes) > MaxBytesLen {
		return 0, errors.Newf("entries: byte payload %d exceeds max %d", len(e.Bytes), MaxBytesLen)
	}
	n := CalculateBytesSize(e)
	if len(out) < n {
		return 0, errors.Newf("entries: output buffer too small, have %d need %d", len(out), n)
	}
	out[0] = byte(shapeBytes)
	off := 1 + putStandard(out[1:], e.StandardEntry)
	binary.LittleEndian.PutUint32(out[off:], uint32(e.Arg1))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(len(e.Bytes)))
	off += 2
	copy(out[off:], e.Bytes)
	off += len(e.Bytes)
	return n, nil
}

// DeclaredSize inspects the tag byte and (when present) the
// length-prefix fields of a packed entry and returns the total number
// of bytes the entry claims to occupy, without requiring the full entry
// to be present yet. It returns -1 and a nil error if in is too short
// to contain the length prefix yet, and an error if the shape tag is
// unknown or the declared bytes length exceeds MaxBytesLen (corrupt
// stream).
func DeclaredSize(in []byte) (int, error) {
	if len(in) < 1+standardFixedSize {
		// Not even the fixed header is available yet; caller should wait
		// for more bytes before calling DeclaredSize again.
		return -1, nil
	}
	switch shape(in[0]) {
	case shapeStandard:
		return 1 + standardFixedSize, nil
	case shapeFrames:
		if len(in) < 1+standardFixedSize+1 {
			return -1, nil
		}
		depth := int(in[1+standardFixedSize])
		return 1 + standardFixedSize + 1 + depth*8, nil
	case shapeBytes:
		if len(in) < 1+standardFixedSize+4+2 {
			return -1, nil
		}
		blen := int(binary.LittleEndian.Uint16(in[1+standardFixedSize+4:]))
		if blen > MaxBytesLen {
			return 0, errors.Newf("entries: corrupt stream, declared bytes length %d exceeds max %d", blen, MaxBytesLen)
		}
		return 1 + standardFixedSize + 4 + 2 + blen, nil
	default:
		return 0, errors.Newf("entries: corrupt stream, unknown shape tag %d", in[0])
	}
}

// Unpacked is the result of Unpack: exactly one of Standard, Frames or
// Bytes is non-nil depending on the entry's shape.
type Unpacked struct {
	Standard *StandardEntry
	Frames   *FramesEntry
	Bytes    *BytesEntry
}

// Unpack decodes a single complete entry from in. in must be exactly
// the declared size returned by DeclaredSize; any mismatch is reported
// as a corrupt-entry error rather than silently truncating the result.
func Unpack(in []byte) (Unpacked, error) {
	if len(in) < 1 {
		return Unpacked{}, errors.New("entries: empty input")
	}
	switch shape(in[0]) {
	case shapeStandard:
		std, n, err := getStandard(in[1:])
		if err != nil {
			return Unpacked{}, err
		}
		if 1+n != len(in) {
			return Unpacked{}, errors.Newf("entries: standard entry length mismatch, got %d want %d", len(in), 1+n)
		}
		return Unpacked{Standard: &std}, nil

	case shapeFrames:
		std, n, err := getStandard(in[1:])
		if err != nil {
			return Unpacked{}, err
		}
		off := 1 + n
		if off >= len(in) {
			return Unpacked{}, errors.New("entries: truncated frames entry, missing depth byte")
		}
		depth := int(in[off])
		off++
		if off+depth*8 != len(in) {
			return Unpacked{}, errors.Newf("entries: frames entry length mismatch, got %d want %d", len(in), off+depth*8)
		}
		frames := make([]int64, depth)
		for i := 0; i < depth; i++ {
			frames[i] = int64(binary.LittleEndian.Uint64(in[off:]))
			off += 8
		}
		return Unpacked{Frames: &FramesEntry{StandardEntry: std, Frames: frames}}, nil

	case shapeBytes:
		std, n, err := getStandard(in[1:])
		if err != nil {
			return Unpacked{}, err
		}
		off := 1 + n
		if off+4+2 > len(in) {
			return Unpacked{}, errors.New("entries: truncated bytes entry header")
		}
		arg1 := int32(binary.LittleEndian.Uint32(in[off:]))
		off += 4
		blen := int(binary.LittleEndian.Uint16(in[off:]))
		off += 2
		if blen > MaxBytesLen {
			return Unpacked{}, errors.Newf("entries: corrupt stream, declared bytes length %d exceeds max %d", blen, MaxBytesLen)
		}
		if off+blen != len(in) {
			return Unpacked{}, errors.Newf("entries: bytes entry length mismatch, got %d want %d", len(in), off+blen)
		}
		payload := make([]byte, blen)
		copy(payload, in[off:])
		return Unpacked{Bytes: &BytesEntry{StandardEntry: std, Arg1: arg1, Bytes: payload}}, nil

	default:
		return Unpacked{}, errors.Newf("entries: corrupt stream, unknown shape tag %d", in[0])
	}
}
