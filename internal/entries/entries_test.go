package entries

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardRoundTrip(t *testing.T) {
	e := StandardEntry{ID: 7, Type: TraceStart, Timestamp: 123456789, Tid: 42, CallID: 9, MatchID: 3, Extra: -99}
	buf := make([]byte, CalculateStandardSize(e))
	n, err := PackStandard(e, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	out, err := Unpack(buf)
	require.NoError(t, err)
	require.NotNil(t, out.Standard)
	require.Equal(t, e, *out.Standard)
}

func TestFramesRoundTrip(t *testing.T) {
	for _, depth := range []int{0, 1, 2, 255} {
		frames := make([]int64, depth)
		for i := range frames {
			frames[i] = int64(i) * 17
		}
		e := FramesEntry{
			StandardEntry: StandardEntry{ID: 1, Type: StackFrame, Timestamp: 1000, Tid: 5},
			Frames:        frames,
		}
		buf := make([]byte, CalculateFramesSize(e))
		n, err := PackFrames(e, buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)

		out, err := Unpack(buf)
		require.NoError(t, err)
		require.NotNil(t, out.Frames)
		require.Equal(t, e.StandardEntry, out.Frames.StandardEntry)
		require.Equal(t, e.Frames, out.Frames.Frames)
	}
}

func TestFramesRejectsOverflow(t *testing.T) {
	frames := make([]int64, MaxFrameDepth+1)
	e := FramesEntry{Frames: frames}
	buf := make([]byte, CalculateFramesSize(e))
	_, err := PackFrames(e, buf)
	require.Error(t, err)
}

func TestBytesRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 58, 1024} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}
		e := BytesEntry{
			StandardEntry: StandardEntry{ID: 2, Type: TraceAnnotation, Timestamp: 55},
			Arg1:          7,
			Bytes:         payload,
		}
		buf := make([]byte, CalculateBytesSize(e))
		n, err := PackBytes(e, buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)

		out, err := Unpack(buf)
		require.NoError(t, err)
		require.NotNil(t, out.Bytes)
		require.Equal(t, e.StandardEntry, out.Bytes.StandardEntry)
		require.Equal(t, e.Arg1, out.Bytes.Arg1)
		require.Equal(t, e.Bytes, out.Bytes.Bytes)
	}
}

func TestBytesRejectsOverflow(t *testing.T) {
	e := BytesEntry{Bytes: make([]byte, MaxBytesLen+1)}
	buf := make([]byte, CalculateBytesSize(e))
	_, err := PackBytes(e, buf)
	require.Error(t, err)
}

func TestDeclaredSizeWaitsForMoreBytes(t *testing.T) {
	e := FramesEntry{Frames: []int64{1, 2, 3}}
	buf := make([]byte, CalculateFramesSize(e))
	_, _ = PackFrames(e, buf)

	// Only the fixed header, no depth byte yet.
	n, err := DeclaredSize(buf[:1+standardFixedSize])
	require.NoError(t, err)
	require.Equal(t, -1, n)

	n, err = DeclaredSize(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
}

func TestDeclaredSizeRejectsCorruptLength(t *testing.T) {
	e := BytesEntry{Bytes: []byte("hi")}
	buf := make([]byte, CalculateBytesSize(e))
	_, _ = PackBytes(e, buf)

	// Corrupt the declared length to something absurd.
	lenOff := 1 + standardFixedSize + 4
	buf[lenOff] = 0xFF
	buf[lenOff+1] = 0xFF

	_, err := DeclaredSize(buf)
	require.Error(t, err)
}

func TestUnpackRejectsLengthMismatch(t *testing.T) {
	e := StandardEntry{ID: 1}
	buf := make([]byte, CalculateStandardSize(e))
	_, _ = PackStandard(e, buf)

	_, err := Unpack(buf[:len(buf)-1])
	require.Error(t, err)
}

func TestUnpackRejectsUnknownTag(t *testing.T) {
	buf := make([]byte, 40)
	buf[0] = 0xEE
	_, err := Unpack(buf)
	require.Error(t, err)
}
