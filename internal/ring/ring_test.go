package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	_, err := New(3)
	require.Error(t, err)
}

func TestClaimPublishRead(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)

	base := b.Claim(2)
	require.EqualValues(t, 0, base)

	p0 := b.SlotFor(base)
	p0.StreamID = base
	p0.Flags = FlagStart
	p0.PayloadLen = 3
	copy(p0.Payload[:], "abc")

	p1 := b.SlotFor(base + 1)
	p1.StreamID = base
	p1.Flags = FlagContinuation
	p1.PayloadLen = 2
	copy(p1.Payload[:], "de")

	b.Publish(base)
	b.Publish(base + 1)

	res := b.Read(0)
	require.True(t, res.Ready)
	require.Zero(t, res.Lost)
	require.EqualValues(t, 1, res.Next)
	require.Equal(t, "abc", string(res.Packet.Payload[:res.Packet.PayloadLen]))
	require.True(t, res.Packet.IsStart())

	res = b.Read(res.Next)
	require.True(t, res.Ready)
	require.EqualValues(t, 2, res.Next)
	require.Equal(t, "de", string(res.Packet.Payload[:res.Packet.PayloadLen]))
	require.True(t, res.Packet.IsContinuation())
}

func TestReadNotYetPublished(t *testing.T) {
	b, err := New(4)
	require.NoError(t, err)

	res := b.Read(0)
	require.False(t, res.Ready)
	require.Zero(t, res.Lost)
	require.EqualValues(t, 0, res.Next)
}

func TestOverwriteDetectedAsLoss(t *testing.T) {
	b, err := New(4)
	require.NoError(t, err)

	// Publish far more entries than the ring holds while "the reader"
	// never advances, forcing overwrite.
	for i := 0; i < 100; i++ {
		c := b.Claim(1)
		b.SlotFor(c).PayloadLen = 0
		b.Publish(c)
	}

	res := b.Read(0)
	require.False(t, res.Ready)
	require.Greater(t, res.Lost, uint64(0))
	require.GreaterOrEqual(t, res.Next, b.ProducerCursor()-b.Capacity())
}

func TestConcurrentProducersClaimDisjointRanges(t *testing.T) {
	b, err := New(1024)
	require.NoError(t, err)

	const producers = 16
	const perProducer = 32

	var mu sync.Mutex
	claimed := make(map[uint64]bool)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				k := 1 + i%3
				base := b.Claim(k)
				mu.Lock()
				for c := base; c < base+uint64(k); c++ {
					require.False(t, claimed[c], "cursor %d claimed twice", c)
					claimed[c] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
