package media_engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortPoolSequential(t *testing.T) {
	pool := NewPortPool(10000, 10007, PortAllocationSequential)
	require.Equal(t, 4, pool.Available())

	rtp, rtcp, err := pool.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, 10000, rtp)
	assert.Equal(t, 10001, rtcp)

	rtp2, _, err := pool.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, 10002, rtp2)
	assert.Equal(t, 2, pool.Available())
}

func TestPortPoolExhaustion(t *testing.T) {
	pool := NewPortPool(10000, 10003, PortAllocationSequential)
	_, _, err := pool.AllocatePair()
	require.NoError(t, err)
	_, _, err = pool.AllocatePair()
	require.NoError(t, err)

	_, _, err = pool.AllocatePair()
	assert.Error(t, err)
}

func TestPortPoolRelease(t *testing.T) {
	pool := NewPortPool(10000, 10003, PortAllocationSequential)
	rtp, rtcp, err := pool.AllocatePair()
	require.NoError(t, err)

	pool.ReleasePair(rtp, rtcp)
	assert.Equal(t, 2, pool.Available())

	// Освобожденная пара выделяется снова, в порядке возрастания
	again, _, err := pool.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, rtp, again)
}

func TestPortPoolDoubleReleaseIgnored(t *testing.T) {
	pool := NewPortPool(10000, 10003, PortAllocationSequential)
	rtp, rtcp, err := pool.AllocatePair()
	require.NoError(t, err)

	pool.ReleasePair(rtp, rtcp)
	pool.ReleasePair(rtp, rtcp)
	assert.Equal(t, 2, pool.Available())

	// Чужие порты тоже игнорируются
	pool.ReleasePair(50000, 50001)
	assert.Equal(t, 2, pool.Available())
}

func TestPortPoolRandomStaysInRange(t *testing.T) {
	pool := NewPortPool(20000, 20019, PortAllocationRandom)
	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		rtp, rtcp, err := pool.AllocatePair()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rtp, 20000)
		assert.LessOrEqual(t, rtcp, 20019)
		assert.Equal(t, rtp+1, rtcp)
		assert.Zero(t, rtp%2, "RTP порт должен быть четным")
		assert.False(t, seen[rtp], "порт выделен дважды")
		seen[rtp] = true
	}
	_, _, err := pool.AllocatePair()
	assert.Error(t, err)
}
