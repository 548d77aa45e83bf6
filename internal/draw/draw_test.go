package draw

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectWinningTicketsDeterministic(t *testing.T) {
	seed := []byte("0xabc123")
	first, err := SelectWinningTickets(seed, 1, 10, 1)
	require.NoError(t, err)
	second, err := SelectWinningTickets(seed, 1, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSelectWinningTicketsDistinctAndInRange(t *testing.T) {
	seed := []byte("block")
	got, err := SelectWinningTickets(seed, 10000, 99000, 25)
	require.NoError(t, err)
	require.Len(t, got, 25)
	seen := map[int64]bool{}
	for i, n := range got {
		assert.GreaterOrEqual(t, n, int64(10000))
		assert.LessOrEqual(t, n, int64(99000))
		assert.False(t, seen[n], "duplicate %d", n)
		seen[n] = true
		if i > 0 {
			assert.Less(t, got[i-1], n)
		}
	}
}

func TestSelectWinningTicketsWholeRange(t *testing.T) {
	got, err := SelectWinningTickets([]byte("all"), 3, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5, 6, 7}, got)
}

func TestSelectWinningTicketsRoughlyUniform(t *testing.T) {
	const trials = 20000
	counts := make(map[int64]int)
	seed := make([]byte, 8)
	for i := 0; i < trials; i++ {
		binary.BigEndian.PutUint64(seed, uint64(i))
		got, err := SelectWinningTickets(seed, 1, 10, 1)
		require.NoError(t, err)
		counts[got[0]]++
	}
	require.Len(t, counts, 10)
	for n, c := range counts {
		// expected 2000 per bucket; the bound is several standard deviations wide
		assert.InDelta(t, trials/10, c, 300, "number %d drawn %d times", n, c)
	}
}

func TestSelectWinningTicketsErrors(t *testing.T) {
	_, err := SelectWinningTickets([]byte("s"), 1, 3, 4)
	assert.ErrorIs(t, err, ErrRangeTooSmall)
	_, err = SelectWinningTickets([]byte("s"), 5, 4, 1)
	assert.ErrorIs(t, err, ErrRangeTooSmall)
	_, err = SelectWinningTickets([]byte("s"), 1, 3, 0)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestSelectWinningTicketsGuaranteedFewCandidates(t *testing.T) {
	got, err := SelectWinningTicketsGuaranteed([]byte("seed"), []int64{9, 5, 7}, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7, 9}, got)
}

func TestSelectWinningTicketsGuaranteedPicksFromCandidates(t *testing.T) {
	candidates := []int64{11, 42, 42, 300, 7, 19, 23}
	got, err := SelectWinningTicketsGuaranteed([]byte("seed"), candidates, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0], got[1])
	for _, n := range got {
		assert.Contains(t, candidates, n)
	}

	again, err := SelectWinningTicketsGuaranteed([]byte("seed"), candidates, 2)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, []int64{11, 42, 42, 300, 7, 19, 23}, candidates, "input must not be reordered")
}

func TestSeedFromHash(t *testing.T) {
	hash := "0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"
	seed, err := SeedFromHash(hash)
	require.NoError(t, err)
	assert.Len(t, seed, 32)
	assert.Equal(t, byte(0x88), seed[0])

	_, err = SeedFromHash("0x1234")
	assert.ErrorIs(t, err, ErrInvalidSeed)
	_, err = SeedFromHash("zz")
	assert.ErrorIs(t, err, ErrInvalidSeed)
}
