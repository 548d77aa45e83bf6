// Package draw selects winning ticket numbers from a public seed.
//
// The seed is the strike block hash. It is stretched with SHA-256 into a ChaCha8
// key, so anyone holding the hash can rerun the draw and get the same numbers.
package draw

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

var (
	// ErrRangeTooSmall is returned when more winners are requested than numbers exist.
	ErrRangeTooSmall = errors.New("draw: range too small for requested winners")
	// ErrInvalidCount is returned for a non-positive winner count.
	ErrInvalidCount = errors.New("draw: winner count must be positive")
	// ErrInvalidSeed is returned when a block hash cannot be decoded.
	ErrInvalidSeed = errors.New("draw: invalid seed")
)

func newRand(seed []byte) *rand.Rand {
	key := sha256.Sum256(seed)
	return rand.New(rand.NewChaCha8(key))
}

// SelectWinningTickets draws count distinct numbers from [min, max], sorted ascending.
func SelectWinningTickets(seed []byte, min, max int64, count int) ([]int64, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	if max < min {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrRangeTooSmall, min, max)
	}
	size := uint64(max-min) + 1
	if uint64(count) > size {
		return nil, fmt.Errorf("%w: %d winners from %d numbers", ErrRangeTooSmall, count, size)
	}

	// Partial Fisher-Yates over the virtual array [0, size); swapped holds only
	// the positions that moved.
	r := newRand(seed)
	swapped := make(map[uint64]uint64, count)
	at := func(i uint64) uint64 {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int64, 0, count)
	for i := uint64(0); i < uint64(count); i++ {
		j := i + r.Uint64N(size-i)
		vi, vj := at(i), at(j)
		swapped[i], swapped[j] = vj, vi
		out = append(out, min+int64(vj))
	}
	slices.Sort(out)
	return out, nil
}

// SelectWinningTicketsGuaranteed draws count winners among the sold numbers.
// With fewer distinct candidates than count every candidate wins.
func SelectWinningTicketsGuaranteed(seed []byte, candidates []int64, count int) ([]int64, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	pool := slices.Clone(candidates)
	slices.Sort(pool)
	pool = slices.Compact(pool)
	if len(pool) <= count {
		return pool, nil
	}

	r := newRand(seed)
	for i := 0; i < count; i++ {
		j := i + r.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	out := pool[:count]
	slices.Sort(out)
	return out, nil
}

// SeedFromHash decodes a 0x-prefixed 32-byte block hash into seed bytes.
func SeedFromHash(hash string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hash)), "0x")
	seed, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidSeed, len(seed))
	}
	return seed, nil
}
