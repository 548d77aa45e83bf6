// Package chaintest provides an in-memory chain oracle for tests.
package chaintest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sweepstake-bot/internal/chain"
)

// Fake simulates a chain producing one block every BlockTime starting at Genesis.
type Fake struct {
	mu        sync.Mutex
	head      uint64
	blockTime time.Duration
	now       func() time.Time
	hashes    map[uint64]string
	failETA   error
	failHash  error
	etaCalls  int
	hashCalls int
}

func New(head uint64, now func() time.Time) *Fake {
	return &Fake{head: head, blockTime: 12 * time.Second, now: now, hashes: map[uint64]string{}}
}

// SetHead moves the chain tip.
func (f *Fake) SetHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

// SetHash overrides the hash reported for a block.
func (f *Fake) SetHash(block uint64, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[block] = hash
}

// FailWith makes the next lookups fail.
func (f *Fake) FailWith(eta, hash error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failETA, f.failHash = eta, hash
}

// Calls returns how many ETA and hash lookups were served.
func (f *Fake) Calls() (eta, hash int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.etaCalls, f.hashCalls
}

func (f *Fake) ETAForBlock(_ context.Context, block uint64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.etaCalls++
	if f.failETA != nil {
		return time.Time{}, f.failETA
	}
	if block <= f.head {
		return time.Time{}, fmt.Errorf("%w: %d", chain.ErrBlockAlreadyMined, block)
	}
	return f.now().Add(time.Duration(block-f.head) * f.blockTime), nil
}

func (f *Fake) HashForBlock(_ context.Context, block uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashCalls++
	if f.failHash != nil {
		return "", f.failHash
	}
	if block > f.head {
		return "", fmt.Errorf("%w: %d", chain.ErrBlockNotMined, block)
	}
	if h, ok := f.hashes[block]; ok {
		return h, nil
	}
	return fmt.Sprintf("0x%064x", block*0x9e3779b97f4a7c15), nil
}
