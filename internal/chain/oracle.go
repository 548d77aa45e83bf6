// Package chain resolves Ethereum block numbers to estimated times and hashes.
package chain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBlockAlreadyMined is returned by ETAForBlock for blocks in the past.
	ErrBlockAlreadyMined = errors.New("chain: block already mined")
	// ErrBlockNotMined is returned by HashForBlock for blocks not yet produced.
	ErrBlockNotMined = errors.New("chain: block not mined yet")
)

// Oracle is the chain data the lottery core depends on.
type Oracle interface {
	// ETAForBlock estimates when block will be mined.
	ETAForBlock(ctx context.Context, block uint64) (time.Time, error)
	// HashForBlock returns the 0x-prefixed canonical hash of a mined block.
	HashForBlock(ctx context.Context, block uint64) (string, error)
}

// BlockConfirmed reports whether block has at least confirmations blocks on top
// of it: the block at that offset being already mined is the signal.
func BlockConfirmed(ctx context.Context, o Oracle, block, confirmations uint64) (bool, error) {
	_, err := o.ETAForBlock(ctx, block+confirmations)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrBlockAlreadyMined) {
		return true, nil
	}
	return false, err
}

// HashSource looks up block hashes.
type HashSource interface {
	HashForBlock(ctx context.Context, block uint64) (string, error)
}

// Composite takes ETAs from one provider and hashes from another.
type Composite struct {
	ETA interface {
		ETAForBlock(ctx context.Context, block uint64) (time.Time, error)
	}
	Hashes HashSource
}

func (c Composite) ETAForBlock(ctx context.Context, block uint64) (time.Time, error) {
	return c.ETA.ETAForBlock(ctx, block)
}

func (c Composite) HashForBlock(ctx context.Context, block uint64) (string, error) {
	return c.Hashes.HashForBlock(ctx, block)
}
