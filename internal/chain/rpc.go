package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// HeaderClient is the subset of the Ethereum RPC used for hash lookups.
type HeaderClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// RPCHashSource reads block hashes from an Ethereum node.
type RPCHashSource struct {
	client HeaderClient
}

// DialRPC connects to an Ethereum JSON-RPC endpoint.
func DialRPC(endpoint string) (*RPCHashSource, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("eth rpc endpoint required")
	}
	client, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}
	return NewRPCHashSource(client), nil
}

func NewRPCHashSource(client HeaderClient) *RPCHashSource {
	return &RPCHashSource{client: client}
}

func (s *RPCHashSource) HashForBlock(ctx context.Context, block uint64) (string, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return "", fmt.Errorf("%w: %d", ErrBlockNotMined, block)
		}
		return "", fmt.Errorf("fetch header %d: %w", block, err)
	}
	if header == nil {
		return "", fmt.Errorf("%w: %d", ErrBlockNotMined, block)
	}
	return header.Hash().Hex(), nil
}
