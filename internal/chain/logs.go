package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogBatch is the result of one range query. NextBlock is where the following
// query starts.
type LogBatch struct {
	From      uint64
	To        uint64
	Logs      []types.Log
	NextBlock uint64
}

// LogSource returns purchase logs in contiguous block ranges.
type LogSource interface {
	QueryLogs(ctx context.Context, from, batchSize uint64) (LogBatch, error)
	Head(ctx context.Context) (uint64, error)
}

// LogSourceOptions parameterise the RPC log source.
type LogSourceOptions struct {
	VaultAddress  string
	Confirmations uint64
}

// RPCLogSource queries vault purchase logs over JSON-RPC.
type RPCLogSource struct {
	opts    LogSourceOptions
	backend BackendSource
	vault   common.Address
}

// NewRPCLogSource validates the vault address and builds a log source.
func NewRPCLogSource(opts LogSourceOptions, backend BackendSource) (*RPCLogSource, error) {
	if !common.IsHexAddress(opts.VaultAddress) {
		return nil, fmt.Errorf("invalid vault address %q", opts.VaultAddress)
	}
	return &RPCLogSource{opts: opts, backend: backend, vault: common.HexToAddress(opts.VaultAddress)}, nil
}

// Head returns the newest block considered final enough to scan.
func (s *RPCLogSource) Head(ctx context.Context) (uint64, error) {
	b, err := s.backend.Backend(ctx)
	if err != nil {
		return 0, err
	}
	head, err := b.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	if head < s.opts.Confirmations {
		return 0, nil
	}
	return head - s.opts.Confirmations, nil
}

// QueryLogs fetches purchase logs in [from, from+batchSize], clamped to the
// scannable head. When from is past the head the batch is empty and
// NextBlock stays at from.
func (s *RPCLogSource) QueryLogs(ctx context.Context, from, batchSize uint64) (LogBatch, error) {
	head, err := s.Head(ctx)
	if err != nil {
		return LogBatch{}, err
	}
	if from > head {
		return LogBatch{From: from, To: from, NextBlock: from}, nil
	}
	to := from + batchSize
	if to < from || to > head {
		to = head
	}

	b, err := s.backend.Backend(ctx)
	if err != nil {
		return LogBatch{}, err
	}
	logs, err := b.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.vault},
		Topics:    [][]common.Hash{{PurchaseTopic}},
	})
	if err != nil {
		return LogBatch{}, fmt.Errorf("filter logs [%d, %d]: %w", from, to, err)
	}

	kept := logs[:0]
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		kept = append(kept, lg)
	}
	return LogBatch{From: from, To: to, Logs: kept, NextBlock: to + 1}, nil
}
