package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PurchaseEvent is a decoded on-chain strategy purchase. NetAmount is the
// USDC base-unit amount available for leg orders after fees.
type PurchaseEvent struct {
	StrategyID  uint64
	User        string
	GrossAmount uint64
	NetAmount   uint64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

// Key identifies the log that produced the event.
func (e PurchaseEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}

// ErrNotPurchase reports a log that does not carry the purchase topic.
var ErrNotPurchase = errors.New("chain: log is not a purchase event")

// DecodePurchase turns a raw log into a PurchaseEvent.
func DecodePurchase(lg types.Log) (PurchaseEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != PurchaseTopic {
		return PurchaseEvent{}, ErrNotPurchase
	}

	var data struct {
		GrossAmount *big.Int
		NetAmount   *big.Int
	}
	if err := vaultABI.UnpackIntoInterface(&data, purchasedEvent, lg.Data); err != nil {
		return PurchaseEvent{}, fmt.Errorf("decode purchase data: %w", err)
	}

	strategyID := new(big.Int).SetBytes(lg.Topics[1].Bytes())
	if !strategyID.IsUint64() {
		return PurchaseEvent{}, fmt.Errorf("strategy id %s out of range", strategyID)
	}
	if data.GrossAmount == nil || data.NetAmount == nil {
		return PurchaseEvent{}, errors.New("decode purchase data: missing amounts")
	}
	if !data.GrossAmount.IsUint64() || !data.NetAmount.IsUint64() {
		return PurchaseEvent{}, fmt.Errorf("purchase amounts out of range (gross %s, net %s)", data.GrossAmount, data.NetAmount)
	}
	if data.NetAmount.Cmp(data.GrossAmount) > 0 {
		return PurchaseEvent{}, fmt.Errorf("net amount %s exceeds gross %s", data.NetAmount, data.GrossAmount)
	}

	return PurchaseEvent{
		StrategyID:  strategyID.Uint64(),
		User:        common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		GrossAmount: data.GrossAmount.Uint64(),
		NetAmount:   data.NetAmount.Uint64(),
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
	}, nil
}

// EncodePurchase builds the log a vault would emit; used by replay fixtures and tests.
func EncodePurchase(ev PurchaseEvent) (types.Log, error) {
	data, err := vaultABI.Events[purchasedEvent].Inputs.NonIndexed().Pack(
		new(big.Int).SetUint64(ev.GrossAmount),
		new(big.Int).SetUint64(ev.NetAmount),
	)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Topics: []common.Hash{
			PurchaseTopic,
			common.BigToHash(new(big.Int).SetUint64(ev.StrategyID)),
			common.BytesToHash(common.HexToAddress(ev.User).Bytes()),
		},
		Data:        data,
		BlockNumber: ev.BlockNumber,
		TxHash:      common.HexToHash(ev.TxHash),
		Index:       ev.LogIndex,
	}, nil
}
