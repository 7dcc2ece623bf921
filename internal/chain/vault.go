package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// HedgeOrder is the vault's record of the hedge opened for a strategy.
type HedgeOrder struct {
	Executed bool
	Amount   uint64
	Asset    string
	IsLong   bool
}

// StrategyState is the vault's accounting for a strategy.
type StrategyState struct {
	TotalInvested uint64
	Settled       bool
}

// Vault is the on-chain capability used for settlement.
type Vault interface {
	GetHedgeOrder(ctx context.Context, strategyID uint64) (HedgeOrder, error)
	IsOrderExecuted(ctx context.Context, strategyID uint64) (bool, error)
	GetStrategy(ctx context.Context, strategyID uint64) (StrategyState, error)
	// CloseHedgeOrder and SettleStrategy broadcast the write and return its
	// tx hash without waiting for it to be mined.
	CloseHedgeOrder(ctx context.Context, strategyID uint64, realizedPnL int64) (string, error)
	SettleStrategy(ctx context.Context, strategyID uint64, payoutPerUSDC uint64) (string, error)
	// WaitMined blocks until txHash is mined. A failed receipt is a RevertError.
	WaitMined(ctx context.Context, txHash string) error
}

// TxSigner signs transactions on behalf of the coordinator account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// KeySigner is a TxSigner backed by a local private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewKeySigner parses a hex private key for chainID.
func NewKeySigner(privateKeyHex string, chainID int64) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain signer: invalid private key: %w", err)
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey), chainID: big.NewInt(chainID)}, nil
}

// Address returns the sender address.
func (s *KeySigner) Address() common.Address { return s.address }

// SignTx signs a legacy transaction with EIP-155 replay protection.
func (s *KeySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
}

// VaultOptions parameterise the vault client.
type VaultOptions struct {
	Address        string
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	// GasBufferPct is added on top of the gas estimate.
	GasBufferPct uint64
}

// VaultClient implements Vault over JSON-RPC.
type VaultClient struct {
	opts    VaultOptions
	addr    common.Address
	backend BackendSource
	signer  TxSigner
	logger  zerolog.Logger
}

// NewVaultClient builds a vault client. signer may be nil for read-only use.
func NewVaultClient(opts VaultOptions, backend BackendSource, signer TxSigner, logger zerolog.Logger) (*VaultClient, error) {
	if !common.IsHexAddress(opts.Address) {
		return nil, fmt.Errorf("invalid vault address %q", opts.Address)
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.ReceiptPoll <= 0 {
		opts.ReceiptPoll = 2 * time.Second
	}
	if opts.GasBufferPct == 0 {
		opts.GasBufferPct = 20
	}
	return &VaultClient{
		opts:    opts,
		addr:    common.HexToAddress(opts.Address),
		backend: backend,
		signer:  signer,
		logger:  logger.With().Str("component", "vault").Logger(),
	}, nil
}

// GetHedgeOrder reads the hedge record of a strategy.
func (v *VaultClient) GetHedgeOrder(ctx context.Context, strategyID uint64) (HedgeOrder, error) {
	out, err := v.call(ctx, "getHedgeOrder", idArg(strategyID))
	if err != nil {
		return HedgeOrder{}, err
	}
	if len(out) != 4 {
		return HedgeOrder{}, errors.New("unexpected getHedgeOrder response")
	}
	executed, ok1 := out[0].(bool)
	amount, ok2 := out[1].(*big.Int)
	asset, ok3 := out[2].(string)
	isLong, ok4 := out[3].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return HedgeOrder{}, errors.New("failed to decode getHedgeOrder output")
	}
	if !amount.IsUint64() {
		return HedgeOrder{}, fmt.Errorf("hedge amount %s out of range", amount)
	}
	return HedgeOrder{Executed: executed, Amount: amount.Uint64(), Asset: asset, IsLong: isLong}, nil
}

// IsOrderExecuted reports whether the strategy's hedge order has executed.
func (v *VaultClient) IsOrderExecuted(ctx context.Context, strategyID uint64) (bool, error) {
	out, err := v.call(ctx, "isOrderExecuted", idArg(strategyID))
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, errors.New("unexpected isOrderExecuted response")
	}
	executed, ok := out[0].(bool)
	if !ok {
		return false, errors.New("failed to decode isOrderExecuted output")
	}
	return executed, nil
}

// GetStrategy reads the invested total and settled flag.
func (v *VaultClient) GetStrategy(ctx context.Context, strategyID uint64) (StrategyState, error) {
	out, err := v.call(ctx, "getStrategy", idArg(strategyID))
	if err != nil {
		return StrategyState{}, err
	}
	if len(out) != 2 {
		return StrategyState{}, errors.New("unexpected getStrategy response")
	}
	invested, ok1 := out[0].(*big.Int)
	settled, ok2 := out[1].(bool)
	if !ok1 || !ok2 {
		return StrategyState{}, errors.New("failed to decode getStrategy output")
	}
	if !invested.IsUint64() {
		return StrategyState{}, fmt.Errorf("total invested %s out of range", invested)
	}
	return StrategyState{TotalInvested: invested.Uint64(), Settled: settled}, nil
}

// CloseHedgeOrder broadcasts the realized PnL of the hedge.
func (v *VaultClient) CloseHedgeOrder(ctx context.Context, strategyID uint64, realizedPnL int64) (string, error) {
	return v.transact(ctx, "closeHedgeOrder", idArg(strategyID), big.NewInt(realizedPnL))
}

// SettleStrategy broadcasts the final payout factor. A strategy that is already
// settled fails gas estimation with ErrAlreadySettled and nothing is sent.
func (v *VaultClient) SettleStrategy(ctx context.Context, strategyID uint64, payoutPerUSDC uint64) (string, error) {
	return v.transact(ctx, "settleStrategy", idArg(strategyID), new(big.Int).SetUint64(payoutPerUSDC))
}

func (v *VaultClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	payload, err := vaultABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	b, err := v.backend.Backend(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.CallContract(ctx, ethereum.CallMsg{To: &v.addr, Data: payload}, nil)
	if err != nil {
		return nil, classifyRevert(method, err)
	}
	out, err := vaultABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (v *VaultClient) transact(ctx context.Context, method string, args ...any) (string, error) {
	if v.signer == nil {
		return "", fmt.Errorf("%s: no transaction signer configured", method)
	}
	data, err := vaultABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	b, err := v.backend.Backend(ctx)
	if err != nil {
		return "", err
	}

	from := v.signer.Address()
	nonce, err := b.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%s: nonce: %w", method, err)
	}
	gasPrice, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: gas price: %w", method, err)
	}
	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &v.addr, GasPrice: gasPrice, Data: data})
	if err != nil {
		return "", classifyRevert(method, err)
	}
	gas += gas * v.opts.GasBufferPct / 100

	tx := types.NewTransaction(nonce, v.addr, big.NewInt(0), gas, gasPrice, data)
	signed, err := v.signer.SignTx(tx)
	if err != nil {
		return "", fmt.Errorf("%s: sign tx: %w", method, err)
	}
	if err := b.SendTransaction(ctx, signed); err != nil {
		return "", classifyRevert(method, err)
	}

	txHash := signed.Hash().Hex()
	v.logger.Info().Str("method", method).Str("tx_hash", txHash).Uint64("gas", gas).Msg("transaction sent")
	return txHash, nil
}

// WaitMined polls for the receipt of txHash for at most the receipt timeout.
func (v *VaultClient) WaitMined(ctx context.Context, txHash string) error {
	if !isTxHash(txHash) {
		return fmt.Errorf("invalid tx hash %q", txHash)
	}
	b, err := v.backend.Backend(ctx)
	if err != nil {
		return err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, v.opts.ReceiptTimeout)
	defer cancel()
	receipt, err := v.waitForReceipt(receiptCtx, b, common.HexToHash(txHash))
	if err != nil {
		return fmt.Errorf("awaiting receipt for %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return newRevert("transaction", "", txHash, nil)
	}

	v.logger.Info().
		Str("tx_hash", txHash).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("transaction confirmed")
	return nil
}

func isTxHash(h string) bool {
	b, err := hexutil.Decode(h)
	return err == nil && len(b) == common.HashLength
}

// waitForReceipt polls until the transaction is mined or ctx ends.
func (v *VaultClient) waitForReceipt(ctx context.Context, b Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(v.opts.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func idArg(id uint64) *big.Int { return new(big.Int).SetUint64(id) }

var _ Vault = (*VaultClient)(nil)
