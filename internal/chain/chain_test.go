package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVault = "0x00000000000000000000000000000000000000f1"
	testUser  = "0x00000000000000000000000000000000000000a1"
	testKey   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type fakeBackend struct {
	mu sync.Mutex

	head       uint64
	logs       []types.Log
	lastFilter ethereum.FilterQuery

	callResults map[string][]byte
	callErr     error

	estimateErr error
	receipt     *types.Receipt
	sent        []*types.Transaction
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastFilter = q
	return f.logs, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := vaultABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	return f.callResults[method.Name], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(30e9), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string  { return e.msg }
func (e dataError) ErrorData() any { return e.data }

func packOutputs(t *testing.T, method string, values ...any) []byte {
	t.Helper()
	out, err := vaultABI.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func newTestVault(t *testing.T, b *fakeBackend) *VaultClient {
	t.Helper()
	signer, err := NewKeySigner(testKey, 137)
	require.NoError(t, err)
	v, err := NewVaultClient(VaultOptions{Address: testVault, ReceiptPoll: time.Millisecond, ReceiptTimeout: time.Second}, Static{B: b}, signer, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestPurchaseRoundTrip(t *testing.T) {
	ev := PurchaseEvent{
		StrategyID:  42,
		User:        common.HexToAddress(testUser).Hex(),
		GrossAmount: 200_000_000,
		NetAmount:   196_000_000,
		BlockNumber: 1234,
		TxHash:      common.HexToHash("0xbeef").Hex(),
		LogIndex:    3,
	}
	lg, err := EncodePurchase(ev)
	require.NoError(t, err)

	got, err := DecodePurchase(lg)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Equal(t, ev.TxHash+":3", got.Key())
}

func TestDecodePurchaseRejectsForeignLogs(t *testing.T) {
	_, err := DecodePurchase(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.ErrorIs(t, err, ErrNotPurchase)

	lg, err := EncodePurchase(PurchaseEvent{StrategyID: 1, GrossAmount: 1, NetAmount: 2})
	require.NoError(t, err)
	_, err = DecodePurchase(lg)
	assert.Error(t, err)
}

func TestQueryLogsClampsToHead(t *testing.T) {
	lg, err := EncodePurchase(PurchaseEvent{StrategyID: 1, GrossAmount: 10, NetAmount: 9, BlockNumber: 105})
	require.NoError(t, err)
	removed := lg
	removed.Removed = true

	b := &fakeBackend{head: 110, logs: []types.Log{lg, removed}}
	src, err := NewRPCLogSource(LogSourceOptions{VaultAddress: testVault, Confirmations: 2}, Static{B: b})
	require.NoError(t, err)

	batch, err := src.QueryLogs(context.Background(), 100, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(108), batch.To)
	assert.Equal(t, uint64(109), batch.NextBlock)
	assert.Len(t, batch.Logs, 1)
	assert.Equal(t, big.NewInt(100), b.lastFilter.FromBlock)
	assert.Equal(t, PurchaseTopic, b.lastFilter.Topics[0][0])

	batch, err = src.QueryLogs(context.Background(), 200, 50)
	require.NoError(t, err)
	assert.Empty(t, batch.Logs)
	assert.Equal(t, uint64(200), batch.NextBlock)
}

func TestVaultReads(t *testing.T) {
	b := &fakeBackend{callResults: map[string][]byte{
		"getHedgeOrder":   packOutputs(t, "getHedgeOrder", true, big.NewInt(10_000_000), "BTC", false),
		"isOrderExecuted": packOutputs(t, "isOrderExecuted", true),
		"getStrategy":     packOutputs(t, "getStrategy", big.NewInt(196_000_000), false),
	}}
	v := newTestVault(t, b)

	hedge, err := v.GetHedgeOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, HedgeOrder{Executed: true, Amount: 10_000_000, Asset: "BTC"}, hedge)

	executed, err := v.IsOrderExecuted(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, executed)

	state, err := v.GetStrategy(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(196_000_000), state.TotalInvested)
	assert.False(t, state.Settled)
}

func TestVaultReadRevertIsClassified(t *testing.T) {
	b := &fakeBackend{callErr: errors.New("execution reverted: asset not supported")}
	_, err := newTestVault(t, b).GetHedgeOrder(context.Background(), 1)
	assert.ErrorIs(t, err, ErrReverted)
	assert.ErrorIs(t, err, ErrAssetNotSupported)
}

func TestSettleStrategySendsTransaction(t *testing.T) {
	b := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9), GasUsed: 80_000}}
	v := newTestVault(t, b)

	hash, err := v.SettleStrategy(context.Background(), 5, 1_050_000)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, common.HexToAddress(testVault), *tx.To())

	method, err := vaultABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), args[0])
	assert.Equal(t, big.NewInt(1_050_000), args[1])
}

func TestCloseHedgeOrderEncodesNegativePnL(t *testing.T) {
	b := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9)}}
	_, err := newTestVault(t, b).CloseHedgeOrder(context.Background(), 5, -2_500_000)
	require.NoError(t, err)

	args, err := vaultABI.Methods["closeHedgeOrder"].Inputs.Unpack(b.sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-2_500_000), args[1])
}

func TestSettleStrategyAlreadySettled(t *testing.T) {
	selector := vaultABI.Errors["AlreadySettled"].ID.Bytes()[:4]
	b := &fakeBackend{estimateErr: dataError{msg: "execution reverted", data: hexutil.Encode(selector)}}

	_, err := newTestVault(t, b).SettleStrategy(context.Background(), 5, 1)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	var revert *RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, "settleStrategy", revert.Method)
	assert.Equal(t, "AlreadySettled", revert.Reason)
	assert.Empty(t, b.sent)
}

func TestFailedReceiptIsRevert(t *testing.T) {
	b := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9)}}
	v := newTestVault(t, b)
	hash, err := v.CloseHedgeOrder(context.Background(), 5, 0)
	require.NoError(t, err)

	err = v.WaitMined(context.Background(), hash)
	assert.ErrorIs(t, err, ErrReverted)
	var revert *RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, hash, revert.TxHash)
}

func TestBroadcastDoesNotWaitForReceipt(t *testing.T) {
	b := &fakeBackend{}
	v := newTestVault(t, b)

	hash, err := v.SettleStrategy(context.Background(), 5, 1_050_000)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, b.sent[0].Hash().Hex(), hash)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = v.WaitMined(ctx, hash)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, b.sent, 1)

	b.mu.Lock()
	b.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
	b.mu.Unlock()
	assert.NoError(t, v.WaitMined(context.Background(), hash))
}

func TestWaitMinedRejectsMalformedHash(t *testing.T) {
	assert.Error(t, newTestVault(t, &fakeBackend{}).WaitMined(context.Background(), "0xhedge"))
}

func TestRevertReasonFromMessage(t *testing.T) {
	err := classifyRevert("settleStrategy", errors.New("execution reverted: Strategy already settled"))
	assert.ErrorIs(t, err, ErrAlreadySettled)

	err = classifyRevert("settleStrategy", errors.New("connection refused"))
	assert.NotErrorIs(t, err, ErrReverted)
}
