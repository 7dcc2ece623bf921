package venue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEIP712SignerSignsOrder(t *testing.T) {
	s, err := NewEIP712Signer(testKey, 137, false)
	require.NoError(t, err)

	order, err := s.Sign(sellOrder("12345", 5_000_000, 4200))
	require.NoError(t, err)

	assert.Equal(t, s.Address(), order.Maker)
	assert.Equal(t, s.Address(), order.Signer)
	assert.Equal(t, "SELL", order.Side)
	assert.Equal(t, "5000000", order.MakerAmount)
	assert.Equal(t, "2100000", order.TakerAmount)
	assert.True(t, strings.HasPrefix(order.Signature, "0x"))
	assert.Len(t, order.Signature, 2+65*2)
}

func TestEIP712SignerRejectsBadKey(t *testing.T) {
	_, err := NewEIP712Signer("not-a-key", 137, false)
	assert.Error(t, err)
}

func TestOrderAmountsStayOnTickGrid(t *testing.T) {
	req, err := buyOrder("t", 1_000_000, 3333)
	require.NoError(t, err)
	assert.Zero(t, req.TakerAmount%tickUnit)
	assert.Equal(t, req.TakerAmount/tickUnit*3333, req.MakerAmount)
	assert.LessOrEqual(t, req.MakerAmount, uint64(1_000_000))

	sell := sellOrder("t", 12_345, 5000)
	assert.Equal(t, uint64(10_000), sell.MakerAmount)
	assert.Equal(t, uint64(5000), sell.TakerAmount)
}
