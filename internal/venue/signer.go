package venue

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// OrderRequest is the unsigned economic content of a CLOB order, in base units.
type OrderRequest struct {
	TokenID     string
	Side        Side
	MakerAmount uint64
	TakerAmount uint64
}

// SignedOrder is the order object posted to the CLOB.
type SignedOrder struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// Signer produces venue-verifiable order signatures. Key custody stays behind it.
type Signer interface {
	Address() string
	Sign(req OrderRequest) (SignedOrder, error)
}

// EIP712Signer signs CTF exchange orders with a local EOA key.
type EIP712Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	builder  builder.ExchangeOrderBuilder
	contract gomodel.VerifyingContract
}

// NewEIP712Signer parses a hex private key (with or without 0x) for the given chain.
func NewEIP712Signer(privateKeyHex string, chainID int64, negRisk bool) (*EIP712Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("venue signer: invalid private key: %w", err)
	}
	contract := gomodel.CTFExchange
	if negRisk {
		contract = gomodel.NegRiskCTFExchange
	}
	return &EIP712Signer{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		builder:  builder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), nil),
		contract: contract,
	}, nil
}

// Address returns the maker address.
func (s *EIP712Signer) Address() string { return s.address.Hex() }

// Sign builds and signs a public (zero taker) order.
func (s *EIP712Signer) Sign(req OrderRequest) (SignedOrder, error) {
	side := gomodel.BUY
	if req.Side == SideSell {
		side = gomodel.SELL
	}

	data := &gomodel.OrderData{
		Maker:         s.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   strconv.FormatUint(req.MakerAmount, 10),
		TakerAmount:   strconv.FormatUint(req.TakerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        s.address.Hex(),
		Expiration:    "0",
		Side:          side,
		SignatureType: gomodel.EOA,
	}

	signed, err := s.builder.BuildSignedOrder(s.key, data, s.contract)
	if err != nil {
		return SignedOrder{}, fmt.Errorf("venue signer: build order: %w", err)
	}

	return SignedOrder{
		Salt:          json.Number(signed.Order.Salt.String()),
		Maker:         signed.Order.Maker.Hex(),
		Signer:        signed.Order.Signer.Hex(),
		Taker:         signed.Order.Taker.Hex(),
		TokenID:       req.TokenID,
		MakerAmount:   signed.Order.MakerAmount.String(),
		TakerAmount:   signed.Order.TakerAmount.String(),
		Expiration:    signed.Order.Expiration.String(),
		Nonce:         signed.Order.Nonce.String(),
		FeeRateBps:    signed.Order.FeeRateBps.String(),
		Side:          string(req.Side),
		SignatureType: int(signed.Order.SignatureType.Int64()),
		Signature:     "0x" + hex.EncodeToString(signed.Signature),
	}, nil
}

// tickUnit is one hundredth of an outcome share in base units; the CLOB requires
// makerAmount == price * takerAmount exactly, so sizes are floored to this grid.
const tickUnit = 10_000

// buyOrder prices a BUY spending at most quote USDC at priceBps.
func buyOrder(tokenID string, quote uint64, priceBps uint32) (OrderRequest, error) {
	shares, err := sharesFor(quote, priceBps)
	if err != nil {
		return OrderRequest{}, err
	}
	cents := shares / tickUnit
	return OrderRequest{
		TokenID:     tokenID,
		Side:        SideBuy,
		MakerAmount: cents * uint64(priceBps),
		TakerAmount: cents * tickUnit,
	}, nil
}

// sellOrder prices a SELL of shares at no less than priceBps.
func sellOrder(tokenID string, shares uint64, priceBps uint32) OrderRequest {
	cents := shares / tickUnit
	return OrderRequest{
		TokenID:     tokenID,
		Side:        SideSell,
		MakerAmount: cents * tickUnit,
		TakerAmount: cents * uint64(priceBps),
	}
}
