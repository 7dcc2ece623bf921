package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-coordinator/internal/retry"
)

type fakeSigner struct{ last OrderRequest }

func (f *fakeSigner) Address() string { return "0x00000000000000000000000000000000000000aa" }

func (f *fakeSigner) Sign(req OrderRequest) (SignedOrder, error) {
	f.last = req
	return SignedOrder{
		Salt:        "1",
		Maker:       f.Address(),
		Signer:      f.Address(),
		Taker:       zeroAddress,
		TokenID:     req.TokenID,
		MakerAmount: strconv.FormatUint(req.MakerAmount, 10),
		TakerAmount: strconv.FormatUint(req.TakerAmount, 10),
		Side:        string(req.Side),
		Signature:   "0xsig",
	}, nil
}

func newHTTPClient(t *testing.T, srv *httptest.Server, signer Signer) *Client {
	t.Helper()
	return NewClient(ClientOptions{
		CLOBURL:  srv.URL,
		GammaURL: srv.URL,
		Timeout:  time.Second,
		Credentials: Credentials{
			APIKey:     "key-1",
			Secret:     "c2VjcmV0",
			Passphrase: "pass",
		},
	}, signer, zerolog.Nop())
}

func TestPlaceFOKPostsSignedOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, orderPath, r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.NotEmpty(t, r.Header.Get("POLY_TIMESTAMP"))

		var body orderEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "FOK", body.OrderType)
		assert.Equal(t, "key-1", body.Owner)
		assert.Equal(t, "BUY", body.Order.Side)

		_ = json.NewEncoder(w).Encode(orderResponse{Success: true, OrderID: "0xorder", Status: "matched"})
	}))
	defer srv.Close()

	signer := &fakeSigner{}
	c := newHTTPClient(t, srv, signer)

	res, err := c.PlaceFOK(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, res.Status)
	assert.Equal(t, "0xorder", res.OrderID)

	// 196 USDC at 0.65 buys 301.53 shares on the cent grid.
	assert.Equal(t, uint64(301_530_000), signer.last.TakerAmount)
	assert.Equal(t, uint64(195_994_500), signer.last.MakerAmount)
}

func TestPlaceFOKClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":"down"}`, KindTransient},
		{"throttled", http.StatusTooManyRequests, ``, KindTransient},
		{"unauthorized", http.StatusUnauthorized, `{"error":"Unauthorized/Invalid api key"}`, KindRejected},
		{"bad signature", http.StatusBadRequest, `{"error":"invalid signature"}`, KindRejected},
		{"killed", http.StatusBadRequest, `{"error":"order couldn't be fully filled. FOK orders are fully filled or killed."}`, KindUnfilled},
		{"bad amount", http.StatusBadRequest, `{"error":"invalid amount for a marketable BUY order"}`, KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newHTTPClient(t, srv, &fakeSigner{}).PlaceFOK(context.Background(), testIntent())
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestPlaceFOKUnsuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orderResponse{Success: false, ErrorMsg: "not enough balance / allowance"})
	}))
	defer srv.Close()

	_, err := newHTTPClient(t, srv, &fakeSigner{}).PlaceFOK(context.Background(), testIntent())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestPlaceFOKValidatesBeforeNetwork(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	intent := testIntent()
	intent.TokenID = ""
	_, err := newHTTPClient(t, srv, &fakeSigner{}).PlaceFOK(context.Background(), intent)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, hits)
}

func TestClosePositionSellsBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case balancePath:
			assert.Equal(t, "CONDITIONAL", r.URL.Query().Get("asset_type"))
			assert.Equal(t, "t1", r.URL.Query().Get("token_id"))
			_ = json.NewEncoder(w).Encode(balanceResponse{Balance: "301530000"})
		case orderPath:
			var body orderEnvelope
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "SELL", body.Order.Side)
			_ = json.NewEncoder(w).Encode(orderResponse{Success: true, OrderID: "0xclose", Status: "matched", TakingAmount: "301.53"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	payout, err := newHTTPClient(t, srv, &fakeSigner{}).ClosePosition(context.Background(), "t1", SideBuy, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(301_530_000), payout)
}

func TestClosePositionWithoutTakingAmountIsNotRetried(t *testing.T) {
	for name, taking := range map[string]string{"missing": "", "unreadable": "n/a"} {
		t.Run(name, func(t *testing.T) {
			var posts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case balancePath:
					_ = json.NewEncoder(w).Encode(balanceResponse{Balance: "300000000"})
				case orderPath:
					posts.Add(1)
					_ = json.NewEncoder(w).Encode(orderResponse{Success: true, OrderID: "0xclose", Status: "matched", TakingAmount: taking})
				}
			}))
			defer srv.Close()

			orders := NewOrderClient(newHTTPClient(t, srv, &fakeSigner{}), OrderClientOptions{
				Concurrency: 1,
				Retry:       retry.Policy{Attempts: 3},
			}, zerolog.Nop())
			payout, err := orders.ClosePosition(context.Background(), "t1", SideBuy)
			require.ErrorIs(t, err, ErrUnconfirmed)
			assert.Contains(t, err.Error(), "0xclose")
			assert.Zero(t, payout)
			assert.Equal(t, int32(1), posts.Load())
		})
	}
}

func TestClosePositionEmptyBalance(t *testing.T) {
	posted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == orderPath {
			posted = true
		}
		_ = json.NewEncoder(w).Encode(balanceResponse{Balance: "0"})
	}))
	defer srv.Close()

	payout, err := newHTTPClient(t, srv, &fakeSigner{}).ClosePosition(context.Background(), "t1", SideBuy, 100)
	require.NoError(t, err)
	assert.Zero(t, payout)
	assert.False(t, posted)
}

func TestMarketStatusFromGamma(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, marketsPath, r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("condition_ids"))
		_, _ = w.Write([]byte(`[{"conditionId":"0xabc","active":true,"closed":false,"endDate":"2026-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	c := newHTTPClient(t, srv, nil)
	status, err := c.MarketStatus(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.False(t, status.Closed)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.EndDate)

	assert.False(t, status.Matured(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, status.Matured(status.EndDate))

	_, err = c.MarketStatus(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMissingCredentialsAreRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(ClientOptions{CLOBURL: srv.URL}, &fakeSigner{}, zerolog.Nop())
	_, err := c.PlaceFOK(context.Background(), testIntent())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestMaturedRequiresEndDateOrClosed(t *testing.T) {
	now := time.Now()
	assert.False(t, MarketStatus{}.Matured(now))
	assert.True(t, MarketStatus{Closed: true}.Matured(now))
}
