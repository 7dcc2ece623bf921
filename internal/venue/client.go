package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"strategy-coordinator/internal/strategy"
)

const (
	defaultCLOBURL  = "https://clob.polymarket.com"
	defaultGammaURL = "https://gamma-api.polymarket.com"

	orderPath   = "/order"
	balancePath = "/balance-allowance"
	marketsPath = "/markets"

	orderTypeFOK = "FOK"
)

// Credentials are the L2 API credentials of the funder account.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// ClientOptions parameterise the REST client.
type ClientOptions struct {
	CLOBURL       string
	GammaURL      string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	UserAgent     string
	Credentials   Credentials
}

// Client talks to the CLOB and Gamma APIs. Every method performs exactly one
// round trip and returns classified *Error values; retries live in OrderClient.
type Client struct {
	opts     ClientOptions
	clobURL  string
	gammaURL string
	http     *http.Client
	limiter  *rate.Limiter
	signer   Signer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewClient constructs a REST client. signer may be nil for read-only use.
func NewClient(opts ClientOptions, signer Signer, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clobURL := strings.TrimRight(opts.CLOBURL, "/")
	if clobURL == "" {
		clobURL = defaultCLOBURL
	}
	gammaURL := strings.TrimRight(opts.GammaURL, "/")
	if gammaURL == "" {
		gammaURL = defaultGammaURL
	}
	limit := rate.Limit(opts.RatePerSecond)
	if opts.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		opts:     opts,
		clobURL:  clobURL,
		gammaURL: gammaURL,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		signer:   signer,
		logger:   logger.With().Str("component", "venue_client").Logger(),
		now:      time.Now,
	}
}

type orderEnvelope struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

type orderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type gammaMarket struct {
	ConditionID string `json:"conditionId"`
	Active      bool   `json:"active"`
	Closed      bool   `json:"closed"`
	EndDate     string `json:"endDate"`
	EndDateISO  string `json:"endDateIso"`
}

// PlaceFOK signs and posts one fill-or-kill order for intent.
func (c *Client) PlaceFOK(ctx context.Context, intent OrderIntent) (ExecutionResult, error) {
	const op = "submit"
	if err := validateIntent(intent); err != nil {
		return ExecutionResult{}, err
	}
	var req OrderRequest
	if intent.Side == SideSell {
		req = sellOrder(intent.TokenID, intent.QuoteAmount, intent.LimitPriceBps)
	} else {
		var err error
		if req, err = buyOrder(intent.TokenID, intent.QuoteAmount, intent.LimitPriceBps); err != nil {
			return ExecutionResult{}, validationError(op, "price intent: %v", err)
		}
	}
	if req.MakerAmount == 0 || req.TakerAmount == 0 {
		return ExecutionResult{}, validationError(op, "amount %d below the minimum order size", intent.QuoteAmount)
	}

	resp, err := c.postOrder(ctx, op, req)
	if err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{Intent: intent, Status: StatusFulfilled, OrderID: resp.OrderID}, nil
}

// ClosePosition sells the full balance of tokenID, held on side, at no less
// than floorBps and returns the USDC base units received.
func (c *Client) ClosePosition(ctx context.Context, tokenID string, side Side, floorBps uint32) (uint64, error) {
	const op = "close"
	if strings.TrimSpace(tokenID) == "" {
		return 0, validationError(op, "token id is required")
	}
	if side.Opposite() != SideSell {
		return 0, validationError(op, "closing a %s position is not supported", side.Opposite())
	}

	balance, err := c.Balance(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	req := sellOrder(tokenID, balance, floorBps)
	if req.MakerAmount == 0 {
		c.logger.Debug().Str("token_id", tokenID).Uint64("balance", balance).Msg("nothing to close")
		return 0, nil
	}

	resp, err := c.postOrder(ctx, op, req)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(resp.TakingAmount) == "" {
		return 0, &Error{Kind: KindUnconfirmed, Op: op, Msg: fmt.Sprintf("order %s matched without a taking amount", resp.OrderID)}
	}
	proceeds, err := parseWholeUnits(resp.TakingAmount)
	if err != nil {
		return 0, &Error{Kind: KindUnconfirmed, Op: op, Msg: fmt.Sprintf("order %s: unreadable taking amount", resp.OrderID), Err: err}
	}
	return proceeds, nil
}

// Balance returns the conditional token balance of the funder in base units.
func (c *Client) Balance(ctx context.Context, tokenID string) (uint64, error) {
	const op = "balance"
	q := url.Values{}
	q.Set("asset_type", "CONDITIONAL")
	q.Set("token_id", tokenID)

	var resp balanceResponse
	if err := c.doL2(ctx, op, http.MethodGet, balancePath, q, nil, &resp); err != nil {
		return 0, err
	}
	bal, err := parseBaseUnits(resp.Balance)
	if err != nil {
		return 0, &Error{Kind: KindTransient, Op: op, Msg: "unreadable balance", Err: err}
	}
	return bal, nil
}

// MarketStatus fetches the lifecycle state of a market by condition id.
func (c *Client) MarketStatus(ctx context.Context, marketID string) (MarketStatus, error) {
	const op = "market_status"
	q := url.Values{}
	q.Set("condition_ids", marketID)

	var markets []gammaMarket
	if err := c.get(ctx, op, c.gammaURL+marketsPath, q, &markets); err != nil {
		return MarketStatus{}, err
	}
	for _, m := range markets {
		if !strings.EqualFold(m.ConditionID, marketID) {
			continue
		}
		status := MarketStatus{MarketID: marketID, Active: m.Active, Closed: m.Closed}
		status.EndDate = parseEndDate(m.EndDate, m.EndDateISO)
		return status, nil
	}
	return MarketStatus{}, validationError(op, "market %s not found", marketID)
}

func (c *Client) postOrder(ctx context.Context, op string, req OrderRequest) (orderResponse, error) {
	if c.signer == nil {
		return orderResponse{}, &Error{Kind: KindRejected, Op: op, Msg: "no order signer configured", Hint: hintSignature}
	}
	signed, err := c.signer.Sign(req)
	if err != nil {
		return orderResponse{}, &Error{Kind: KindRejected, Op: op, Err: err, Hint: hintSignature}
	}

	body := orderEnvelope{Order: signed, Owner: c.opts.Credentials.APIKey, OrderType: orderTypeFOK}
	var resp orderResponse
	if err := c.doL2(ctx, op, http.MethodPost, orderPath, nil, body, &resp); err != nil {
		return orderResponse{}, err
	}
	if !resp.Success || resp.ErrorMsg != "" {
		if err := classifyMessage(op, resp.ErrorMsg); err != nil {
			return orderResponse{}, err
		}
		return orderResponse{}, &Error{Kind: KindValidation, Op: op, Msg: resp.ErrorMsg}
	}
	if strings.EqualFold(resp.Status, "unmatched") {
		return orderResponse{}, &Error{Kind: KindUnfilled, Op: op, Msg: "order killed without a match"}
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return validationError(op, "build request: %v", err)
	}
	return c.do(ctx, op, req, out)
}

// doL2 sends an HMAC-authenticated CLOB request. Headers are built per call so
// the timestamp is fresh on every retry.
func (c *Client) doL2(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return validationError(op, "marshal body: %v", err)
		}
	}

	headers, err := c.l2Headers(method, path, string(payload))
	if err != nil {
		return &Error{Kind: KindRejected, Op: op, Err: err, Hint: hintOnboarding}
	}

	endpoint := c.clobURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return validationError(op, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(ctx, op, req, out)
}

func (c *Client) do(ctx context.Context, op string, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransport(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "strategy-coordinator/1.0")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(op, resp.StatusCode, errorText(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Kind: KindTransient, Op: op, Msg: "decode response", Err: err}
	}
	return nil
}

func (c *Client) l2Headers(method, path, body string) (map[string]string, error) {
	creds := c.opts.Credentials
	if creds.APIKey == "" || creds.Secret == "" {
		return nil, errors.New("api credentials are not configured")
	}
	if c.signer == nil {
		return nil, errors.New("no signer address for authenticated request")
	}
	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + strings.ToUpper(method) + path + body))

	return map[string]string{
		"POLY_ADDRESS":    c.signer.Address(),
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

func validateIntent(intent OrderIntent) error {
	const op = "submit"
	switch {
	case strings.TrimSpace(intent.TokenID) == "":
		return validationError(op, "token id is required")
	case intent.QuoteAmount == 0:
		return validationError(op, "quote amount must be positive")
	case intent.LimitPriceBps == 0 || intent.LimitPriceBps >= strategy.MaxBps:
		return validationError(op, "limit price %d bps out of range", intent.LimitPriceBps)
	case intent.Side != SideBuy && intent.Side != SideSell:
		return validationError(op, "unknown side %q", intent.Side)
	}
	return nil
}

func errorText(payload []byte) string {
	var apiErr struct {
		Error    string `json:"error"`
		ErrorMsg string `json:"errorMsg"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, s := range []string{apiErr.Error, apiErr.ErrorMsg, apiErr.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(payload))
}

// parseBaseUnits reads an integer amount already expressed in base units.
func parseBaseUnits(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// parseWholeUnits reads a decimal amount of whole units (e.g. "10.5") into base units, floored.
func parseWholeUnits(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", s)
	}
	base := d.Shift(strategy.USDCDecimals).Floor().BigInt()
	if !base.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", s)
	}
	return base.Uint64(), nil
}

func parseEndDate(values ...string) time.Time {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
