package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	note := Notification{
		Kind:       KindSettled,
		StrategyID: 7,
		At:         time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		Fields:     map[string]string{"payout_per_usdc": "1050000", "tx": "0xabc"},
	}

	require.NoError(t, notifier.Notify(context.Background(), note))
	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "settled")
	assert.Contains(t, received["text"], "Strategy: 7")
	assert.Less(t, strings.Index(received["text"], "payout_per_usdc"), strings.Index(received["text"], "tx:"))
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.Error(t, notifier.Notify(context.Background(), Notification{Kind: KindSettlementFailed}))
}

type recorder struct {
	notes []Notification
	err   error
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

func TestThrottledCooldownPerKey(t *testing.T) {
	rec := &recorder{}
	th := NewThrottled(rec, time.Minute, zerolog.Nop())
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, th.Notify(ctx, Notification{Kind: KindSettlementFailed, StrategyID: 1, At: base}))
	require.NoError(t, th.Notify(ctx, Notification{Kind: KindSettlementFailed, StrategyID: 1, At: base.Add(30 * time.Second)}))
	require.NoError(t, th.Notify(ctx, Notification{Kind: KindSettlementFailed, StrategyID: 2, At: base.Add(30 * time.Second)}))
	require.NoError(t, th.Notify(ctx, Notification{Kind: KindSettlementFailed, StrategyID: 1, At: base.Add(2 * time.Minute)}))

	require.Len(t, rec.notes, 3)
	assert.Equal(t, uint64(2), rec.notes[1].StrategyID)
}

func TestThrottledSwallowsDeliveryErrors(t *testing.T) {
	rec := &recorder{err: errors.New("telegram down")}
	th := NewThrottled(rec, 0, zerolog.Nop())
	assert.NoError(t, th.Notify(context.Background(), Notification{Kind: KindPurchaseFailed}))
	assert.Len(t, rec.notes, 1)
	assert.False(t, rec.notes[0].At.IsZero())
}
