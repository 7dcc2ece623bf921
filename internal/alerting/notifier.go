package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies operator notifications.
type Kind string

const (
	KindPurchaseFailed   Kind = "purchase_failed"
	KindSettled          Kind = "settled"
	KindSettlementFailed Kind = "settlement_failed"
)

// Notification carries one operator-facing event.
type Notification struct {
	Kind       Kind
	StrategyID uint64
	At         time.Time
	Summary    string
	Fields     map[string]string
}

// Key groups notifications for cooldown purposes.
func (n Notification) Key() string {
	return fmt.Sprintf("%s:%d", n.Kind, n.StrategyID)
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered notification.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Uint64("strategy_id", note.StrategyID).
		Msg("notification sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[strategy-coordinator] %s\n", note.Kind))
	builder.WriteString(fmt.Sprintf("Strategy: %d\n", note.StrategyID))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	if note.Summary != "" {
		builder.WriteString(note.Summary)
		builder.WriteString("\n")
	}
	keys := make([]string, 0, len(note.Fields))
	for k := range note.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		builder.WriteString(fmt.Sprintf("%s: %s\n", k, note.Fields[k]))
	}
	return builder.String()
}

// Throttled drops notifications whose key was delivered within the cooldown.
// Delivery errors are logged, never returned, so alerting cannot stall the
// pipeline that raised the notification.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewThrottled wraps next with a per-key cooldown.
func NewThrottled(next Notifier, cooldown time.Duration, logger zerolog.Logger) *Throttled {
	return &Throttled{
		next:     next,
		cooldown: cooldown,
		logger:   logger.With().Str("component", "alerting").Logger(),
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// Notify forwards note unless it is inside the cooldown window.
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	if note.At.IsZero() {
		note.At = t.now()
	}
	key := note.Key()

	t.mu.Lock()
	last, seen := t.sent[key]
	if seen && t.cooldown > 0 && note.At.Sub(last) < t.cooldown {
		t.mu.Unlock()
		t.logger.Debug().Str("key", key).Msg("notification suppressed by cooldown")
		return nil
	}
	t.sent[key] = note.At
	t.mu.Unlock()

	if err := t.next.Notify(ctx, note); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("notification delivery failed")
	}
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Throttled)(nil)
)
