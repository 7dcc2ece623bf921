package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"strategy-coordinator/internal/retry"
)

// Kind classifies venue failures for retry decisions.
type Kind int

const (
	// KindValidation covers malformed intents: bad token, zero amount, bad price.
	KindValidation Kind = iota + 1
	// KindTransient covers timeouts, throttling and 5xx responses.
	KindTransient
	// KindRejected covers account-state problems such as signature or onboarding errors.
	KindRejected
	// KindUnfilled means a fill-or-kill order was killed by the book.
	KindUnfilled
	// KindUnconfirmed means an order was accepted but its outcome could not be
	// read back. Repeating it could trade twice.
	KindUnconfirmed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindUnfilled:
		return "unfilled"
	case KindUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry envelope should try again.
func (k Kind) Retryable() bool { return k == KindTransient }

// Error is a classified venue failure.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Msg    string
	Hint   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "venue %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Hint != "" {
		b.WriteString(" [")
		b.WriteString(e.Hint)
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on a bare kind sentinel such as ErrRejected.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Status == 0 && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrTransient   = &Error{Kind: KindTransient}
	ErrRejected    = &Error{Kind: KindRejected}
	ErrUnfilled    = &Error{Kind: KindUnfilled}
	ErrUnconfirmed = &Error{Kind: KindUnconfirmed}
)

// KindOf extracts the failure kind, or 0 for unclassified errors.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return 0
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// forRetry marks non-transient failures permanent so the envelope stops early.
func forRetry(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err).Retryable() || errors.Is(err, context.Canceled) {
		return err
	}
	return retry.Permanent(err)
}

const (
	hintSignature  = "check the signer key and signature type configured for this venue account"
	hintOnboarding = "the funder account is not onboarded or lacks API credentials; derive or rotate credentials"
	hintAllowance  = "collateral or conditional token allowance is missing for the exchange contract"
)

// classifyTransport maps a failed round trip into a transient error.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTransient, Op: op, Msg: "timeout", Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// classifyStatus maps an HTTP status and body into a failure kind.
func classifyStatus(op string, status int, body string) error {
	msg := strings.TrimSpace(body)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &Error{Kind: KindTransient, Op: op, Status: status, Msg: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindRejected, Op: op, Status: status, Msg: msg, Hint: rejectionHint(msg)}
	}
	if err := classifyMessage(op, msg); err != nil {
		var ve *Error
		if errors.As(err, &ve) {
			ve.Status = status
		}
		return err
	}
	return &Error{Kind: KindValidation, Op: op, Status: status, Msg: msg}
}

// classifyMessage recognises venue error messages that carry structural meaning.
// It returns nil when the message is not recognised.
func classifyMessage(op, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "signature"),
		strings.Contains(lower, "api key"),
		strings.Contains(lower, "not onboarded"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "allowance"):
		return &Error{Kind: KindRejected, Op: op, Msg: msg, Hint: rejectionHint(msg)}
	case strings.Contains(lower, "fully filled"),
		strings.Contains(lower, "fok"),
		strings.Contains(lower, "no match"),
		strings.Contains(lower, "not enough liquidity"):
		return &Error{Kind: KindUnfilled, Op: op, Msg: msg}
	}
	return nil
}

func rejectionHint(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "signature"):
		return hintSignature
	case strings.Contains(lower, "allowance"):
		return hintAllowance
	default:
		return hintOnboarding
	}
}
