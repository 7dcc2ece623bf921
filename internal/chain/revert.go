package chain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrReverted matches every on-chain revert.
	ErrReverted = errors.New("chain: execution reverted")
	// ErrAlreadySettled is the vault's double-settlement guard.
	ErrAlreadySettled = errors.New("chain: strategy already settled")
	// ErrNotExecuted reports a hedge order that was never executed.
	ErrNotExecuted = errors.New("chain: hedge order not executed")
	// ErrAssetNotSupported reports a hedge asset the vault cannot handle.
	ErrAssetNotSupported = errors.New("chain: hedge asset not supported")
)

// RevertError describes a reverted call or transaction.
type RevertError struct {
	Method string
	Reason string
	TxHash string
	kind   error
	Err    error
}

func (e *RevertError) Error() string {
	msg := fmt.Sprintf("%s reverted", e.Method)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	return msg
}

// Unwrap exposes ErrReverted, the classified reason sentinel and the cause.
func (e *RevertError) Unwrap() []error {
	errs := []error{ErrReverted}
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newRevert(method, reason, txHash string, cause error) *RevertError {
	return &RevertError{Method: method, Reason: reason, TxHash: txHash, kind: reasonKind(reason), Err: cause}
}

// classifyRevert converts err into a *RevertError when it carries a revert,
// and otherwise returns it wrapped with the method name.
func classifyRevert(method string, err error) error {
	if reason, ok := revertReason(err); ok {
		return newRevert(method, reason, "", err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(s); decErr == nil {
				if reason, ok := decodeRevertData(raw); ok {
					return reason, true
				}
			}
		}
	}

	const marker = "execution reverted"
	msg := err.Error()
	i := strings.Index(strings.ToLower(msg), marker)
	if i < 0 {
		return "", false
	}
	reason := strings.TrimSpace(msg[i+len(marker):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	return reason, true
}

func decodeRevertData(raw []byte) (string, bool) {
	if reason, err := abi.UnpackRevert(raw); err == nil {
		return reason, true
	}
	if len(raw) < 4 {
		return "", false
	}
	for name, e := range vaultABI.Errors {
		if bytes.Equal(e.ID.Bytes()[:4], raw[:4]) {
			return name, true
		}
	}
	return "", false
}

func reasonKind(reason string) error {
	norm := strings.ToLower(reason)
	norm = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(norm)
	switch {
	case strings.Contains(norm, "alreadysettled"):
		return ErrAlreadySettled
	case strings.Contains(norm, "notexecuted"):
		return ErrNotExecuted
	case strings.Contains(norm, "assetnotsupported"), strings.Contains(norm, "unsupportedasset"):
		return ErrAssetNotSupported
	default:
		return nil
	}
}
