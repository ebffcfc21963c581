// Package chainerr defines the structured error taxonomy the dashboard
// reports to its UI, and the normalization of raw wallet/node errors
// into it.
package chainerr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies a dashboard-facing error condition.
type Kind string

const (
	KindWalletNotFound       Kind = "wallet_not_found"
	KindUserRejected         Kind = "user_rejected"
	KindWrongNetwork         Kind = "wrong_network"
	KindMissingConfiguration Kind = "missing_configuration"
	KindContractNotDeployed  Kind = "contract_not_deployed"
	KindMetadataMismatch     Kind = "metadata_mismatch"
	KindValidation           Kind = "validation_error"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindRPCFailure           Kind = "rpc_failure"
	KindReverted             Kind = "reverted"
)

// Error carries a taxonomy kind alongside a human-readable message.
// Field is set for validation errors; Reason carries a revert reason
// extracted from the node's error payload when available.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two taxonomy errors by kind, so callers can use
// errors.Is(err, chainerr.New(chainerr.KindUserRejected, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// New builds a taxonomy error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation builds a field-specific client-side input error. These
// never reach the chain.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Field: field}
}

// KindOf extracts the taxonomy kind from err, or KindRPCFailure when
// the error carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRPCFailure
}

// rpcCoded matches the error surface of go-ethereum's rpc package and
// of EIP-1193 provider errors relayed through it.
type rpcCoded interface {
	Error() string
	ErrorCode() int
}

// EIP-1193 / EIP-1474 codes surfaced by wallet providers.
const (
	codeUserRejected      = 4001
	codeUnrecognizedChain = 4902
)

// IsUnrecognizedChain reports whether err is the wallet's code 4902
// "unrecognized chain" response to wallet_switchEthereumChain, which
// must trigger the wallet_addEthereumChain fallback.
func IsUnrecognizedChain(err error) bool {
	var coded rpcCoded
	return errors.As(err, &coded) && coded.ErrorCode() == codeUnrecognizedChain
}

var revertReasonRe = regexp.MustCompile(`(?:execution reverted:?|revert(?:ed)? with reason(?: string)?:?)\s*['"]?([^'"]*)['"]?`)

// Normalize maps a raw wallet/node error onto the taxonomy. Errors
// that already carry a kind pass through unchanged. User-rejected
// signing, on-chain reverts (with extracted reason), and insufficient
// funds are each reported distinctly; everything else is a generic
// RPC failure.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var coded rpcCoded
	if errors.As(err, &coded) && coded.ErrorCode() == codeUserRejected {
		return Wrap(KindUserRejected, "request rejected in wallet", err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "user rejected") || strings.Contains(lower, "user denied"):
		return Wrap(KindUserRejected, "request rejected in wallet", err)
	case strings.Contains(lower, "insufficient funds"):
		return Wrap(KindInsufficientFunds, "insufficient funds for transaction", err)
	case strings.Contains(lower, "revert"):
		out := Wrap(KindReverted, "transaction reverted", err)
		if m := revertReasonRe.FindStringSubmatch(msg); len(m) == 2 && strings.TrimSpace(m[1]) != "" {
			out.Reason = strings.TrimSpace(m[1])
		}
		return out
	}
	return Wrap(KindRPCFailure, msg, err)
}

// IsStanding reports whether kind represents a persistent condition
// that blocks a feature until resolved, as opposed to a transient
// per-action failure.
func IsStanding(kind Kind) bool {
	switch kind {
	case KindMissingConfiguration, KindContractNotDeployed, KindWrongNetwork, KindWalletNotFound:
		return true
	}
	return false
}
