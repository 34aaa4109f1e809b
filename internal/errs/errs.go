// Package errs classifies the error sentinels scattered across the core
// packages (ordermanager, risk, eventbus, pkg/types) into the small set of
// kinds the control plane maps to HTTP status codes. Core components keep
// their own package-local sentinels (wrapped with fmt.Errorf/%w); this
// package only knows how to recognize them, so adding a
// new core package's error never requires touching its callers.
package errs

import (
	"context"
	"errors"

	"tradingd/internal/eventbus"
	"tradingd/internal/ordermanager"
	"tradingd/internal/risk"
	"tradingd/pkg/types"
)

// Kind is the small, stable set of error categories the control plane
// distinguishes when choosing an HTTP status and a machine-readable code.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindRiskRejected      Kind = "risk_rejected"
	KindNotFound          Kind = "not_found"
	KindBackpressure      Kind = "backpressure"
	KindInconsistent      Kind = "inconsistent"
	KindCanceled          Kind = "canceled"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAuth              Kind = "auth"
	KindInternal          Kind = "internal"
)

// Classify inspects err against every known core sentinel and returns the
// Kind the control plane should report it as. Falls back to KindInternal
// for anything unrecognized, which the HTTP layer maps to 500 — this is
// the conservative default for an error this package has never seen
// before, rather than guessing.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, types.ErrValidation):
		return KindValidation
	case errors.Is(err, risk.ErrRiskRejected):
		return KindRiskRejected
	case errors.Is(err, ordermanager.ErrUnknownOrder):
		return KindNotFound
	case errors.Is(err, ordermanager.ErrInconsistent):
		return KindInconsistent
	case errors.Is(err, eventbus.ErrBackpressure):
		return KindBackpressure
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// HTTPStatus maps a Kind to the status code the control plane's handlers
// should respond with, per the documented error-kind -> HTTP status table.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindAuth:
		return 401
	case KindInsufficientFunds:
		return 402
	case KindRiskRejected:
		return 409
	case KindNotFound:
		return 404
	case KindBackpressure:
		return 503
	case KindInconsistent:
		return 500
	case KindCanceled:
		return 499
	default:
		return 500
	}
}

// Code is the stable machine-readable string every API error response
// carries alongside its human-readable message.
func (k Kind) Code() string {
	if k == "" {
		return string(KindInternal)
	}
	return string(k)
}
