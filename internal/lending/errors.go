/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lending

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies an error for callers that need to decide between
// rejecting, retrying and escalating.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindValidation             Kind = "validation"
	KindInsufficientCollateral Kind = "insufficient_collateral"
	KindHealthCheck            Kind = "health_check_failed"
	KindCompliance             Kind = "compliance"
	KindStateTransition        Kind = "state_transition"
	KindExternalService        Kind = "external_service"
	KindInconsistency          Kind = "inconsistency"
)

// Sentinel errors
var (
	ErrInvalidAmount                        = errors.New("amount must be positive")
	ErrInvalidSymbol                        = errors.New("invalid market symbol")
	ErrInvalidOwner                         = errors.New("invalid owner")
	ErrInvalidRiskParams                    = errors.New("invalid market risk parameters")
	ErrMarketNotListed                      = errors.New("market not listed")
	ErrMarketDelisted                       = errors.New("market is delisted")
	ErrInsufficientCollateral               = errors.New("insufficient collateral")
	ErrHealthCheckFailed                    = errors.New("health factor below one")
	ErrOverRepayment                        = errors.New("repay amount exceeds outstanding debt")
	ErrOverRedemption                       = errors.New("redeem amount exceeds supplied balance")
	ErrInsufficientLiquidity                = errors.New("insufficient market liquidity")
	ErrNotLiquidatable                      = errors.New("borrower is not liquidatable")
	ErrSelfLiquidation                      = errors.New("borrower cannot liquidate itself")
	ErrRepayExceedsCloseFactor              = errors.New("repay amount exceeds close factor")
	ErrInsufficientCollateralForLiquidation = errors.New("insufficient collateral for liquidation")
	ErrLiquidationNotImproving              = errors.New("liquidation does not improve health factor")
	ErrNegativeElapsed                      = errors.New("negative elapsed accrual time")
	ErrComplianceRejected                   = errors.New("owner is not compliance verified")
	ErrStaleQuote                           = errors.New("stale price quote")
	ErrMissingQuote                         = errors.New("missing price quote")
	ErrLowConfidence                        = errors.New("price quote confidence below minimum")
	ErrInvalidTransition                    = errors.New("invalid state transition")
	ErrConflictingReservation               = errors.New("conflicting reservation id")
	ErrMintHashMismatch                     = errors.New("mint confirmation hash does not match recorded mint")
	ErrLoanExceedsMax                       = errors.New("requested loan exceeds maximum loan amount")
	ErrConcurrentPositionChange             = errors.New("owner positions changed concurrently")
)

// Error carries the taxonomy kind and the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and operation name. A nil err returns nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// LoanLimitError reports the maximum loan the submitted collateral supports
type LoanLimitError struct {
	Requested     decimal.Decimal
	MaxLoanAmount decimal.Decimal
}

func (e *LoanLimitError) Error() string {
	return fmt.Sprintf("%v: requested %s, max %s", ErrLoanExceedsMax, e.Requested.String(), e.MaxLoanAmount.String())
}

func (e *LoanLimitError) Unwrap() error {
	return ErrLoanExceedsMax
}

// KindOf returns the taxonomy kind of err. Errors without an explicit kind are
// classified by the sentinel they wrap.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, ErrInsufficientCollateralForLiquidation):
		return KindInsufficientCollateral
	case errors.Is(err, ErrHealthCheckFailed), errors.Is(err, ErrLiquidationNotImproving):
		return KindHealthCheck
	case errors.Is(err, ErrComplianceRejected):
		return KindCompliance
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflictingReservation):
		return KindStateTransition
	case errors.Is(err, ErrNegativeElapsed), errors.Is(err, ErrMintHashMismatch):
		return KindInconsistency
	case errors.Is(err, ErrStaleQuote), errors.Is(err, ErrMissingQuote), errors.Is(err, ErrLowConfidence):
		return KindExternalService
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidSymbol), errors.Is(err, ErrInvalidOwner),
		errors.Is(err, ErrInvalidRiskParams), errors.Is(err, ErrMarketNotListed), errors.Is(err, ErrMarketDelisted),
		errors.Is(err, ErrOverRepayment), errors.Is(err, ErrOverRedemption), errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrNotLiquidatable), errors.Is(err, ErrSelfLiquidation), errors.Is(err, ErrRepayExceedsCloseFactor),
		errors.Is(err, ErrLoanExceedsMax):
		return KindValidation
	}
	return KindUnknown
}

// IsKind reports whether err is of the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
