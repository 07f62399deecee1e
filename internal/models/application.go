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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus is the settlement state of a loan application
type ApplicationStatus string

const (
	StatusSubmitted     ApplicationStatus = "submitted"
	StatusBankConfirmed ApplicationStatus = "bank_confirmed"
	StatusMinting       ApplicationStatus = "minting"
	StatusCompleted     ApplicationStatus = "completed"
	StatusMintFailed    ApplicationStatus = "mint_failed"
	StatusRejected      ApplicationStatus = "rejected"
)

// Rank orders statuses along the forward path. Terminal branches share the
// rank of the step they leave from plus one.
func (s ApplicationStatus) Rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusBankConfirmed:
		return 1
	case StatusMinting:
		return 2
	case StatusCompleted, StatusMintFailed:
		return 3
	case StatusRejected:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is a known status
func (s ApplicationStatus) Valid() bool {
	return s.Rank() >= 0
}

// LoanApplication is the settlement request that tokenizes an asset and
// credits it as collateral. Optional fields are nil until the step that
// produces them has run.
type LoanApplication struct {
	Id                       string
	Owner                    string
	AssetSymbol              string
	AssetAmount              decimal.Decimal
	AssetValueUSD            decimal.Decimal
	RequestedLoanAmount      decimal.Decimal
	CollateralFactorSnapshot decimal.Decimal
	EstimatedAPY             decimal.Decimal
	Status                   ApplicationStatus
	BankReserveId            *string
	TokenSymbol              *string
	MintTxRef                *string
	MintBlockNumber          *uint64
	FailureReason            *string
	CollateralCredited       bool
	Version                  int64
	SubmittedAt              time.Time
	UpdatedAt                time.Time
	CompletedAt              *time.Time
}

// MaxLoanAmount is the largest loan the collateral snapshot supports
func (a *LoanApplication) MaxLoanAmount() decimal.Decimal {
	return a.AssetValueUSD.Mul(a.CollateralFactorSnapshot)
}

// Clone returns a copy whose optional fields do not alias the original
func (a *LoanApplication) Clone() *LoanApplication {
	if a == nil {
		return nil
	}
	c := *a
	c.BankReserveId = cloneString(a.BankReserveId)
	c.TokenSymbol = cloneString(a.TokenSymbol)
	c.MintTxRef = cloneString(a.MintTxRef)
	c.FailureReason = cloneString(a.FailureReason)
	if a.MintBlockNumber != nil {
		n := *a.MintBlockNumber
		c.MintBlockNumber = &n
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// StringValue dereferences an optional string, returning "" for nil
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string { return &s }

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
