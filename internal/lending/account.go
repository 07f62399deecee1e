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
	"github.com/shopspring/decimal"

	"rwa-lending-go/internal/models"
)

// NewAccount returns an empty account anchored at the market's current indices
func NewAccount(owner string, m models.Market) models.Account {
	return models.Account{
		Owner:               owner,
		Symbol:              m.Symbol,
		Collateral:          decimal.Zero,
		Borrowed:            decimal.Zero,
		BorrowIndexSnapshot: m.BorrowIndex,
		Supplied:            decimal.Zero,
		SupplyIndexSnapshot: m.SupplyIndex,
	}
}

// EffectiveBorrowed is the current debt: borrowed * borrowIndex / snapshot
func EffectiveBorrowed(a models.Account, borrowIndex decimal.Decimal) decimal.Decimal {
	return scaleByIndex(a.Borrowed, borrowIndex, a.BorrowIndexSnapshot)
}

// EffectiveSupplied is the current supplier balance including earned interest
func EffectiveSupplied(a models.Account, supplyIndex decimal.Decimal) decimal.Decimal {
	return scaleByIndex(a.Supplied, supplyIndex, a.SupplyIndexSnapshot)
}

// Settle rewrites the account's balances at the market's current indices so
// subsequent arithmetic can work on plain amounts.
func Settle(a *models.Account, m models.Market) {
	a.Borrowed = EffectiveBorrowed(*a, m.BorrowIndex)
	a.BorrowIndexSnapshot = m.BorrowIndex
	a.Supplied = EffectiveSupplied(*a, m.SupplyIndex)
	a.SupplyIndexSnapshot = m.SupplyIndex
}

func scaleByIndex(amount, current, snapshot decimal.Decimal) decimal.Decimal {
	if amount.IsZero() || !snapshot.IsPositive() || current.Equal(snapshot) {
		return amount
	}
	return amount.Mul(current).DivRound(snapshot, AmountPrecision)
}

// applyDeposit adds collateral. Always safe.
func applyDeposit(a *models.Account, amount decimal.Decimal) {
	a.Collateral = a.Collateral.Add(amount)
}

// applyWithdraw removes collateral. The caller runs the health check.
func applyWithdraw(a *models.Account, amount decimal.Decimal) error {
	if amount.GreaterThan(a.Collateral) {
		return ErrInsufficientCollateral
	}
	a.Collateral = a.Collateral.Sub(amount)
	return nil
}

// applyBorrow adds debt on a settled account and draws market cash
func applyBorrow(a *models.Account, m *models.Market, amount decimal.Decimal) error {
	if amount.GreaterThan(m.Cash()) {
		return ErrInsufficientLiquidity
	}
	a.Borrowed = a.Borrowed.Add(amount)
	m.TotalBorrows = m.TotalBorrows.Add(amount)
	return nil
}

// applyRepay reduces debt on a settled account. Paying more than is owed is
// an error rather than a silent cap.
func applyRepay(a *models.Account, m *models.Market, amount decimal.Decimal) error {
	if amount.GreaterThan(a.Borrowed) {
		return ErrOverRepayment
	}
	a.Borrowed = a.Borrowed.Sub(amount)
	m.TotalBorrows = clampZero(m.TotalBorrows.Sub(amount))
	return nil
}

// applySupply adds lender liquidity on a settled account
func applySupply(a *models.Account, m *models.Market, amount decimal.Decimal) {
	a.Supplied = a.Supplied.Add(amount)
	m.TotalSupply = m.TotalSupply.Add(amount)
}

// applyRedeem withdraws lender liquidity on a settled account
func applyRedeem(a *models.Account, m *models.Market, amount decimal.Decimal) error {
	if amount.GreaterThan(a.Supplied) {
		return ErrOverRedemption
	}
	if amount.GreaterThan(m.Cash()) {
		return ErrInsufficientLiquidity
	}
	a.Supplied = a.Supplied.Sub(amount)
	m.TotalSupply = clampZero(m.TotalSupply.Sub(amount))
	return nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
