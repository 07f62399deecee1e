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

// Market is the per-asset money-market state. Indices start at one and only grow.
type Market struct {
	Symbol               string          `db:"symbol"`
	IsListed             bool            `db:"is_listed"`
	CollateralFactor     decimal.Decimal `db:"collateral_factor"`
	LiquidationThreshold decimal.Decimal `db:"liquidation_threshold"`
	LiquidationPenalty   decimal.Decimal `db:"liquidation_penalty"`
	ReserveFactor        decimal.Decimal `db:"reserve_factor"`
	TotalBorrows         decimal.Decimal `db:"total_borrows"`
	TotalSupply          decimal.Decimal `db:"total_supply"`
	TotalReserves        decimal.Decimal `db:"total_reserves"`
	BorrowIndex          decimal.Decimal `db:"borrow_index"`
	SupplyIndex          decimal.Decimal `db:"supply_index"`
	LastAccrualTimestamp time.Time       `db:"last_accrual_at"`
	Version              int64           `db:"version"`
}

// Cash is the liquidity available to borrowers. It is derived so that
// utilization reduces to totalBorrows / totalSupply.
func (m Market) Cash() decimal.Decimal {
	cash := m.TotalSupply.Add(m.TotalReserves).Sub(m.TotalBorrows)
	if cash.IsNegative() {
		return decimal.Zero
	}
	return cash
}

// Account is one owner's position in one market. Borrowed and Supplied are
// expressed relative to the market index captured in the matching snapshot.
type Account struct {
	Owner               string          `db:"owner"`
	Symbol              string          `db:"symbol"`
	Collateral          decimal.Decimal `db:"collateral"`
	Borrowed            decimal.Decimal `db:"borrowed"`
	BorrowIndexSnapshot decimal.Decimal `db:"borrow_index_snapshot"`
	Supplied            decimal.Decimal `db:"supplied"`
	SupplyIndexSnapshot decimal.Decimal `db:"supply_index_snapshot"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// IsEmpty reports whether the account holds nothing and can be logically deleted
func (a Account) IsEmpty() bool {
	return a.Collateral.IsZero() && a.Borrowed.IsZero() && a.Supplied.IsZero()
}

// Quote is a single price observation from the oracle
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	AsOf       time.Time       `json:"as_of"`
	Confidence decimal.Decimal `json:"confidence"`
}

// PositionBatch is the unit of work committed to the store for one position
// operation: accrued markets, touched accounts and their journal events.
type PositionBatch struct {
	Reference string
	Markets   []Market
	Accounts  []Account
	Events    []PositionEvent
}
