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

// User represents a borrower, lender or liquidator known to the system
type User struct {
	Id          string    `db:"id"`
	Name        string    `db:"name"`
	Email       string    `db:"email"`
	KycVerified bool      `db:"kyc_verified"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Address represents a user's custody wallet registration for one asset
type Address struct {
	Id                string    `db:"id"`
	UserId            string    `db:"user_id"`
	Asset             string    `db:"asset"`
	Network           string    `db:"network"`
	Address           string    `db:"address"`
	WalletId          string    `db:"wallet_id"`
	AccountIdentifier string    `db:"account_identifier"`
	CreatedAt         time.Time `db:"created_at"`
}

// PositionEvent is the immutable audit record of one committed position change
type PositionEvent struct {
	Id               string          `db:"id"`
	Reference        string          `db:"reference"`
	Owner            string          `db:"owner"`
	Symbol           string          `db:"symbol"`
	EventType        string          `db:"event_type"`
	Amount           decimal.Decimal `db:"amount"`
	CollateralBefore decimal.Decimal `db:"collateral_before"`
	CollateralAfter  decimal.Decimal `db:"collateral_after"`
	DebtBefore       decimal.Decimal `db:"debt_before"`
	DebtAfter        decimal.Decimal `db:"debt_after"`
	Counterparty     string          `db:"counterparty"`
	CreatedAt        time.Time       `db:"created_at"`
}

// Position event types
const (
	EventDepositCollateral  = "deposit_collateral"
	EventWithdrawCollateral = "withdraw_collateral"
	EventCollateralCredit   = "collateral_credit"
	EventBorrow             = "borrow"
	EventRepay              = "repay"
	EventSupply             = "supply"
	EventRedeem             = "redeem"
	EventLiquidationRepay   = "liquidation_repay"
	EventLiquidationSeize   = "liquidation_seize"
	EventLiquidationReward  = "liquidation_reward"
)
