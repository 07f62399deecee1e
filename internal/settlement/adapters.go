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

package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
)

var (
	// ErrReservationPending means the custodian has not confirmed the hold yet
	ErrReservationPending = errors.New("custody reservation not yet confirmed")
	// ErrReservationFailed means the custodian will never confirm the hold
	ErrReservationFailed = errors.New("custody reservation failed")
)

// ReservationRequest asks the custodian to hold an asset off-chain
type ReservationRequest struct {
	Owner          string
	AssetSymbol    string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// CustodyAdapter is the off-chain reservation service. Reserve must return the
// same reservation id when called again with the same idempotency key.
type CustodyAdapter interface {
	Reserve(ctx context.Context, req ReservationRequest) (string, error)
	ConfirmReservation(ctx context.Context, reservationId string) (bool, error)
}

// MintRequest asks the token ledger to issue tokens
type MintRequest struct {
	ApplicationId  string
	Owner          string
	TokenSymbol    string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// MintState is the on-chain status of a submitted mint
type MintState string

const (
	MintPending   MintState = "pending"
	MintConfirmed MintState = "confirmed"
	MintFailed    MintState = "failed"
)

// MintStatus is the observed status of a mint transaction
type MintStatus struct {
	State       MintState
	TxHash      string
	BlockNumber uint64
	Reason      string
}

// TokenMintAdapter is the token issuance service. Mint must return the same
// transaction hash when called again with the same idempotency key.
type TokenMintAdapter interface {
	Mint(ctx context.Context, req MintRequest) (string, error)
	MintStatus(ctx context.Context, txHash string) (MintStatus, error)
}

// CollateralLedger receives the collateral produced by a completed settlement
type CollateralLedger interface {
	CreditCollateral(ctx context.Context, owner, symbol string, amount decimal.Decimal, ref string) (*lending.Receipt, error)
}

// MarketInfo exposes the market state needed to price an application
type MarketInfo interface {
	Market(symbol string) (models.Market, error)
	Rates(symbol string) (lending.MarketRates, error)
	BorrowAsset() string
}

// MintConfirmation is the asynchronous finality event for a mint
type MintConfirmation struct {
	ApplicationId string
	TxHash        string
	BlockNumber   uint64
}
