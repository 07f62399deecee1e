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

package api

import (
	"context"
	"errors"
	"strings"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubmitApplication records a tokenization and borrow request. A loan above
// the collateral limit is rejected with the maximum the asset supports.
func (s *LendingService) SubmitApplication(ctx context.Context, owner, assetSymbol string, assetAmount, requestedLoan decimal.Decimal) (*models.ApplicationResult, error) {
	return s.application(ctx, "submit", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.Submit(ctx, settlement.SubmitRequest{
			Owner:               strings.TrimSpace(owner),
			AssetSymbol:         strings.ToUpper(strings.TrimSpace(assetSymbol)),
			AssetAmount:         assetAmount,
			RequestedLoanAmount: requestedLoan,
		})
	})
}

// GetApplication returns the current state of an application
func (s *LendingService) GetApplication(ctx context.Context, id string) (*models.LoanApplication, error) {
	return s.settlement.Get(ctx, id)
}

// RequestReservation asks custody to hold the application's asset
func (s *LendingService) RequestReservation(ctx context.Context, id string) (*models.ApplicationResult, error) {
	return s.application(ctx, "request reservation", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.RequestReservation(ctx, id)
	})
}

// ConfirmReserve advances an application once custody confirms the hold
func (s *LendingService) ConfirmReserve(ctx context.Context, id, reservationId string) (*models.ApplicationResult, error) {
	return s.application(ctx, "confirm reserve", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.ConfirmReserve(ctx, id, reservationId)
	})
}

// InitiateMint submits the token mint
func (s *LendingService) InitiateMint(ctx context.Context, id string) (*models.ApplicationResult, error) {
	return s.application(ctx, "initiate mint", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.InitiateMint(ctx, id)
	})
}

// MintConfirmed applies a mint finality event
func (s *LendingService) MintConfirmed(ctx context.Context, c settlement.MintConfirmation) (*models.ApplicationResult, error) {
	return s.application(ctx, "mint confirmed", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.MintConfirmed(ctx, c)
	})
}

// MintFailed records a failed mint for manual reconciliation
func (s *LendingService) MintFailed(ctx context.Context, id, txHash, reason string) (*models.ApplicationResult, error) {
	return s.application(ctx, "mint failed", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.MintFailed(ctx, id, txHash, reason)
	})
}

// Reject cancels an application before minting
func (s *LendingService) Reject(ctx context.Context, id, reason string) (*models.ApplicationResult, error) {
	return s.application(ctx, "reject", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.Reject(ctx, id, reason)
	})
}

// Reconcile completes a mint_failed application whose mint did land
func (s *LendingService) Reconcile(ctx context.Context, id, txHash string) (*models.ApplicationResult, error) {
	return s.application(ctx, "reconcile", func(ctx context.Context) (*models.LoanApplication, error) {
		return s.settlement.ReconcileMintFailed(ctx, id, txHash)
	})
}

func (s *LendingService) application(ctx context.Context, name string, fn func(context.Context) (*models.LoanApplication, error)) (*models.ApplicationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	app, err := fn(ctx)
	if err != nil {
		status, kind, ok := resultStatus(err)
		if !ok {
			zap.L().Error("Application operation failed",
				zap.String("operation", name),
				zap.Error(err))
			return nil, err
		}
		result := &models.ApplicationResult{
			Success:   false,
			Status:    status,
			ErrorKind: string(kind),
			Error:     err.Error(),
		}
		if app != nil {
			result.ApplicationId = app.Id
			result.State = app.Status
		}
		var limitErr *lending.LoanLimitError
		if errors.As(err, &limitErr) {
			result.MaxLoanAmount = limitErr.MaxLoanAmount
		}
		return result, nil
	}

	return &models.ApplicationResult{
		Success:       true,
		Status:        models.ResultOk,
		ApplicationId: app.Id,
		State:         app.Status,
		MaxLoanAmount: app.MaxLoanAmount(),
	}, nil
}
