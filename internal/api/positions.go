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
	"strings"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type positionOp func(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*lending.Receipt, error)

// DepositCollateral adds collateral for owner
func (s *LendingService) DepositCollateral(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	return s.position(ctx, "deposit", s.engine.DepositCollateral, owner, symbol, amount)
}

// WithdrawCollateral removes collateral if the owner stays healthy
func (s *LendingService) WithdrawCollateral(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	return s.position(ctx, "withdraw", s.engine.WithdrawCollateral, owner, symbol, amount)
}

// Borrow draws debt against the owner's collateral
func (s *LendingService) Borrow(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	return s.position(ctx, "borrow", s.engine.Borrow, owner, symbol, amount)
}

// Repay reduces the owner's debt
func (s *LendingService) Repay(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	return s.position(ctx, "repay", s.engine.Repay, owner, symbol, amount)
}

// SupplyLiquidity lends cash to a market
func (s *LendingService) SupplyLiquidity(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	return s.position(ctx, "supply", s.engine.SupplyLiquidity, owner, symbol, amount)
}

// RedeemLiquidity takes supplied cash back out of a market
func (s *LendingService) RedeemLiquidity(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	return s.position(ctx, "redeem", s.engine.RedeemLiquidity, owner, symbol, amount)
}

func (s *LendingService) position(ctx context.Context, name string, fn positionOp, owner, symbol string, amount decimal.Decimal) (*models.OperationResult, error) {
	owner = strings.TrimSpace(owner)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if owner == "" || symbol == "" || !amount.IsPositive() {
		return &models.OperationResult{
			Success:   false,
			Status:    models.ResultRejected,
			ErrorKind: string(lending.KindValidation),
			Error:     "invalid " + name + " parameters",
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := fn(ctx, owner, symbol, amount)
	if err != nil {
		status, kind, ok := resultStatus(err)
		if !ok {
			zap.L().Error("Position operation failed",
				zap.String("operation", name),
				zap.String("owner", owner),
				zap.String("symbol", symbol),
				zap.String("amount", amount.String()),
				zap.Error(err))
			return nil, err
		}
		zap.L().Info("Position operation rejected",
			zap.String("operation", name),
			zap.String("owner", owner),
			zap.String("symbol", symbol),
			zap.String("amount", amount.String()),
			zap.String("status", status),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return &models.OperationResult{
			Success:   false,
			Status:    status,
			Owner:     owner,
			Symbol:    symbol,
			Amount:    amount,
			ErrorKind: string(kind),
			Error:     err.Error(),
		}, nil
	}

	result := &models.OperationResult{
		Success: true,
		Status:  models.ResultOk,
		Owner:   owner,
		Symbol:  symbol,
		Amount:  amount,
	}
	if receipt.Health != nil {
		result.HealthFactor = receipt.Health.HealthFactor.String()
	}
	return result, nil
}

// Liquidate repays part of an unhealthy borrower's debt in exchange for
// discounted collateral. An empty collateral symbol seizes the largest
// collateral position.
func (s *LendingService) Liquidate(ctx context.Context, liquidator, borrower, debtSymbol, collateralSymbol string, repayAmount decimal.Decimal) (*models.LiquidationResult, error) {
	if liquidator == "" || borrower == "" || debtSymbol == "" || !repayAmount.IsPositive() {
		return &models.LiquidationResult{
			Success:   false,
			Status:    models.ResultRejected,
			ErrorKind: string(lending.KindValidation),
			Error:     "invalid liquidation parameters",
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := s.engine.Liquidate(ctx, liquidator, borrower, strings.ToUpper(debtSymbol), strings.ToUpper(collateralSymbol), repayAmount)
	if err != nil {
		status, kind, ok := resultStatus(err)
		if !ok {
			zap.L().Error("Liquidation failed",
				zap.String("liquidator", liquidator),
				zap.String("borrower", borrower),
				zap.Error(err))
			return nil, err
		}
		return &models.LiquidationResult{
			Success:   false,
			Status:    status,
			Borrower:  borrower,
			ErrorKind: string(kind),
			Error:     err.Error(),
		}, nil
	}

	return &models.LiquidationResult{
		Success:      true,
		Status:       models.ResultOk,
		Borrower:     borrower,
		RepaidAmount: receipt.Plan.RepayAmount,
		SeizedAmount: receipt.Plan.SeizeAmount,
		HealthBefore: receipt.Before.HealthFactor.String(),
		HealthAfter:  receipt.After.HealthFactor.String(),
	}, nil
}

// Health returns the owner's current solvency
func (s *LendingService) Health(ctx context.Context, owner string) (lending.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.engine.Health(ctx, owner)
}

// Accounts returns the owner's positions settled to now
func (s *LendingService) Accounts(owner string) []models.Account {
	return s.engine.Accounts(owner)
}

// Markets returns every market with its current rates
func (s *LendingService) Markets() ([]models.Market, []lending.MarketRates) {
	markets := s.engine.Markets()
	rates := make([]lending.MarketRates, 0, len(markets))
	for _, m := range markets {
		rates = append(rates, lending.RatesOf(m, s.engine.Model()))
	}
	return markets, rates
}

// ListMarket lists or re-lists a market
func (s *LendingService) ListMarket(ctx context.Context, p lending.MarketParams) (models.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	return s.engine.ListMarket(ctx, p)
}

// DelistMarket blocks new positions in a market
func (s *LendingService) DelistMarket(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.engine.DelistMarket(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}
