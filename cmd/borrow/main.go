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


package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"rwa-lending-go/internal/api"
	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"
	"rwa-lending-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// priceOverrides collects repeated --price SYMBOL=VALUE flags
type priceOverrides map[string]decimal.Decimal

func (p priceOverrides) String() string {
	parts := make([]string, 0, len(p))
	for symbol, price := range p {
		parts = append(parts, symbol+"="+price.String())
	}
	return strings.Join(parts, ",")
}

func (p priceOverrides) Set(value string) error {
	symbol, raw, ok := strings.Cut(value, "=")
	if !ok || symbol == "" {
		return fmt.Errorf("expected SYMBOL=PRICE, got %q", value)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid price for %s: %w", symbol, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price for %s must be positive", symbol)
	}
	p[strings.ToUpper(symbol)] = price
	return nil
}

type positionRequest struct {
	action     string
	email      string
	asset      string
	amount     decimal.Decimal
	borrower   string
	collateral string
	prices     priceOverrides
}

var positionActions = []string{"deposit", "withdraw", "borrow", "repay", "supply", "redeem", "liquidate"}

func parseAndValidateFlags() (*positionRequest, error) {
	prices := priceOverrides{}
	actionFlag := flag.String("action", "", "One of: "+strings.Join(positionActions, ", ")+" (required)")
	emailFlag := flag.String("email", "", "Acting user email; the liquidator for liquidate (required)")
	assetFlag := flag.String("asset", "", "Market symbol; the debt market for liquidate (required)")
	amountFlag := flag.String("amount", "", "Amount; the repay amount for liquidate (required)")
	borrowerFlag := flag.String("borrower", "", "Borrower email (liquidate)")
	collateralFlag := flag.String("collateral", "", "Collateral market to seize (liquidate, optional)")
	flag.Var(prices, "price", "Override an oracle price for this run, SYMBOL=PRICE (repeatable)")
	flag.Parse()

	if *actionFlag == "" || *emailFlag == "" || *assetFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("flags are required: --action, --email, --asset, --amount")
	}

	action := strings.ToLower(*actionFlag)
	known := false
	for _, a := range positionActions {
		if a == action {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown action %q, expected one of: %s", action, strings.Join(positionActions, ", "))
	}
	if action == "liquidate" && *borrowerFlag == "" {
		return nil, fmt.Errorf("liquidate requires --borrower")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	return &positionRequest{
		action:     action,
		email:      *emailFlag,
		asset:      strings.ToUpper(*assetFlag),
		amount:     amount,
		borrower:   *borrowerFlag,
		collateral: strings.ToUpper(*collateralFlag),
		prices:     prices,
	}, nil
}

func runPosition(ctx context.Context, svc *api.LendingService, action, owner, asset string, amount decimal.Decimal) (*models.OperationResult, error) {
	switch action {
	case "deposit":
		return svc.DepositCollateral(ctx, owner, asset, amount)
	case "withdraw":
		return svc.WithdrawCollateral(ctx, owner, asset, amount)
	case "borrow":
		return svc.Borrow(ctx, owner, asset, amount)
	case "repay":
		return svc.Repay(ctx, owner, asset, amount)
	case "supply":
		return svc.SupplyLiquidity(ctx, owner, asset, amount)
	case "redeem":
		return svc.RedeemLiquidity(ctx, owner, asset, amount)
	}
	return nil, fmt.Errorf("unsupported action %q", action)
}

func printOperation(action string, user *models.User, result *models.OperationResult) {
	common.PrintHeader(strings.ToUpper(action), common.DefaultWidth)
	fmt.Printf("User:          %s (%s)\n", user.Name, user.Email)
	fmt.Printf("Market:        %s\n", result.Symbol)
	fmt.Printf("Amount:        %s\n", common.FormatAmount(result.Amount))
	fmt.Printf("Status:        %s\n", result.Status)
	if result.Success && result.HealthFactor != "" {
		fmt.Printf("Health Factor: %s\n", result.HealthFactor)
	}
	if !result.Success {
		fmt.Printf("Error Kind:    %s\n", result.ErrorKind)
		fmt.Printf("Error:         %s\n", result.Error)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func printLiquidation(liquidator, borrower *models.User, result *models.LiquidationResult) {
	common.PrintHeader("LIQUIDATION", common.DefaultWidth)
	fmt.Printf("Liquidator:    %s (%s)\n", liquidator.Name, liquidator.Email)
	fmt.Printf("Borrower:      %s (%s)\n", borrower.Name, borrower.Email)
	fmt.Printf("Status:        %s\n", result.Status)
	if result.Success {
		fmt.Printf("Repaid:        %s\n", common.FormatAmount(result.RepaidAmount))
		fmt.Printf("Seized:        %s\n", common.FormatAmount(result.SeizedAmount))
		fmt.Printf("Health Before: %s\n", result.HealthBefore)
		fmt.Printf("Health After:  %s\n", result.HealthAfter)
	} else {
		fmt.Printf("Error Kind:    %s\n", result.ErrorKind)
		fmt.Printf("Error:         %s\n", result.Error)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// Position operations need no custody or token ledger
	ls, err := common.InitializeLending(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize lending engine", zap.Error(err))
	}
	defer ls.Close()

	for symbol, price := range req.prices {
		zap.L().Info("Overriding oracle price", zap.String("symbol", symbol), zap.String("price", price.String()))
		ls.Prices.Set(symbol, price)
	}

	user, err := ls.DbService.GetUserByEmail(ctx, req.email)
	if err != nil {
		zap.L().Fatal("User not found", zap.String("email", req.email), zap.Error(err))
	}

	svc := ls.LendingOnly(cfg.Lending.OperationTimeout)

	if req.action == "liquidate" {
		borrower, err := ls.DbService.GetUserByEmail(ctx, req.borrower)
		if err != nil {
			zap.L().Fatal("Borrower not found", zap.String("email", req.borrower), zap.Error(err))
		}
		result, err := svc.Liquidate(ctx, user.Id, borrower.Id, req.asset, req.collateral, req.amount)
		if err != nil {
			zap.L().Fatal("Liquidation failed", zap.Error(err))
		}
		printLiquidation(user, borrower, result)
		return
	}

	result, err := runPosition(ctx, svc, req.action, user.Id, req.asset, req.amount)
	if err != nil {
		zap.L().Fatal("Position operation failed",
			zap.String("action", req.action),
			zap.Error(err))
	}
	printOperation(req.action, user, result)

	zap.L().Info("Position operation processed",
		zap.String("action", req.action),
		zap.String("user_id", user.Id),
		zap.String("asset", req.asset),
		zap.String("status", result.Status))
}
