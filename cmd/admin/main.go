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

	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"

	"go.uber.org/zap"
)

var adminActions = []string{"list", "delist", "verify", "unverify"}

func findMarket(markets []common.MarketConfig, symbol string) (common.MarketConfig, bool) {
	for _, m := range markets {
		if m.Symbol == symbol {
			return m, true
		}
	}
	return common.MarketConfig{}, false
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	actionFlag := flag.String("action", "", "One of: "+strings.Join(adminActions, ", ")+" (required)")
	symbolFlag := flag.String("symbol", "", "Market symbol (list, delist)")
	emailFlag := flag.String("email", "", "User email (verify, unverify)")
	flag.Parse()

	action := strings.ToLower(*actionFlag)
	symbol := strings.ToUpper(strings.TrimSpace(*symbolFlag))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	switch action {
	case "list", "delist":
		if symbol == "" {
			zap.L().Fatal("--symbol is required", zap.String("action", action))
		}
	case "verify", "unverify":
		if *emailFlag == "" {
			zap.L().Fatal("--email is required", zap.String("action", action))
		}
	default:
		zap.L().Fatal("Unknown action",
			zap.String("action", *actionFlag),
			zap.Strings("expected", adminActions))
	}

	if action == "verify" || action == "unverify" {
		dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize database", zap.Error(err))
		}
		defer dbService.Close()

		user, err := dbService.GetUserByEmail(ctx, *emailFlag)
		if err != nil {
			zap.L().Fatal("User not found", zap.String("email", *emailFlag), zap.Error(err))
		}
		verified := action == "verify"
		if err := dbService.SetUserVerified(ctx, user.Id, verified); err != nil {
			zap.L().Fatal("Failed to update KYC status", zap.Error(err))
		}
		fmt.Printf("✓ %s (%s) verified: %t\n", user.Name, user.Email, verified)
		return
	}

	ls, err := common.InitializeLending(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize lending engine", zap.Error(err))
	}
	defer ls.Close()

	svc := ls.LendingOnly(cfg.Lending.OperationTimeout)

	if action == "delist" {
		if err := svc.DelistMarket(ctx, symbol); err != nil {
			zap.L().Fatal("Failed to delist market", zap.String("symbol", symbol), zap.Error(err))
		}
		fmt.Printf("✓ %s delisted; existing positions can still be repaid and withdrawn\n", symbol)
		return
	}

	// Listing takes its risk parameters from the markets file, which also
	// re-lists a market that was delisted earlier
	entry, ok := findMarket(ls.Markets, symbol)
	if !ok {
		zap.L().Fatal("Market not found in markets file",
			zap.String("symbol", symbol),
			zap.String("file", cfg.Lending.MarketsFile))
	}
	params, err := entry.Params()
	if err != nil {
		zap.L().Fatal("Invalid market parameters", zap.Error(err))
	}
	market, err := svc.ListMarket(ctx, params)
	if err != nil {
		zap.L().Fatal("Failed to list market", zap.String("symbol", symbol), zap.Error(err))
	}

	common.PrintHeader("MARKET LISTED", common.DefaultWidth)
	fmt.Printf("Symbol:                %s\n", market.Symbol)
	fmt.Printf("Collateral Factor:     %s\n", common.FormatPercent(market.CollateralFactor))
	fmt.Printf("Liquidation Threshold: %s\n", common.FormatPercent(market.LiquidationThreshold))
	fmt.Printf("Liquidation Penalty:   %s\n", common.FormatPercent(market.LiquidationPenalty))
	fmt.Printf("Reserve Factor:        %s\n", common.FormatPercent(market.ReserveFactor))
	common.PrintSeparator("=", common.DefaultWidth)
}
