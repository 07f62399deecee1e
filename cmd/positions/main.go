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

	"rwa-lending-go/internal/api"
	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"
	"rwa-lending-go/internal/database"
	"rwa-lending-go/internal/models"

	"go.uber.org/zap"
)

type positionStats struct {
	totalUsers         int
	totalAccounts      int
	usersWithPositions int
	liquidatable       int
}

func printMarkets(svc *api.LendingService) {
	markets, rates := svc.Markets()

	common.PrintHeader("MARKETS", common.WideWidth)
	fmt.Printf("%-8s %-6s %16s %16s %14s %8s %11s %11s\n",
		"SYMBOL", "LISTED", "SUPPLY", "BORROWS", "RESERVES", "UTIL", "BORROW APY", "SUPPLY APY")
	for i, m := range markets {
		r := rates[i]
		fmt.Printf("%-8s %-6t %16s %16s %14s %8s %11s %11s\n",
			m.Symbol,
			m.IsListed,
			common.FormatAmount(m.TotalSupply),
			common.FormatAmount(m.TotalBorrows),
			common.FormatAmount(m.TotalReserves),
			common.FormatPercent(r.Utilization),
			common.FormatPercent(r.BorrowAPY),
			common.FormatPercent(r.SupplyAPY))
	}
}

func printAccount(a models.Account, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-8s collateral: %16s  borrowed: %16s  supplied: %16s\n",
		symbol,
		a.Symbol,
		common.FormatAmount(a.Collateral),
		common.FormatAmount(a.Borrowed),
		common.FormatAmount(a.Supplied))
}

func printHistory(events []models.PositionEvent) {
	fmt.Printf("│  Recent activity:\n")
	for i, ev := range events {
		prefix := common.BoxDetailPrefix(i == len(events)-1)
		fmt.Printf("%s   %s %-20s %-8s %16s (ref: %s)\n",
			prefix,
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.EventType,
			ev.Symbol,
			common.FormatAmount(ev.Amount),
			common.ShortId(ev.Reference))
	}
}

func printCustodyAddresses(addresses []models.Address) {
	fmt.Printf("│  Custody wallets:\n")
	for i, addr := range addresses {
		prefix := common.BoxDetailPrefix(i == len(addresses)-1)
		fmt.Printf("%s   %-24s → %s (wallet: %s)\n",
			prefix,
			fmt.Sprintf("%s-%s", addr.Asset, addr.Network),
			addr.Address,
			common.ShortId(addr.WalletId))
	}
}

type reportOptions struct {
	historyLimit int
	addresses    bool
}

func processUser(ctx context.Context, user common.UserInfo, svc *api.LendingService, dbService *database.Service, opts reportOptions) (int, bool, error) {
	accounts := svc.Accounts(user.Id)
	if len(accounts) == 0 {
		return 0, false, nil
	}

	health, err := svc.Health(ctx, user.Id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compute health: %w", err)
	}

	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s  KYC: %t\n", user.Id, user.Verified)
	fmt.Printf("│  Collateral: %s  Borrowed: %s  Power: %s\n",
		common.FormatUSD(health.CollateralValue),
		common.FormatUSD(health.BorrowValue),
		common.FormatUSD(health.BorrowingPower))
	fmt.Printf("│  Health Factor: %s  Risk: %s  Liquidatable: %t\n",
		health.HealthFactor.String(), health.Risk, health.Liquidatable)
	common.PrintBoxSeparator(98)

	for i, a := range accounts {
		printAccount(a, i == len(accounts)-1 && opts.historyLimit <= 0 && !opts.addresses)
	}

	if opts.addresses {
		addresses, err := dbService.GetAllUserAddresses(ctx, user.Id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to get addresses: %w", err)
		}
		if len(addresses) > 0 {
			printCustodyAddresses(addresses)
		}
	}

	if opts.historyLimit > 0 {
		events, err := dbService.GetPositionHistory(ctx, user.Id, "", opts.historyLimit, 0)
		if err != nil {
			return 0, false, fmt.Errorf("failed to get position history: %w", err)
		}
		if len(events) > 0 {
			printHistory(events)
		}
	}

	return len(accounts), health.Liquidatable, nil
}

func processUsersAndGenerateReport(ctx context.Context, users []common.UserInfo, svc *api.LendingService, dbService *database.Service, opts reportOptions, logger *zap.Logger) positionStats {
	stats := positionStats{}

	for _, user := range users {
		stats.totalUsers++

		count, liquidatable, err := processUser(ctx, user, svc, dbService, opts)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
			continue
		}

		if count > 0 {
			stats.usersWithPositions++
			stats.totalAccounts += count
		}
		if liquidatable {
			stats.liquidatable++
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	historyFlag := flag.Int("history", 0, "Number of recent position events to show per user")
	addressesFlag := flag.Bool("addresses", false, "Show each user's custody wallets")
	flag.Parse()

	logger.Info("Starting position report")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// The engine is needed to accrue interest and price health, but not Prime
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	ls, err := common.InitializeLending(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize lending engine", zap.Error(err))
	}
	defer ls.Close()

	svc := ls.LendingOnly(cfg.Lending.OperationTimeout)

	users, err := common.InitializeUsers(ctx, ls.DbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	printMarkets(svc)

	common.PrintHeader("USER POSITION REPORT", common.WideWidth)

	stats := processUsersAndGenerateReport(ctx, users, svc, ls.DbService, reportOptions{
		historyLimit: *historyFlag,
		addresses:    *addressesFlag,
	}, logger)

	summary := fmt.Sprintf("SUMMARY: %d users with positions (%d accounts, %d liquidatable) across %d users queried",
		stats.usersWithPositions, stats.totalAccounts, stats.liquidatable, stats.totalUsers)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Position report completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_positions", stats.usersWithPositions),
		zap.Int("total_accounts", stats.totalAccounts),
		zap.Int("liquidatable", stats.liquidatable))
}
