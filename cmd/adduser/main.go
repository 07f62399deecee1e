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
	"regexp"
	"strings"

	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"
	"rwa-lending-go/internal/database"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type generationStats struct {
	successCount int
	failedAssets []string
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func provisionAddresses(ctx context.Context, dbService *database.Service, userId string, markets []common.MarketConfig) generationStats {
	stats := generationStats{failedAssets: []string{}}

	primeService, portfolio, err := common.InitializePrime(ctx)
	if err != nil {
		zap.L().Error("Failed to initialize Prime", zap.Error(err))
		for _, m := range markets {
			stats.failedAssets = append(stats.failedAssets, m.Symbol)
		}
		return stats
	}

	provisioner := &common.WalletProvisioner{
		Client:      primeService,
		Registry:    dbService,
		PortfolioId: portfolio.Id,
	}

	fmt.Printf("Provisioning custody addresses for %d assets...\n\n", len(markets))
	for _, m := range markets {
		result, err := provisioner.Provision(ctx, userId, m)
		if err != nil {
			zap.L().Error("Failed to provision custody address",
				zap.String("asset", m.Symbol),
				zap.Error(err))
			fmt.Printf("✗ %s-%s: Failed to create address\n", m.Symbol, m.Network)
			stats.failedAssets = append(stats.failedAssets, m.Symbol)
			continue
		}
		if result.Existed {
			fmt.Printf("✓ %s-%s: Address already exists\n", m.Symbol, m.Network)
		} else {
			fmt.Printf("✓ %s-%s: %s\n", m.Symbol, m.Network, result.Address)
		}
		stats.successCount++
	}
	return stats
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	verifiedFlag := flag.Bool("verified", false, "Mark the user as KYC verified")
	walletsFlag := flag.Bool("wallets", false, "Provision Prime custody addresses for collateral markets")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" {
		zap.L().Fatal("Both flags are required: --name and --email")
	}

	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}

	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}

	zap.L().Info("Starting user creation process",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	userId := uuid.New().String()

	zap.L().Info("Creating user in database",
		zap.String("id", userId),
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag))

	user, err := dbService.CreateUser(ctx, userId, *nameFlag, *emailFlag)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			zap.L().Fatal("User already exists with this email", zap.String("email", *emailFlag))
		}
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	if *verifiedFlag {
		if err := dbService.SetUserVerified(ctx, user.Id, true); err != nil {
			zap.L().Fatal("Failed to mark user verified", zap.Error(err))
		}
		user.KycVerified = true
	}

	fmt.Println()
	common.PrintHeader("USER CREATED", common.DefaultWidth)
	fmt.Printf("ID:       %s\n", user.Id)
	fmt.Printf("Name:     %s\n", user.Name)
	fmt.Printf("Email:    %s\n", user.Email)
	fmt.Printf("Verified: %t\n", user.KycVerified)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User created successfully", zap.String("id", user.Id))

	if !*walletsFlag {
		return
	}

	markets, err := common.LoadMarketConfig(cfg.Lending.MarketsFile)
	if err != nil {
		zap.L().Fatal("Failed to load market config", zap.Error(err))
	}
	markets = common.CustodyMarkets(markets)
	if len(markets) == 0 {
		fmt.Printf("No markets with a custody network in %s\n", cfg.Lending.MarketsFile)
		return
	}

	stats := provisionAddresses(ctx, dbService, user.Id, markets)

	fmt.Println()
	common.PrintHeader("ADDRESS GENERATION SUMMARY", common.DefaultWidth)
	fmt.Printf("Total Assets:      %d\n", len(markets))
	fmt.Printf("Successful:        %d\n", stats.successCount)
	fmt.Printf("Failed:            %d\n", len(stats.failedAssets))
	if len(stats.failedAssets) > 0 {
		fmt.Printf("Failed Assets:     %s\n", strings.Join(stats.failedAssets, ", "))
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	if len(stats.failedAssets) > 0 {
		zap.L().Warn("User created but some addresses failed to generate",
			zap.String("user_id", user.Id),
			zap.Int("successful", stats.successCount),
			zap.Strings("failed_assets", stats.failedAssets))
		fmt.Println("You can re-run setup to retry: go run cmd/setup/main.go")
	}
}
