package main

import (
	"context"
	"flag"
	"fmt"

	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"

	"go.uber.org/zap"
)

// printMarkets shows the listed markets with their risk parameters and rates
func printMarkets(ls *common.LendingServices) {
	common.PrintHeader("LISTED MARKETS", common.DefaultWidth)
	fmt.Printf("%-8s %8s %8s %8s %8s %12s\n", "SYMBOL", "CF", "LT", "PENALTY", "RESERVE", "BORROW APY")
	for _, m := range ls.Engine.Markets() {
		if !m.IsListed {
			continue
		}
		apy := "n/a"
		if rates, err := ls.Engine.Rates(m.Symbol); err == nil {
			apy = common.FormatPercent(rates.BorrowAPY)
		}
		fmt.Printf("%-8s %8s %8s %8s %8s %12s\n",
			m.Symbol,
			common.FormatPercent(m.CollateralFactor),
			common.FormatPercent(m.LiquidationThreshold),
			common.FormatPercent(m.LiquidationPenalty),
			common.FormatPercent(m.ReserveFactor),
			apy)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func provisionWallets(ctx context.Context, ls *common.LendingServices) {
	markets := common.CustodyMarkets(ls.Markets)
	if len(markets) == 0 {
		zap.L().Info("No markets with a custody network, skipping wallet provisioning")
		return
	}

	primeService, portfolio, err := common.InitializePrime(ctx)
	if err != nil {
		zap.L().Fatal("Failed to initialize Prime", zap.Error(err))
	}

	provisioner := &common.WalletProvisioner{
		Client:      primeService,
		Registry:    ls.DbService,
		PortfolioId: portfolio.Id,
	}

	users, err := ls.DbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	var created, failed int
	var failedAssets []string

	for _, user := range users {
		zap.L().Info("Processing user",
			zap.String("id", user.Id),
			zap.String("name", user.Name),
			zap.String("email", user.Email))

		for _, market := range markets {
			result, err := provisioner.Provision(ctx, user.Id, market)
			if err != nil {
				zap.L().Error("Failed to provision custody address",
					zap.String("user_id", user.Id),
					zap.String("asset", market.Symbol),
					zap.Error(err))
				failed++
				failedAssets = append(failedAssets, fmt.Sprintf("%s/%s", user.Name, market.Symbol))
				continue
			}
			if !result.Existed {
				created++
			}
		}
	}

	if failed > 0 {
		zap.L().Warn("Wallet provisioning completed with some failures",
			zap.Int("total_addresses_created", created),
			zap.Int("failed_addresses", failed),
			zap.Strings("failed_user_assets", failedAssets))
	} else {
		zap.L().Info("Wallet provisioning completed successfully",
			zap.Int("total_addresses_created", created))
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	initFlag := flag.Bool("init", false, "Initialize the database and markets only, without provisioning Prime wallets")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// Opening the engine creates the schema and lists new markets from the markets file
	zap.L().Info("Initializing lending engine", zap.String("markets_file", cfg.Lending.MarketsFile))
	ls, err := common.InitializeLending(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize lending engine", zap.Error(err))
	}
	defer ls.Close()

	printMarkets(ls)

	if *initFlag {
		zap.L().Info("Initialization complete")
		return
	}

	provisionWallets(ctx, ls)
}
