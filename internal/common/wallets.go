package common

import (
	"context"
	"fmt"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"

	"go.uber.org/zap"
)

// WalletClient is the part of the Prime API used to provision custody wallets
type WalletClient interface {
	ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error)
	CreateWallet(ctx context.Context, portfolioId, name, symbol, walletType string) (*models.Wallet, error)
	CreateDepositAddress(ctx context.Context, portfolioId, walletId, asset, network string) (*models.DepositAddress, error)
}

// AddressRegistry stores the custody addresses handed out to users
type AddressRegistry interface {
	GetAddresses(ctx context.Context, userId, asset, network string) ([]models.Address, error)
	StoreAddress(ctx context.Context, params store.StoreAddressParams) (*models.Address, error)
}

// WalletProvisioner gives each user a Prime wallet and deposit address for
// every market that has a custody network. The custody adapter later moves
// collateral out of that wallet into escrow.
type WalletProvisioner struct {
	Client      WalletClient
	Registry    AddressRegistry
	PortfolioId string
}

// ProvisionResult is the outcome for one user and market
type ProvisionResult struct {
	Symbol  string
	Network string
	Address string
	Existed bool
}

// Provision returns the user's address for the market, creating the wallet
// and deposit address when none is registered yet.
func (p *WalletProvisioner) Provision(ctx context.Context, userId string, market MarketConfig) (*ProvisionResult, error) {
	result := &ProvisionResult{Symbol: market.Symbol, Network: market.Network}

	existing, err := p.Registry.GetAddresses(ctx, userId, market.Symbol, market.Network)
	if err != nil {
		return nil, fmt.Errorf("error checking existing addresses: %w", err)
	}
	if len(existing) > 0 {
		zap.L().Info("User already has a custody address",
			zap.String("user_id", userId),
			zap.String("asset", market.Symbol),
			zap.Int("count", len(existing)),
			zap.String("latest_address", existing[0].Address))
		result.Address = existing[0].Address
		result.Existed = true
		return result, nil
	}

	walletId, err := p.walletFor(ctx, market.Symbol)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Creating deposit address",
		zap.String("asset", market.Symbol),
		zap.String("network", market.Network),
		zap.String("wallet_id", walletId))

	depositAddress, err := p.Client.CreateDepositAddress(ctx, p.PortfolioId, walletId, market.Symbol, market.Network)
	if err != nil {
		return nil, fmt.Errorf("error creating deposit address: %w", err)
	}

	stored, err := p.Registry.StoreAddress(ctx, store.StoreAddressParams{
		UserId:            userId,
		Asset:             market.Symbol,
		Network:           market.Network,
		Address:           depositAddress.Address,
		WalletId:          walletId,
		AccountIdentifier: depositAddress.Id,
	})
	if err != nil {
		return nil, fmt.Errorf("error storing address to database: %w", err)
	}

	result.Address = stored.Address
	return result, nil
}

// walletFor retrieves an existing trading wallet or creates a new one
func (p *WalletProvisioner) walletFor(ctx context.Context, symbol string) (string, error) {
	wallets, err := p.Client.ListWallets(ctx, p.PortfolioId, "TRADING", []string{symbol})
	if err != nil {
		return "", fmt.Errorf("error listing wallets: %w", err)
	}

	if len(wallets) > 0 {
		zap.L().Info("Using existing wallet",
			zap.String("asset", symbol),
			zap.String("wallet_name", wallets[0].Name),
			zap.String("wallet_id", wallets[0].Id))
		return wallets[0].Id, nil
	}

	walletName := fmt.Sprintf("%s Collateral Wallet", symbol)
	zap.L().Info("Creating new wallet",
		zap.String("asset", symbol),
		zap.String("wallet_name", walletName))

	wallet, err := p.Client.CreateWallet(ctx, p.PortfolioId, walletName, symbol, "TRADING")
	if err != nil {
		return "", fmt.Errorf("error creating wallet: %w", err)
	}
	return wallet.Id, nil
}

// CustodyMarkets filters markets down to those with a custody network
func CustodyMarkets(markets []MarketConfig) []MarketConfig {
	var out []MarketConfig
	for _, m := range markets {
		if m.Network != "" {
			out = append(out, m)
		}
	}
	return out
}
