package common

import (
	"context"
	"errors"
	"testing"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWalletClient struct {
	wallets        []models.Wallet
	createdWallets int
	createdAddrs   int
	addressErr     error
}

func (f *fakeWalletClient) ListWallets(_ context.Context, _, _ string, _ []string) ([]models.Wallet, error) {
	return f.wallets, nil
}

func (f *fakeWalletClient) CreateWallet(_ context.Context, _, name, symbol, walletType string) (*models.Wallet, error) {
	f.createdWallets++
	w := models.Wallet{Id: "wallet-new", Name: name, Symbol: symbol, Type: walletType}
	f.wallets = append(f.wallets, w)
	return &w, nil
}

func (f *fakeWalletClient) CreateDepositAddress(_ context.Context, _, walletId, asset, network string) (*models.DepositAddress, error) {
	if f.addressErr != nil {
		return nil, f.addressErr
	}
	f.createdAddrs++
	return &models.DepositAddress{Id: "acct-1", Address: "0xabc", Network: network, Asset: asset}, nil
}

type fakeRegistry struct {
	stored []store.StoreAddressParams
}

func (f *fakeRegistry) GetAddresses(_ context.Context, userId, asset, network string) ([]models.Address, error) {
	var out []models.Address
	for _, p := range f.stored {
		if p.UserId == userId && p.Asset == asset && p.Network == network {
			out = append(out, models.Address{UserId: p.UserId, Asset: p.Asset, Network: p.Network, Address: p.Address, WalletId: p.WalletId})
		}
	}
	return out, nil
}

func (f *fakeRegistry) StoreAddress(_ context.Context, params store.StoreAddressParams) (*models.Address, error) {
	f.stored = append(f.stored, params)
	return &models.Address{UserId: params.UserId, Asset: params.Asset, Network: params.Network, Address: params.Address, WalletId: params.WalletId}, nil
}

var gold = MarketConfig{Symbol: "RGLD", Network: "ethereum-mainnet"}

func TestProvisionCreatesWalletAndAddress(t *testing.T) {
	client := &fakeWalletClient{}
	registry := &fakeRegistry{}
	p := &WalletProvisioner{Client: client, Registry: registry, PortfolioId: "portfolio-1"}

	result, err := p.Provision(context.Background(), "user-1", gold)
	require.NoError(t, err)
	assert.False(t, result.Existed)
	assert.Equal(t, "0xabc", result.Address)
	assert.Equal(t, 1, client.createdWallets)
	require.Len(t, registry.stored, 1)
	assert.Equal(t, "wallet-new", registry.stored[0].WalletId)
	assert.Equal(t, "acct-1", registry.stored[0].AccountIdentifier)

	again, err := p.Provision(context.Background(), "user-1", gold)
	require.NoError(t, err)
	assert.True(t, again.Existed)
	assert.Equal(t, 1, client.createdAddrs)
}

func TestProvisionReusesWallet(t *testing.T) {
	client := &fakeWalletClient{wallets: []models.Wallet{{Id: "wallet-1", Name: "RGLD Trading Wallet"}}}
	registry := &fakeRegistry{}
	p := &WalletProvisioner{Client: client, Registry: registry, PortfolioId: "portfolio-1"}

	_, err := p.Provision(context.Background(), "user-2", gold)
	require.NoError(t, err)
	assert.Zero(t, client.createdWallets)
	require.Len(t, registry.stored, 1)
	assert.Equal(t, "wallet-1", registry.stored[0].WalletId)
}

func TestProvisionAddressError(t *testing.T) {
	client := &fakeWalletClient{addressErr: errors.New("prime unavailable")}
	registry := &fakeRegistry{}
	p := &WalletProvisioner{Client: client, Registry: registry, PortfolioId: "portfolio-1"}

	_, err := p.Provision(context.Background(), "user-1", gold)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prime unavailable")
	assert.Empty(t, registry.stored)
}

func TestCustodyMarkets(t *testing.T) {
	markets := []MarketConfig{{Symbol: "USDC"}, gold}
	out := CustodyMarkets(markets)
	require.Len(t, out, 1)
	assert.Equal(t, "RGLD", out[0].Symbol)
}
