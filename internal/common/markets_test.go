package common

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMarkets = `
markets:
  - symbol: usdc
    collateral_factor: "0"
    liquidation_threshold: "0"
    liquidation_penalty: "0"
    reserve_factor: "0.1"
    price: "1"
  - symbol: RGLD
    collateral_factor: "0.75"
    liquidation_threshold: "0.8"
    liquidation_penalty: "0.05"
    reserve_factor: "0.1"
    price: "170"
    network: ethereum-mainnet
`

func TestParseMarketConfig(t *testing.T) {
	markets, err := parseMarketConfig("markets.yaml", []byte(testMarkets))
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "USDC", markets[0].Symbol)
	assert.Equal(t, "ethereum-mainnet", markets[1].Network)

	p, err := markets[1].Params()
	require.NoError(t, err)
	assert.True(t, p.CollateralFactor.Equal(decimal.RequireFromString("0.75")))
	assert.True(t, p.LiquidationThreshold.Equal(decimal.RequireFromString("0.8")))

	prices := MarketPrices(markets)
	assert.True(t, prices["RGLD"].Equal(decimal.NewFromInt(170)))
}

func TestParseMarketConfigErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"missing symbol": "markets:\n  - collateral_factor: \"0.5\"\n",
		"duplicate":      "markets:\n  - symbol: RGLD\n  - symbol: rgld\n",
		"bad price":      "markets:\n  - symbol: RGLD\n    price: cheap\n",
		"bad yaml":       "markets: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseMarketConfig("markets.yaml", []byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMarketParamsValidation(t *testing.T) {
	m := MarketConfig{
		Symbol:               "RGLD",
		CollateralFactor:     "0.9",
		LiquidationThreshold: "0.8",
		LiquidationPenalty:   "0.05",
		ReserveFactor:        "0.1",
	}
	_, err := m.Params()
	assert.Error(t, err, "collateral factor above the liquidation threshold")

	m.CollateralFactor = "ninety"
	_, err = m.Params()
	assert.Error(t, err)
}
