package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rwa-lending-go/internal/lending"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// MarketConfig is one market entry of the markets file. Price seeds the
// static oracle for assets whose price is administered.
type MarketConfig struct {
	Symbol               string `yaml:"symbol"`
	CollateralFactor     string `yaml:"collateral_factor"`
	LiquidationThreshold string `yaml:"liquidation_threshold"`
	LiquidationPenalty   string `yaml:"liquidation_penalty"`
	ReserveFactor        string `yaml:"reserve_factor"`
	Price                string `yaml:"price"`
	Network              string `yaml:"network"`
}

type MarketsConfig struct {
	Markets []MarketConfig `yaml:"markets"`
}

// Params converts the entry to validated engine parameters
func (m MarketConfig) Params() (lending.MarketParams, error) {
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"collateral_factor", m.CollateralFactor, new(decimal.Decimal)},
		{"liquidation_threshold", m.LiquidationThreshold, new(decimal.Decimal)},
		{"liquidation_penalty", m.LiquidationPenalty, new(decimal.Decimal)},
		{"reserve_factor", m.ReserveFactor, new(decimal.Decimal)},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.value)
		if err != nil {
			return lending.MarketParams{}, fmt.Errorf("market %s: invalid %s %q: %w", m.Symbol, f.name, f.value, err)
		}
		*f.dst = v
	}
	p := lending.MarketParams{
		Symbol:               m.Symbol,
		CollateralFactor:     *fields[0].dst,
		LiquidationThreshold: *fields[1].dst,
		LiquidationPenalty:   *fields[2].dst,
		ReserveFactor:        *fields[3].dst,
	}
	if err := p.Validate(); err != nil {
		return lending.MarketParams{}, fmt.Errorf("market %s: %w", m.Symbol, err)
	}
	return p, nil
}

func LoadMarketConfig(marketsFile string) ([]MarketConfig, error) {
	var marketsPath string
	if filepath.IsAbs(marketsFile) {
		marketsPath = marketsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		marketsPath = filepath.Join(wd, marketsFile)
	}

	data, err := os.ReadFile(marketsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", marketsFile, err)
	}
	return parseMarketConfig(marketsFile, data)
}

func parseMarketConfig(name string, data []byte) ([]MarketConfig, error) {
	var config MarketsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", name, err)
	}

	seen := make(map[string]bool, len(config.Markets))
	for i, market := range config.Markets {
		if market.Symbol == "" {
			return nil, fmt.Errorf("market at index %d missing symbol", i)
		}
		symbol := strings.ToUpper(market.Symbol)
		if seen[symbol] {
			return nil, fmt.Errorf("market %s listed twice", symbol)
		}
		seen[symbol] = true
		config.Markets[i].Symbol = symbol
		if market.Price != "" {
			if _, err := decimal.NewFromString(market.Price); err != nil {
				return nil, fmt.Errorf("market %s: invalid price %q: %w", symbol, market.Price, err)
			}
		}
	}

	return config.Markets, nil
}

// MarketPrices returns the configured static prices keyed by symbol
func MarketPrices(markets []MarketConfig) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(markets))
	for _, m := range markets {
		if m.Price == "" {
			continue
		}
		prices[m.Symbol] = decimal.RequireFromString(m.Price)
	}
	return prices
}
