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

package lending

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"rwa-lending-go/internal/models"
)

// Prices is an immutable price snapshot keyed by market symbol. One snapshot
// backs every value in a single health or liquidation decision.
type Prices map[string]decimal.Decimal

// Price returns the snapshot price of symbol
func (p Prices) Price(symbol string) (decimal.Decimal, error) {
	price, ok := p[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingQuote, symbol)
	}
	return price, nil
}

// PriceSource produces consistent price snapshots
type PriceSource interface {
	Snapshot(ctx context.Context, symbols []string) (Prices, error)
}

// RiskLevel is the display band of a health factor
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var (
	riskLowFloor    = decimal.RequireFromString("1.5")
	riskMediumFloor = decimal.RequireFromString("1.2")
)

// HealthFactor is a solvency ratio that is infinite when there is no debt
type HealthFactor struct {
	Value    decimal.Decimal
	Infinite bool
}

// InfiniteHealth is the health factor of an owner without debt
var InfiniteHealth = HealthFactor{Infinite: true}

// GreaterThan compares two health factors, treating infinity as the maximum
func (h HealthFactor) GreaterThan(o HealthFactor) bool {
	switch {
	case h.Infinite && o.Infinite:
		return false
	case h.Infinite:
		return true
	case o.Infinite:
		return false
	}
	return h.Value.GreaterThan(o.Value)
}

// BelowOne reports whether the owner can be liquidated
func (h HealthFactor) BelowOne() bool {
	return !h.Infinite && h.Value.LessThan(one)
}

// Risk maps the factor to its display band
func (h HealthFactor) Risk() RiskLevel {
	switch {
	case h.Infinite || h.Value.GreaterThanOrEqual(riskLowFloor):
		return RiskLow
	case h.Value.GreaterThanOrEqual(riskMediumFloor):
		return RiskMedium
	case h.Value.GreaterThanOrEqual(one):
		return RiskHigh
	default:
		return RiskCritical
	}
}

func (h HealthFactor) String() string {
	if h.Infinite {
		return "inf"
	}
	return h.Value.StringFixed(6)
}

// Position pairs an account with the market state it is valued against
type Position struct {
	Market  models.Market
	Account models.Account
}

// Health is the solvency picture of one owner
type Health struct {
	Owner                  string
	CollateralValue        decimal.Decimal
	BorrowValue            decimal.Decimal
	ThresholdValue         decimal.Decimal
	BorrowLimit            decimal.Decimal
	LiquidationThreshold   decimal.Decimal
	HealthFactor           HealthFactor
	BorrowingPower         decimal.Decimal
	Liquidatable           bool
	Risk                   RiskLevel
	CollateralValueByAsset map[string]decimal.Decimal
}

// ComputeHealth values positions against one price snapshot. The liquidation
// threshold is blended across collateral assets weighted by collateral value.
func ComputeHealth(owner string, positions []Position, prices Prices) (Health, error) {
	h := Health{
		Owner:                  owner,
		CollateralValue:        decimal.Zero,
		BorrowValue:            decimal.Zero,
		ThresholdValue:         decimal.Zero,
		BorrowLimit:            decimal.Zero,
		LiquidationThreshold:   decimal.Zero,
		CollateralValueByAsset: make(map[string]decimal.Decimal),
	}

	sorted := append([]Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Market.Symbol < sorted[j].Market.Symbol })

	for _, p := range sorted {
		debt := EffectiveBorrowed(p.Account, p.Market.BorrowIndex)
		if p.Account.Collateral.IsZero() && debt.IsZero() {
			continue
		}
		price, err := prices.Price(p.Market.Symbol)
		if err != nil {
			return Health{}, err
		}
		if p.Account.Collateral.IsPositive() {
			value := p.Account.Collateral.Mul(price)
			h.CollateralValue = h.CollateralValue.Add(value)
			h.ThresholdValue = h.ThresholdValue.Add(value.Mul(p.Market.LiquidationThreshold))
			h.BorrowLimit = h.BorrowLimit.Add(value.Mul(p.Market.CollateralFactor))
			h.CollateralValueByAsset[p.Market.Symbol] = value
		}
		if debt.IsPositive() {
			h.BorrowValue = h.BorrowValue.Add(debt.Mul(price))
		}
	}

	if h.CollateralValue.IsPositive() {
		h.LiquidationThreshold = h.ThresholdValue.DivRound(h.CollateralValue, Precision)
	}
	h.BorrowingPower = h.BorrowLimit.Sub(h.BorrowValue)
	if h.BorrowValue.IsZero() {
		h.HealthFactor = InfiniteHealth
	} else {
		h.HealthFactor = HealthFactor{Value: h.ThresholdValue.DivRound(h.BorrowValue, Precision)}
	}
	h.Liquidatable = h.HealthFactor.BelowOne()
	h.Risk = h.HealthFactor.Risk()
	return h, nil
}

// checkSolvent gates a mutation that increases risk
func checkSolvent(h Health) error {
	if h.BorrowingPower.IsNegative() {
		return fmt.Errorf("%w: borrowing power %s", ErrInsufficientCollateral, h.BorrowingPower.StringFixed(2))
	}
	if h.HealthFactor.BelowOne() {
		return fmt.Errorf("%w: health factor %s", ErrHealthCheckFailed, h.HealthFactor.String())
	}
	return nil
}
