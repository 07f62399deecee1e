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
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rwa-lending-go/internal/models"
)

// AmountPrecision is the number of decimal places kept for token amounts
const AmountPrecision int32 = 18

// MarketParams are the admin-controlled risk parameters of a market
type MarketParams struct {
	Symbol               string
	CollateralFactor     decimal.Decimal
	LiquidationThreshold decimal.Decimal
	LiquidationPenalty   decimal.Decimal
	ReserveFactor        decimal.Decimal
}

// Validate checks collateralFactor <= liquidationThreshold <= 1 and the other bounds
func (p MarketParams) Validate() error {
	if !validSymbol(p.Symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, p.Symbol)
	}
	if p.CollateralFactor.IsNegative() || p.CollateralFactor.GreaterThan(one) {
		return fmt.Errorf("%w: collateral factor %s outside [0,1]", ErrInvalidRiskParams, p.CollateralFactor.String())
	}
	if p.LiquidationThreshold.LessThan(p.CollateralFactor) || p.LiquidationThreshold.GreaterThan(one) {
		return fmt.Errorf("%w: liquidation threshold %s outside [collateral factor,1]", ErrInvalidRiskParams, p.LiquidationThreshold.String())
	}
	if p.LiquidationPenalty.IsNegative() || p.LiquidationPenalty.GreaterThan(one) {
		return fmt.Errorf("%w: liquidation penalty %s outside [0,1]", ErrInvalidRiskParams, p.LiquidationPenalty.String())
	}
	if p.ReserveFactor.IsNegative() || p.ReserveFactor.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: reserve factor %s outside [0,1)", ErrInvalidRiskParams, p.ReserveFactor.String())
	}
	return nil
}

// NewMarket returns a listed market with fresh indices
func NewMarket(p MarketParams, now time.Time) models.Market {
	return models.Market{
		Symbol:               p.Symbol,
		IsListed:             true,
		CollateralFactor:     p.CollateralFactor,
		LiquidationThreshold: p.LiquidationThreshold,
		LiquidationPenalty:   p.LiquidationPenalty,
		ReserveFactor:        p.ReserveFactor,
		TotalBorrows:         decimal.Zero,
		TotalSupply:          decimal.Zero,
		TotalReserves:        decimal.Zero,
		BorrowIndex:          one,
		SupplyIndex:          one,
		LastAccrualTimestamp: now,
	}
}

// Accrual describes what one call to Accrue applied
type Accrual struct {
	Elapsed        time.Duration
	Utilization    decimal.Decimal
	BorrowRate     decimal.Decimal
	SupplyRate     decimal.Decimal
	InterestFactor decimal.Decimal
	Interest       decimal.Decimal
	ReserveShare   decimal.Decimal
}

// Accrue brings the market's totals and indices forward to now. Calls at the
// same instant are no-ops. A clock that moved backwards is an inconsistency.
func Accrue(m *models.Market, model InterestRateModel, now time.Time) (Accrual, error) {
	elapsed := now.Sub(m.LastAccrualTimestamp)
	if elapsed < 0 {
		return Accrual{}, E(KindInconsistency, "accrue "+m.Symbol,
			fmt.Errorf("%w: last accrual %s, now %s", ErrNegativeElapsed,
				m.LastAccrualTimestamp.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano)))
	}
	if elapsed == 0 {
		return Accrual{}, nil
	}

	seconds := decimal.NewFromInt(elapsed.Nanoseconds()).Shift(-9)
	u := Utilization(m.Cash(), m.TotalBorrows, m.TotalReserves)
	borrowRate := model.BorrowRate(u)
	supplyRate := model.SupplyRate(u, m.ReserveFactor)

	factor := borrowRate.Mul(seconds).Round(Precision)
	interest := m.TotalBorrows.Mul(factor).Round(AmountPrecision)
	reserveShare := interest.Mul(m.ReserveFactor).Round(AmountPrecision)

	m.TotalBorrows = m.TotalBorrows.Add(interest)
	m.TotalReserves = m.TotalReserves.Add(reserveShare)
	m.TotalSupply = m.TotalSupply.Add(interest.Sub(reserveShare))
	m.BorrowIndex = m.BorrowIndex.Mul(one.Add(factor)).Round(Precision)
	m.SupplyIndex = m.SupplyIndex.Mul(one.Add(supplyRate.Mul(seconds))).Round(Precision)
	m.LastAccrualTimestamp = now

	return Accrual{
		Elapsed:        elapsed,
		Utilization:    u,
		BorrowRate:     borrowRate,
		SupplyRate:     supplyRate,
		InterestFactor: factor,
		Interest:       interest,
		ReserveShare:   reserveShare,
	}, nil
}

// MarketRates is the current rate picture of a market
type MarketRates struct {
	Symbol      string
	Utilization decimal.Decimal
	BorrowRate  decimal.Decimal
	SupplyRate  decimal.Decimal
	BorrowAPY   decimal.Decimal
	SupplyAPY   decimal.Decimal
}

// RatesOf computes the rates of m under model
func RatesOf(m models.Market, model InterestRateModel) MarketRates {
	u := Utilization(m.Cash(), m.TotalBorrows, m.TotalReserves)
	borrowRate := model.BorrowRate(u)
	supplyRate := model.SupplyRate(u, m.ReserveFactor)
	return MarketRates{
		Symbol:      m.Symbol,
		Utilization: u,
		BorrowRate:  borrowRate,
		SupplyRate:  supplyRate,
		BorrowAPY:   Annualize(borrowRate),
		SupplyAPY:   Annualize(supplyRate),
	}
}

func validSymbol(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
