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

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept for rates, indices and ratios
const Precision int32 = 27

// SecondsPerYear converts per-second rates to annual figures for display
const SecondsPerYear int64 = 365 * 24 * 60 * 60

var (
	one     = decimal.NewFromInt(1)
	epsilon = decimal.New(1, -18)
)

// InterestRateModel is the kinked borrow-rate curve. All rates are per second.
type InterestRateModel struct {
	Base      decimal.Decimal
	SlopeLow  decimal.Decimal
	SlopeHigh decimal.Decimal
	Kink      decimal.Decimal
}

// NewInterestRateModel builds a model from per-second rates
func NewInterestRateModel(base, slopeLow, slopeHigh, kink decimal.Decimal) (InterestRateModel, error) {
	m := InterestRateModel{Base: base, SlopeLow: slopeLow, SlopeHigh: slopeHigh, Kink: kink}
	if err := m.Validate(); err != nil {
		return InterestRateModel{}, err
	}
	return m, nil
}

// NewInterestRateModelFromAPR builds a model from annual rates, as they are configured
func NewInterestRateModelFromAPR(baseAPR, slopeLowAPR, slopeHighAPR, kink decimal.Decimal) (InterestRateModel, error) {
	year := decimal.NewFromInt(SecondsPerYear)
	return NewInterestRateModel(
		baseAPR.DivRound(year, Precision),
		slopeLowAPR.DivRound(year, Precision),
		slopeHighAPR.DivRound(year, Precision),
		kink,
	)
}

// Validate checks that the curve is well formed
func (m InterestRateModel) Validate() error {
	if m.Base.IsNegative() || m.SlopeLow.IsNegative() || m.SlopeHigh.IsNegative() {
		return fmt.Errorf("%w: rates must be non-negative", ErrInvalidRiskParams)
	}
	if !m.Kink.IsPositive() || m.Kink.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: kink must be in (0,1), got %s", ErrInvalidRiskParams, m.Kink.String())
	}
	return nil
}

// Utilization returns borrows / (cash + borrows - reserves). It is zero when
// nothing is borrowed or when the supply base is degenerate.
func Utilization(cash, borrows, reserves decimal.Decimal) decimal.Decimal {
	if !borrows.IsPositive() {
		return decimal.Zero
	}
	base := cash.Add(borrows).Sub(reserves)
	if base.LessThanOrEqual(epsilon) {
		return decimal.Zero
	}
	return borrows.DivRound(base, Precision)
}

// BorrowRate returns the per-second borrow rate at utilization u
func (m InterestRateModel) BorrowRate(u decimal.Decimal) decimal.Decimal {
	if u.LessThanOrEqual(m.Kink) {
		return m.belowKink(u).Round(Precision)
	}
	return m.aboveKink(u).Round(Precision)
}

func (m InterestRateModel) belowKink(u decimal.Decimal) decimal.Decimal {
	return m.Base.Add(u.Mul(m.SlopeLow))
}

func (m InterestRateModel) aboveKink(u decimal.Decimal) decimal.Decimal {
	return m.Base.Add(m.Kink.Mul(m.SlopeLow)).Add(u.Sub(m.Kink).Mul(m.SlopeHigh))
}

// SupplyRate returns the per-second rate earned by suppliers at utilization u
func (m InterestRateModel) SupplyRate(u, reserveFactor decimal.Decimal) decimal.Decimal {
	return m.BorrowRate(u).Mul(u).Mul(one.Sub(reserveFactor)).Round(Precision)
}

// Annualize converts a per-second rate to a simple annual rate. Display only.
func Annualize(perSecond decimal.Decimal) decimal.Decimal {
	return perSecond.Mul(decimal.NewFromInt(SecondsPerYear))
}
