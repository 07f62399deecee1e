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

// DefaultCloseFactor is the share of outstanding debt value one liquidation may repay
var DefaultCloseFactor = decimal.RequireFromString("0.5")

// LiquidationPlan is the sizing of a liquidation before it is applied
type LiquidationPlan struct {
	RepayAmount   decimal.Decimal
	RepayValue    decimal.Decimal
	MaxRepayValue decimal.Decimal
	SeizeAmount   decimal.Decimal
	SeizeValue    decimal.Decimal
}

// MaxRepayValue is closeFactor * totalBorrowValue
func MaxRepayValue(h Health, closeFactor decimal.Decimal) decimal.Decimal {
	return h.BorrowValue.Mul(closeFactor)
}

// PlanLiquidation sizes a liquidation of repayAmount units of the debt asset
// against the collateral asset. The liquidator receives collateral worth the
// repaid value plus the collateral market's penalty.
func PlanLiquidation(h Health, closeFactor, repayAmount, debtPrice, collateralPrice, penalty, availableCollateral decimal.Decimal) (LiquidationPlan, error) {
	if !h.Liquidatable {
		return LiquidationPlan{}, fmt.Errorf("%w: health factor %s", ErrNotLiquidatable, h.HealthFactor.String())
	}
	if !collateralPrice.IsPositive() {
		return LiquidationPlan{}, fmt.Errorf("%w: collateral price %s", ErrInsufficientCollateralForLiquidation, collateralPrice.String())
	}

	plan := LiquidationPlan{
		RepayAmount:   repayAmount,
		RepayValue:    repayAmount.Mul(debtPrice),
		MaxRepayValue: MaxRepayValue(h, closeFactor),
	}
	if plan.RepayValue.GreaterThan(plan.MaxRepayValue) {
		return LiquidationPlan{}, fmt.Errorf("%w: repay value %s, max %s", ErrRepayExceedsCloseFactor,
			plan.RepayValue.StringFixed(6), plan.MaxRepayValue.StringFixed(6))
	}

	plan.SeizeValue = plan.RepayValue.Mul(one.Add(penalty))
	plan.SeizeAmount = plan.SeizeValue.DivRound(collateralPrice, AmountPrecision)
	if plan.SeizeAmount.GreaterThan(availableCollateral) {
		return LiquidationPlan{}, fmt.Errorf("%w: seize %s, available %s", ErrInsufficientCollateralForLiquidation,
			plan.SeizeAmount.String(), availableCollateral.String())
	}
	return plan, nil
}
