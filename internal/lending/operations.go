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
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-lending-go/internal/metrics"
	"rwa-lending-go/internal/models"
)

// Receipt describes a committed position operation
type Receipt struct {
	Reference string
	Owner     string
	Symbol    string
	Amount    decimal.Decimal
	Account   models.Account
	Health    *Health
	Duplicate bool
}

// LiquidationReceipt describes a committed liquidation
type LiquidationReceipt struct {
	Reference        string
	Borrower         string
	Liquidator       string
	DebtSymbol       string
	CollateralSymbol string
	Plan             LiquidationPlan
	Before           Health
	After            Health
}

// ListMarket lists a new market or updates and re-lists an existing one
func (e *Engine) ListMarket(ctx context.Context, p MarketParams) (models.Market, error) {
	const op = "list market"
	if err := p.Validate(); err != nil {
		return models.Market{}, E(KindValidation, op, err)
	}

	e.mu.Lock()
	if _, exists := e.markets[p.Symbol]; !exists {
		m := NewMarket(p, e.now())
		if e.store != nil {
			if err := e.store.CommitPositions(ctx, models.PositionBatch{Markets: []models.Market{m}}); err != nil {
				e.mu.Unlock()
				return models.Market{}, fmt.Errorf("failed to persist market %s: %w", p.Symbol, err)
			}
		}
		e.markets[p.Symbol] = &marketState{market: m, accounts: make(map[string]*models.Account)}
		e.mu.Unlock()

		zap.L().Info("Listed market",
			zap.String("symbol", p.Symbol),
			zap.String("collateral_factor", p.CollateralFactor.String()),
			zap.String("liquidation_threshold", p.LiquidationThreshold.String()),
			zap.String("liquidation_penalty", p.LiquidationPenalty.String()),
			zap.String("reserve_factor", p.ReserveFactor.String()))
		return m, nil
	}
	e.mu.Unlock()

	tx, err := e.begin(ctx, lockSpec{symbols: []string{p.Symbol}})
	if err != nil {
		return models.Market{}, err
	}
	defer tx.release()

	m := tx.market(p.Symbol)
	m.IsListed = true
	m.CollateralFactor = p.CollateralFactor
	m.LiquidationThreshold = p.LiquidationThreshold
	m.LiquidationPenalty = p.LiquidationPenalty
	m.ReserveFactor = p.ReserveFactor
	if err := tx.commit(ctx, ""); err != nil {
		return models.Market{}, err
	}

	zap.L().Info("Updated market risk parameters",
		zap.String("symbol", p.Symbol),
		zap.String("collateral_factor", p.CollateralFactor.String()),
		zap.String("liquidation_threshold", p.LiquidationThreshold.String()))
	return *m, nil
}

// DelistMarket blocks new positions in symbol. Existing positions can still
// be repaid, withdrawn and liquidated.
func (e *Engine) DelistMarket(ctx context.Context, symbol string) error {
	tx, err := e.begin(ctx, lockSpec{symbols: []string{symbol}})
	if err != nil {
		return err
	}
	defer tx.release()

	tx.market(symbol).IsListed = false
	if err := tx.commit(ctx, ""); err != nil {
		return err
	}
	zap.L().Info("Delisted market", zap.String("symbol", symbol))
	return nil
}

// DepositCollateral adds collateral. It never needs a health check.
func (e *Engine) DepositCollateral(ctx context.Context, owner, symbol string, amount decimal.Decimal) (*Receipt, error) {
	return e.deposit(ctx, "deposit collateral", owner, symbol, amount, newReference(), models.EventDepositCollateral)
}

// CreditCollateral adds collateral produced by a completed settlement. The
// reference makes the credit exactly-once: replaying it returns the original
// outcome as a duplicate without changing state.
func (e *Engine) CreditCollateral(ctx context.Context, owner, symbol string, amount decimal.Decimal, ref string) (*Receipt, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, E(KindValidation, "credit collateral", fmt.Errorf("reference is required"))
	}
	return e.deposit(ctx, "credit collateral", owner, symbol, amount, ref, models.EventCollateralCredit)
}

func (e *Engine) deposit(ctx context.Context, op, owner, symbol string, amount decimal.Decimal, ref, eventType string) (receipt *Receipt, err error) {
	defer func() { observe(op, err) }()

	if err := validateRequest(owner, symbol, amount); err != nil {
		return nil, E(KindValidation, op, err)
	}

	tx, err := e.begin(ctx, lockSpec{symbols: []string{symbol}})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	if dup, err := tx.duplicate(ctx, ref); err != nil {
		return nil, err
	} else if dup {
		zap.L().Warn("Duplicate position reference, skipping",
			zap.String("reference", ref),
			zap.String("owner", owner),
			zap.String("symbol", symbol))
		return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Duplicate: true}, nil
	}

	// Settlement credits honor the reservation made while the market was listed.
	if !tx.market(symbol).IsListed && eventType != models.EventCollateralCredit {
		return nil, E(KindValidation, op, fmt.Errorf("%w: %s", ErrMarketDelisted, symbol))
	}

	a := tx.account(owner, symbol)
	before := *a
	applyDeposit(a, amount)
	tx.record(ref, eventType, before, *a, amount, "")

	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}

	zap.L().Info("Collateral deposited",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("collateral", a.Collateral.String()),
		zap.String("reference", ref))
	return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Account: *a}, nil
}

// WithdrawCollateral removes collateral if the owner stays solvent afterwards
func (e *Engine) WithdrawCollateral(ctx context.Context, owner, symbol string, amount decimal.Decimal) (receipt *Receipt, err error) {
	const op = "withdraw collateral"
	defer func() { observe(op, err) }()

	if err := validateRequest(owner, symbol, amount); err != nil {
		return nil, E(KindValidation, op, err)
	}
	if err := e.checkCompliance(ctx, op, owner); err != nil {
		return nil, err
	}

	tx, err := e.begin(ctx, lockSpec{owners: []string{owner}, symbols: []string{symbol}, priced: true})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	a := tx.account(owner, symbol)
	before := *a
	if err := applyWithdraw(a, amount); err != nil {
		return nil, E(KindInsufficientCollateral, op,
			fmt.Errorf("%w: requested %s, available %s", err, amount.String(), before.Collateral.String()))
	}

	h, err := tx.health(owner)
	if err != nil {
		return nil, E(KindExternalService, op, err)
	}
	if err := checkSolvent(h); err != nil {
		zap.L().Info("Withdrawal rejected by health check",
			zap.String("owner", owner),
			zap.String("symbol", symbol),
			zap.String("amount", amount.String()),
			zap.String("health_factor", h.HealthFactor.String()),
			zap.Error(err))
		return nil, E(KindOf(err), op, err)
	}

	ref := newReference()
	tx.record(ref, models.EventWithdrawCollateral, before, *a, amount, "")
	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}

	zap.L().Info("Collateral withdrawn",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("health_factor", h.HealthFactor.String()))
	return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Account: *a, Health: &h}, nil
}

// Borrow draws amount of symbol against the owner's collateral. The debt is
// applied, the owner's health is recomputed from one price snapshot, and the
// change is committed only if the owner stays solvent.
func (e *Engine) Borrow(ctx context.Context, owner, symbol string, amount decimal.Decimal) (receipt *Receipt, err error) {
	const op = "borrow"
	defer func() { observe(op, err) }()

	if err := validateRequest(owner, symbol, amount); err != nil {
		return nil, E(KindValidation, op, err)
	}
	if err := e.checkCompliance(ctx, op, owner); err != nil {
		return nil, err
	}

	tx, err := e.begin(ctx, lockSpec{owners: []string{owner}, symbols: []string{symbol}, priced: true})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	m := tx.market(symbol)
	if !m.IsListed {
		return nil, E(KindValidation, op, fmt.Errorf("%w: %s", ErrMarketDelisted, symbol))
	}

	a := tx.account(owner, symbol)
	before := *a
	if err := applyBorrow(a, m, amount); err != nil {
		return nil, E(KindValidation, op, fmt.Errorf("%w: requested %s, cash %s", err, amount.String(), m.Cash().String()))
	}

	h, err := tx.health(owner)
	if err != nil {
		return nil, E(KindExternalService, op, err)
	}
	if err := checkSolvent(h); err != nil {
		zap.L().Info("Borrow rejected by health check",
			zap.String("owner", owner),
			zap.String("symbol", symbol),
			zap.String("amount", amount.String()),
			zap.String("borrowing_power", h.BorrowingPower.String()),
			zap.String("health_factor", h.HealthFactor.String()),
			zap.Error(err))
		return nil, E(KindOf(err), op, err)
	}

	ref := newReference()
	tx.record(ref, models.EventBorrow, before, *a, amount, "")
	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}

	zap.L().Info("Borrowed",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("debt", a.Borrowed.String()),
		zap.String("health_factor", h.HealthFactor.String()),
		zap.String("risk", string(h.Risk)))
	return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Account: *a, Health: &h}, nil
}

// Repay reduces the owner's debt. Paying more than the current debt fails
// with ErrOverRepayment.
func (e *Engine) Repay(ctx context.Context, owner, symbol string, amount decimal.Decimal) (receipt *Receipt, err error) {
	const op = "repay"
	defer func() { observe(op, err) }()

	if err := validateRequest(owner, symbol, amount); err != nil {
		return nil, E(KindValidation, op, err)
	}

	tx, err := e.begin(ctx, lockSpec{symbols: []string{symbol}})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	m := tx.market(symbol)
	a := tx.account(owner, symbol)
	before := *a
	if err := applyRepay(a, m, amount); err != nil {
		return nil, E(KindValidation, op, fmt.Errorf("%w: requested %s, outstanding %s", err, amount.String(), before.Borrowed.String()))
	}

	ref := newReference()
	tx.record(ref, models.EventRepay, before, *a, amount, "")
	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}

	zap.L().Info("Repaid",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("debt", a.Borrowed.String()))
	return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Account: *a}, nil
}

// SupplyLiquidity adds lender funds that borrowers can draw
func (e *Engine) SupplyLiquidity(ctx context.Context, owner, symbol string, amount decimal.Decimal) (receipt *Receipt, err error) {
	const op = "supply"
	defer func() { observe(op, err) }()

	if err := validateRequest(owner, symbol, amount); err != nil {
		return nil, E(KindValidation, op, err)
	}

	tx, err := e.begin(ctx, lockSpec{symbols: []string{symbol}})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	m := tx.market(symbol)
	if !m.IsListed {
		return nil, E(KindValidation, op, fmt.Errorf("%w: %s", ErrMarketDelisted, symbol))
	}
	a := tx.account(owner, symbol)
	before := *a
	applySupply(a, m, amount)

	ref := newReference()
	tx.record(ref, models.EventSupply, before, *a, amount, "")
	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}

	zap.L().Info("Liquidity supplied",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("supplied", a.Supplied.String()))
	return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Account: *a}, nil
}

// RedeemLiquidity returns supplied funds plus earned interest
func (e *Engine) RedeemLiquidity(ctx context.Context, owner, symbol string, amount decimal.Decimal) (receipt *Receipt, err error) {
	const op = "redeem"
	defer func() { observe(op, err) }()

	if err := validateRequest(owner, symbol, amount); err != nil {
		return nil, E(KindValidation, op, err)
	}

	tx, err := e.begin(ctx, lockSpec{symbols: []string{symbol}})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	m := tx.market(symbol)
	a := tx.account(owner, symbol)
	before := *a
	if err := applyRedeem(a, m, amount); err != nil {
		return nil, E(KindValidation, op, fmt.Errorf("%w: requested %s, supplied %s, cash %s",
			err, amount.String(), before.Supplied.String(), m.Cash().String()))
	}

	ref := newReference()
	tx.record(ref, models.EventRedeem, before, *a, amount, "")
	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}

	zap.L().Info("Liquidity redeemed",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("supplied", a.Supplied.String()))
	return &Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount, Account: *a}, nil
}

// Liquidate repays part of an unhealthy borrower's debt in debtSymbol and
// transfers the matching collateral plus penalty to the liquidator. When
// collateralSymbol is empty the borrower's largest collateral is seized.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower, debtSymbol, collateralSymbol string, repayAmount decimal.Decimal) (receipt *LiquidationReceipt, err error) {
	const op = "liquidate"
	defer func() { observe(op, err) }()

	if err := validateRequest(borrower, debtSymbol, repayAmount); err != nil {
		return nil, E(KindValidation, op, err)
	}
	if strings.TrimSpace(liquidator) == "" {
		return nil, E(KindValidation, op, ErrInvalidOwner)
	}
	if liquidator == borrower {
		return nil, E(KindValidation, op, ErrSelfLiquidation)
	}

	symbols := []string{debtSymbol}
	if collateralSymbol != "" {
		symbols = append(symbols, collateralSymbol)
	}
	tx, err := e.begin(ctx, lockSpec{owners: []string{borrower}, symbols: symbols, priced: true})
	if err != nil {
		return nil, err
	}
	defer tx.release()

	// Solvency is re-evaluated here, under the locks, from the snapshot.
	pre, err := tx.health(borrower)
	if err != nil {
		return nil, E(KindExternalService, op, err)
	}
	if !pre.Liquidatable {
		return nil, E(KindValidation, op, fmt.Errorf("%w: health factor %s", ErrNotLiquidatable, pre.HealthFactor.String()))
	}

	if collateralSymbol == "" {
		collateralSymbol = largestCollateral(pre)
		if collateralSymbol == "" {
			return nil, E(KindInsufficientCollateral, op, ErrInsufficientCollateralForLiquidation)
		}
	}

	debtPrice, err := tx.prices.Price(debtSymbol)
	if err != nil {
		return nil, E(KindExternalService, op, err)
	}
	collPrice, err := tx.prices.Price(collateralSymbol)
	if err != nil {
		return nil, E(KindExternalService, op, err)
	}

	debtMarket := tx.market(debtSymbol)
	collMarket := tx.market(collateralSymbol)
	debtAcct := tx.account(borrower, debtSymbol)
	if repayAmount.GreaterThan(debtAcct.Borrowed) {
		return nil, E(KindValidation, op, fmt.Errorf("%w: requested %s, outstanding %s",
			ErrOverRepayment, repayAmount.String(), debtAcct.Borrowed.String()))
	}
	collAcct := tx.account(borrower, collateralSymbol)

	plan, err := PlanLiquidation(pre, e.cfg.CloseFactor, repayAmount, debtPrice, collPrice,
		collMarket.LiquidationPenalty, collAcct.Collateral)
	if err != nil {
		return nil, E(KindOf(err), op, err)
	}

	debtBefore := *debtAcct
	if err := applyRepay(debtAcct, debtMarket, plan.RepayAmount); err != nil {
		return nil, E(KindValidation, op, err)
	}
	tx.record("", models.EventLiquidationRepay, debtBefore, *debtAcct, plan.RepayAmount, liquidator)

	collBefore := *collAcct
	if err := applyWithdraw(collAcct, plan.SeizeAmount); err != nil {
		return nil, E(KindInsufficientCollateral, op, ErrInsufficientCollateralForLiquidation)
	}
	tx.record("", models.EventLiquidationSeize, collBefore, *collAcct, plan.SeizeAmount, liquidator)

	rewardAcct := tx.account(liquidator, collateralSymbol)
	rewardBefore := *rewardAcct
	applyDeposit(rewardAcct, plan.SeizeAmount)
	tx.record("", models.EventLiquidationReward, rewardBefore, *rewardAcct, plan.SeizeAmount, borrower)

	post, err := tx.health(borrower)
	if err != nil {
		return nil, E(KindExternalService, op, err)
	}
	if !post.HealthFactor.GreaterThan(pre.HealthFactor) {
		zap.L().Warn("Liquidation rejected, health factor would not improve",
			zap.String("borrower", borrower),
			zap.String("health_before", pre.HealthFactor.String()),
			zap.String("health_after", post.HealthFactor.String()))
		return nil, E(KindHealthCheck, op, fmt.Errorf("%w: before %s, after %s",
			ErrLiquidationNotImproving, pre.HealthFactor.String(), post.HealthFactor.String()))
	}

	ref := newReference()
	for i := range tx.events {
		tx.events[i].Reference = ref
	}
	if err := tx.commit(ctx, ref); err != nil {
		return nil, err
	}
	metrics.Liquidations.WithLabelValues(debtSymbol, collateralSymbol).Inc()

	zap.L().Info("Liquidated",
		zap.String("borrower", borrower),
		zap.String("liquidator", liquidator),
		zap.String("debt_symbol", debtSymbol),
		zap.String("collateral_symbol", collateralSymbol),
		zap.String("repaid", plan.RepayAmount.String()),
		zap.String("seized", plan.SeizeAmount.String()),
		zap.String("health_before", pre.HealthFactor.String()),
		zap.String("health_after", post.HealthFactor.String()))

	return &LiquidationReceipt{
		Reference:        ref,
		Borrower:         borrower,
		Liquidator:       liquidator,
		DebtSymbol:       debtSymbol,
		CollateralSymbol: collateralSymbol,
		Plan:             plan,
		Before:           pre,
		After:            post,
	}, nil
}

// Health computes the owner's solvency at the current instant without
// changing any state.
func (e *Engine) Health(ctx context.Context, owner string) (Health, error) {
	if strings.TrimSpace(owner) == "" {
		return Health{}, E(KindValidation, "health", ErrInvalidOwner)
	}
	tx, err := e.begin(ctx, lockSpec{owners: []string{owner}, priced: true})
	if err != nil {
		return Health{}, err
	}
	defer tx.release()

	h, err := tx.health(owner)
	if err != nil {
		return Health{}, E(KindExternalService, "health", err)
	}
	return h, nil
}

// Market returns symbol's market accrued to the current instant
func (e *Engine) Market(symbol string) (models.Market, error) {
	e.mu.RLock()
	ms, ok := e.markets[symbol]
	e.mu.RUnlock()
	if !ok {
		return models.Market{}, E(KindValidation, "market", fmt.Errorf("%w: %s", ErrMarketNotListed, symbol))
	}

	ms.mu.Lock()
	m := ms.market
	ms.mu.Unlock()

	if _, err := Accrue(&m, e.cfg.Model, e.now()); err != nil {
		return models.Market{}, err
	}
	return m, nil
}

// Markets returns all markets sorted by symbol
func (e *Engine) Markets() []models.Market {
	e.mu.RLock()
	symbols := make([]string, 0, len(e.markets))
	for s := range e.markets {
		symbols = append(symbols, s)
	}
	e.mu.RUnlock()
	sort.Strings(symbols)

	out := make([]models.Market, 0, len(symbols))
	for _, s := range symbols {
		if m, err := e.Market(s); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Rates returns the current rate picture of symbol
func (e *Engine) Rates(symbol string) (MarketRates, error) {
	m, err := e.Market(symbol)
	if err != nil {
		return MarketRates{}, err
	}
	return RatesOf(m, e.cfg.Model), nil
}

// Accounts returns owner's accounts settled to the current instant
func (e *Engine) Accounts(owner string) []models.Account {
	e.mu.RLock()
	symbols := e.ownerSymbols(owner)
	e.mu.RUnlock()
	sort.Strings(symbols)

	var out []models.Account
	for _, s := range symbols {
		e.mu.RLock()
		ms := e.markets[s]
		e.mu.RUnlock()

		ms.mu.Lock()
		m := ms.market
		existing, ok := ms.accounts[owner]
		var a models.Account
		if ok {
			a = *existing
		}
		ms.mu.Unlock()
		if !ok {
			continue
		}

		if _, err := Accrue(&m, e.cfg.Model, e.now()); err == nil {
			Settle(&a, m)
		}
		out = append(out, a)
	}
	return out
}

func largestCollateral(h Health) string {
	var best string
	bestValue := decimal.Zero
	for symbol, value := range h.CollateralValueByAsset {
		if value.GreaterThan(bestValue) || (value.Equal(bestValue) && best != "" && symbol < best) {
			best, bestValue = symbol, value
		}
	}
	return best
}

func validateRequest(owner, symbol string, amount decimal.Decimal) error {
	if strings.TrimSpace(owner) == "" {
		return ErrInvalidOwner
	}
	if !validSymbol(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	return nil
}

func newReference() string {
	return uuid.New().String()
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.PositionOperations.WithLabelValues(op, result).Inc()
}
