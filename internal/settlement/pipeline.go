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

package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/metrics"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"
)

const updateAttempts = 3

// DefaultTokenSymbolPrefix is prepended to the asset symbol to name its token
const DefaultTokenSymbolPrefix = "r"

// Config holds pipeline settings
type Config struct {
	CallTimeout       time.Duration
	TokenSymbolPrefix string
}

// Pipeline drives loan applications from submission to collateral credit.
// Every step is keyed by the application id and is safe to replay; optimistic
// versioning in the store settles races between concurrent triggers.
type Pipeline struct {
	cfg        Config
	store      store.ApplicationStore
	custody    CustodyAdapter
	minter     TokenMintAdapter
	collateral CollateralLedger
	markets    MarketInfo
	prices     lending.PriceSource
	compliance lending.ComplianceChecker
	now        func() time.Time
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Store      store.ApplicationStore
	Custody    CustodyAdapter
	Minter     TokenMintAdapter
	Collateral CollateralLedger
	Markets    MarketInfo
	Prices     lending.PriceSource
	Compliance lending.ComplianceChecker
	Now        func() time.Time
}

// NewPipeline validates deps and creates a pipeline
func NewPipeline(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("application store is required")
	case deps.Custody == nil:
		return nil, errors.New("custody adapter is required")
	case deps.Minter == nil:
		return nil, errors.New("token mint adapter is required")
	case deps.Collateral == nil:
		return nil, errors.New("collateral ledger is required")
	case deps.Markets == nil:
		return nil, errors.New("market info is required")
	case deps.Prices == nil:
		return nil, errors.New("price source is required")
	case deps.Compliance == nil:
		return nil, errors.New("compliance checker is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.TokenSymbolPrefix == "" {
		cfg.TokenSymbolPrefix = DefaultTokenSymbolPrefix
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		custody:    deps.Custody,
		minter:     deps.Minter,
		collateral: deps.Collateral,
		markets:    deps.Markets,
		prices:     deps.Prices,
		compliance: deps.Compliance,
		now:        deps.Now,
	}, nil
}

// SubmitRequest is a new tokenization and borrow intake
type SubmitRequest struct {
	Owner               string
	AssetSymbol         string
	AssetAmount         decimal.Decimal
	RequestedLoanAmount decimal.Decimal
}

// Submit values the asset, enforces the loan limit and records the application
// as submitted.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*models.LoanApplication, error) {
	const op = "submit application"
	if err := validateSubmit(req); err != nil {
		return nil, lending.E(lending.KindValidation, op, err)
	}

	market, err := p.markets.Market(req.AssetSymbol)
	if err != nil {
		return nil, err
	}
	if !market.IsListed {
		return nil, lending.E(lending.KindValidation, op, fmt.Errorf("%w: %s", lending.ErrMarketDelisted, req.AssetSymbol))
	}

	prices, err := p.prices.Snapshot(ctx, []string{req.AssetSymbol})
	if err != nil {
		return nil, lending.E(lending.KindExternalService, op, err)
	}
	price, err := prices.Price(req.AssetSymbol)
	if err != nil {
		return nil, lending.E(lending.KindExternalService, op, err)
	}

	now := p.now()
	app := &models.LoanApplication{
		Id:                       uuid.New().String(),
		Owner:                    req.Owner,
		AssetSymbol:              req.AssetSymbol,
		AssetAmount:              req.AssetAmount,
		AssetValueUSD:            price.Mul(req.AssetAmount),
		RequestedLoanAmount:      req.RequestedLoanAmount,
		CollateralFactorSnapshot: market.CollateralFactor,
		EstimatedAPY:             decimal.Zero,
		Status:                   models.StatusSubmitted,
		Version:                  1,
		SubmittedAt:              now,
		UpdatedAt:                now,
	}

	if limit := app.MaxLoanAmount(); req.RequestedLoanAmount.GreaterThan(limit) {
		zap.L().Info("Application rejected, loan exceeds collateral limit",
			zap.String("owner", req.Owner),
			zap.String("asset", req.AssetSymbol),
			zap.String("requested", req.RequestedLoanAmount.String()),
			zap.String("max_loan_amount", limit.String()))
		return nil, lending.E(lending.KindValidation, op,
			&lending.LoanLimitError{Requested: req.RequestedLoanAmount, MaxLoanAmount: limit})
	}

	if borrowAsset := p.markets.BorrowAsset(); borrowAsset != "" {
		rates, err := p.markets.Rates(borrowAsset)
		if err != nil {
			return nil, fmt.Errorf("failed to estimate borrow rate: %w", err)
		}
		app.EstimatedAPY = rates.BorrowAPY.Round(6)
	}

	if err := p.store.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to store application: %w", err)
	}

	metrics.SettlementTransitions.WithLabelValues("", string(models.StatusSubmitted)).Inc()
	zap.L().Info("Application submitted",
		zap.String("application_id", app.Id),
		zap.String("owner", app.Owner),
		zap.String("asset", app.AssetSymbol),
		zap.String("asset_amount", app.AssetAmount.String()),
		zap.String("asset_value_usd", app.AssetValueUSD.String()),
		zap.String("requested_loan", app.RequestedLoanAmount.String()),
		zap.String("estimated_apy", app.EstimatedAPY.String()))
	return app, nil
}

// Get returns an application by id
func (p *Pipeline) Get(ctx context.Context, id string) (*models.LoanApplication, error) {
	app, err := p.store.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrApplicationNotFound) {
			return nil, lending.E(lending.KindValidation, "get application", err)
		}
		return nil, err
	}
	return app, nil
}

// TokenSymbol is the name of the token minted for an asset
func (p *Pipeline) TokenSymbol(assetSymbol string) string {
	return p.cfg.TokenSymbolPrefix + assetSymbol
}

// mutation changes a working copy of an application. Returning changed=false
// leaves the stored record untouched.
type mutation func(app *models.LoanApplication) (changed bool, err error)

// update applies fn under optimistic versioning, reloading and re-evaluating
// fn when another writer got there first.
func (p *Pipeline) update(ctx context.Context, id, op string, fn mutation) (*models.LoanApplication, error) {
	for attempt := 1; attempt <= updateAttempts; attempt++ {
		current, err := p.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		changed, err := fn(next)
		if err != nil {
			return current, err
		}
		if !changed {
			return current, nil
		}

		next.Version = current.Version + 1
		next.UpdatedAt = p.now()
		err = p.store.UpdateApplication(ctx, next, current.Version)
		if err == nil {
			if next.Status != current.Status {
				metrics.SettlementTransitions.WithLabelValues(string(current.Status), string(next.Status)).Inc()
				zap.L().Info("Application state changed",
					zap.String("application_id", id),
					zap.String("operation", op),
					zap.String("from", string(current.Status)),
					zap.String("to", string(next.Status)))
			}
			return next, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, fmt.Errorf("failed to update application %s: %w", id, err)
		}
		zap.L().Debug("Application changed concurrently, re-evaluating",
			zap.String("application_id", id),
			zap.String("operation", op),
			zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("%s %s: %w", op, id, store.ErrConcurrentModification)
}

// call runs one external request with the configured timeout
func (p *Pipeline) call(ctx context.Context, adapter, name string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	metrics.ExternalCallLatency.WithLabelValues(adapter, name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExternalCallErrors.WithLabelValues(adapter, name).Inc()
	}
	return err
}

func invalidTransition(op string, app *models.LoanApplication) error {
	return lending.E(lending.KindStateTransition, op,
		fmt.Errorf("%w: application %s is %s", lending.ErrInvalidTransition, app.Id, app.Status))
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.Owner) == "" {
		return lending.ErrInvalidOwner
	}
	if strings.TrimSpace(req.AssetSymbol) == "" {
		return lending.ErrInvalidSymbol
	}
	if !req.AssetAmount.IsPositive() {
		return fmt.Errorf("%w: asset amount %s", lending.ErrInvalidAmount, req.AssetAmount.String())
	}
	if !req.RequestedLoanAmount.IsPositive() {
		return fmt.Errorf("%w: requested loan %s", lending.ErrInvalidAmount, req.RequestedLoanAmount.String())
	}
	return nil
}
