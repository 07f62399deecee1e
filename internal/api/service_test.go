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

package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/settlement"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type staticPrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (p *staticPrices) Snapshot(_ context.Context, symbols []string) (lending.Prices, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(lending.Prices, len(symbols))
	for _, s := range symbols {
		price, ok := p.prices[s]
		if !ok {
			return nil, fmt.Errorf("%w: %s", lending.ErrMissingQuote, s)
		}
		out[s] = price
	}
	return out, nil
}

func (p *staticPrices) set(symbol, price string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = d(price)
}

type allowAll struct{}

func (allowAll) IsVerified(context.Context, string) (bool, error) { return true, nil }

type stubSettlement struct {
	app *models.LoanApplication
	err error
}

func (s *stubSettlement) result() (*models.LoanApplication, error) { return s.app, s.err }

func (s *stubSettlement) Submit(context.Context, settlement.SubmitRequest) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) Get(context.Context, string) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) RequestReservation(context.Context, string) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) ConfirmReserve(context.Context, string, string) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) InitiateMint(context.Context, string) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) MintConfirmed(context.Context, settlement.MintConfirmation) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) MintFailed(context.Context, string, string, string) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) Reject(context.Context, string, string) (*models.LoanApplication, error) {
	return s.result()
}

func (s *stubSettlement) ReconcileMintFailed(context.Context, string, string) (*models.LoanApplication, error) {
	return s.result()
}

type stubUsers struct{ err error }

func (u stubUsers) GetUsers(context.Context) ([]models.User, error) { return nil, u.err }

type testService struct {
	svc        *LendingService
	prices     *staticPrices
	settlement *stubSettlement
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	model, err := lending.NewInterestRateModelFromAPR(d("0.02"), d("0.1"), d("3.0"), d("0.8"))
	require.NoError(t, err)

	prices := &staticPrices{prices: map[string]decimal.Decimal{"USDC": d("1"), "RGLD": d("170")}}
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, err := lending.NewEngine(lending.Config{Model: model, BorrowAsset: "USDC"}, prices, allowAll{},
		lending.WithClock(func() time.Time { return epoch }))
	require.NoError(t, err)

	stub := &stubSettlement{}
	svc := NewLendingService(engine, stub, stubUsers{}, time.Second)

	ctx := context.Background()
	_, err = svc.ListMarket(ctx, lending.MarketParams{
		Symbol:               "usdc",
		CollateralFactor:     d("0"),
		LiquidationThreshold: d("0"),
		LiquidationPenalty:   d("0"),
		ReserveFactor:        d("0.1"),
	})
	require.NoError(t, err)
	_, err = svc.ListMarket(ctx, lending.MarketParams{
		Symbol:               "RGLD",
		CollateralFactor:     d("0.75"),
		LiquidationThreshold: d("0.8"),
		LiquidationPenalty:   d("0.05"),
		ReserveFactor:        d("0.1"),
	})
	require.NoError(t, err)

	res, err := svc.SupplyLiquidity(ctx, "lender", "USDC", d("100000"))
	require.NoError(t, err)
	require.True(t, res.Success)

	return &testService{svc: svc, prices: prices, settlement: stub}
}

func TestDepositAndBorrow(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	res, err := ts.svc.DepositCollateral(ctx, "alice", "rgld", d("10"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ResultOk, res.Status)
	assert.Equal(t, "RGLD", res.Symbol)

	res, err = ts.svc.Borrow(ctx, "alice", "USDC", d("1000"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.HealthFactor)

	res, err = ts.svc.Borrow(ctx, "alice", "USDC", d("500"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ResultRejected, res.Status)
	assert.NotEmpty(t, res.ErrorKind)

	accounts := ts.svc.Accounts("alice")
	require.Len(t, accounts, 2)
}

func TestInvalidParametersAreRejected(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		owner  string
		symbol string
		amount decimal.Decimal
	}{
		{"empty owner", " ", "RGLD", d("1")},
		{"empty symbol", "alice", "", d("1")},
		{"zero amount", "alice", "RGLD", decimal.Zero},
		{"negative amount", "alice", "RGLD", d("-1")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ts.svc.DepositCollateral(ctx, tc.owner, tc.symbol, tc.amount)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, models.ResultRejected, res.Status)
			assert.Equal(t, string(lending.KindValidation), res.ErrorKind)
		})
	}
}

func TestMissingPriceIsPendingRetry(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	_, err := ts.svc.ListMarket(ctx, lending.MarketParams{
		Symbol:               "RBND",
		CollateralFactor:     d("0.5"),
		LiquidationThreshold: d("0.6"),
		LiquidationPenalty:   d("0.05"),
		ReserveFactor:        d("0.1"),
	})
	require.NoError(t, err)

	res, err := ts.svc.DepositCollateral(ctx, "alice", "RBND", d("10"))
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = ts.svc.Borrow(ctx, "alice", "USDC", d("1"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ResultPendingRetry, res.Status)
	assert.Equal(t, string(lending.KindExternalService), res.ErrorKind)
}

func TestLiquidate(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	_, err := ts.svc.DepositCollateral(ctx, "alice", "RGLD", d("10"))
	require.NoError(t, err)
	res, err := ts.svc.Borrow(ctx, "alice", "USDC", d("1200"))
	require.NoError(t, err)
	require.True(t, res.Success)

	healthy, err := ts.svc.Liquidate(ctx, "bob", "alice", "USDC", "RGLD", d("300"))
	require.NoError(t, err)
	assert.False(t, healthy.Success)
	assert.Equal(t, models.ResultRejected, healthy.Status)

	ts.prices.set("RGLD", "140")

	liq, err := ts.svc.Liquidate(ctx, "bob", "alice", "usdc", "", d("300"))
	require.NoError(t, err)
	require.True(t, liq.Success, liq.Error)
	assert.True(t, liq.RepaidAmount.Equal(d("300")))
	assert.True(t, liq.SeizedAmount.Equal(d("2.25")), liq.SeizedAmount.String())
	assert.NotEqual(t, liq.HealthBefore, liq.HealthAfter)
}

func TestMarketsReportsRates(t *testing.T) {
	ts := newTestService(t)

	markets, rates := ts.svc.Markets()
	require.Len(t, markets, 2)
	require.Len(t, rates, 2)
	assert.Equal(t, "RGLD", markets[0].Symbol)
	assert.Equal(t, "USDC", markets[1].Symbol)

	require.NoError(t, ts.svc.DelistMarket(context.Background(), "rgld"))
	res, err := ts.svc.DepositCollateral(context.Background(), "alice", "RGLD", d("1"))
	require.NoError(t, err)
	assert.Equal(t, models.ResultRejected, res.Status)
}

func TestApplicationResults(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ts.settlement.app = &models.LoanApplication{
			Id:                       "app-1",
			Status:                   models.StatusSubmitted,
			AssetValueUSD:            d("1700"),
			CollateralFactorSnapshot: d("0.75"),
		}
		ts.settlement.err = nil
		res, err := ts.svc.SubmitApplication(ctx, "alice", "rgld", d("10"), d("1000"))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "app-1", res.ApplicationId)
		assert.Equal(t, models.StatusSubmitted, res.State)
		assert.True(t, res.MaxLoanAmount.Equal(d("1275")))
	})

	t.Run("loan limit carries max amount", func(t *testing.T) {
		ts.settlement.app = nil
		ts.settlement.err = lending.E(lending.KindValidation, "submit application",
			&lending.LoanLimitError{Requested: d("2000"), MaxLoanAmount: d("1275")})
		res, err := ts.svc.SubmitApplication(ctx, "alice", "RGLD", d("10"), d("2000"))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, models.ResultRejected, res.Status)
		assert.True(t, res.MaxLoanAmount.Equal(d("1275")))
	})

	t.Run("external failure is pending retry", func(t *testing.T) {
		ts.settlement.app = &models.LoanApplication{Id: "app-1", Status: models.StatusBankConfirmed}
		ts.settlement.err = lending.E(lending.KindExternalService, "initiate mint", errors.New("mint timeout"))
		res, err := ts.svc.InitiateMint(ctx, "app-1")
		require.NoError(t, err)
		assert.Equal(t, models.ResultPendingRetry, res.Status)
		assert.Equal(t, models.StatusBankConfirmed, res.State)
	})

	t.Run("inconsistency is rejected", func(t *testing.T) {
		ts.settlement.app = &models.LoanApplication{Id: "app-1", Status: models.StatusCompleted}
		ts.settlement.err = lending.E(lending.KindInconsistency, "mint confirmed", lending.ErrMintHashMismatch)
		res, err := ts.svc.MintConfirmed(ctx, settlement.MintConfirmation{ApplicationId: "app-1", TxHash: "0xother"})
		require.NoError(t, err)
		assert.Equal(t, models.ResultRejected, res.Status)
		assert.Equal(t, string(lending.KindInconsistency), res.ErrorKind)
	})

	t.Run("infrastructure failure is returned", func(t *testing.T) {
		ts.settlement.app = nil
		ts.settlement.err = errors.New("disk I/O error")
		res, err := ts.svc.Reject(ctx, "app-1", "withdrawn")
		assert.Error(t, err)
		assert.Nil(t, res)
	})
}

func TestHealthCheck(t *testing.T) {
	ts := newTestService(t)
	assert.NoError(t, ts.svc.HealthCheck(context.Background()))

	svc := NewLendingService(nil, nil, stubUsers{err: errors.New("closed")}, 0)
	assert.Error(t, svc.HealthCheck(context.Background()))
}
