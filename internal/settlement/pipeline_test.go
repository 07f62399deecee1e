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
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memApplications struct {
	mu   sync.Mutex
	apps map[string]*models.LoanApplication
}

func newMemApplications() *memApplications {
	return &memApplications{apps: make(map[string]*models.LoanApplication)}
}

func (m *memApplications) CreateApplication(_ context.Context, app *models.LoanApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.Id]; ok {
		return store.ErrDuplicateTransaction
	}
	m.apps[app.Id] = app.Clone()
	return nil
}

func (m *memApplications) GetApplication(_ context.Context, id string) (*models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, store.ErrApplicationNotFound
	}
	return app.Clone(), nil
}

func (m *memApplications) GetApplicationByMintRef(_ context.Context, ref string) (*models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if models.StringValue(app.MintTxRef) == ref {
			return app.Clone(), nil
		}
	}
	return nil, store.ErrApplicationNotFound
}

func (m *memApplications) UpdateApplication(_ context.Context, app *models.LoanApplication, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.apps[app.Id]
	if !ok {
		return store.ErrApplicationNotFound
	}
	if current.Version != expected {
		return store.ErrConcurrentModification
	}
	if app.Status.Rank() < current.Status.Rank() {
		return fmt.Errorf("status regressed from %s to %s", current.Status, app.Status)
	}
	m.apps[app.Id] = app.Clone()
	return nil
}

func (m *memApplications) ListApplicationsByStatus(_ context.Context, statuses ...models.ApplicationStatus) ([]*models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LoanApplication
	for _, app := range m.apps {
		for _, s := range statuses {
			if app.Status == s {
				out = append(out, app.Clone())
			}
		}
	}
	return out, nil
}

type fakeCustody struct {
	mu        sync.Mutex
	reserved  map[string]string
	confirmed map[string]bool
	failed    map[string]bool
	err       error
	calls     int
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{reserved: map[string]string{}, confirmed: map[string]bool{}, failed: map[string]bool{}}
}

func (f *fakeCustody) Reserve(_ context.Context, req ReservationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.reserved[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := "res-" + req.IdempotencyKey
	f.reserved[req.IdempotencyKey] = id
	return id, nil
}

func (f *fakeCustody) ConfirmReservation(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if f.failed[id] {
		return false, ErrReservationFailed
	}
	return f.confirmed[id], nil
}

type fakeMinter struct {
	mu       sync.Mutex
	minted   map[string]string
	statuses map[string]MintStatus
	err      error
	block    func(ctx context.Context) error
	calls    int
}

func newFakeMinter() *fakeMinter {
	return &fakeMinter{minted: map[string]string{}, statuses: map[string]MintStatus{}}
}

func (f *fakeMinter) Mint(ctx context.Context, req MintRequest) (string, error) {
	if f.block != nil {
		if err := f.block(ctx); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if tx, ok := f.minted[req.IdempotencyKey]; ok {
		return tx, nil
	}
	tx := "0xmint-" + req.IdempotencyKey
	f.minted[req.IdempotencyKey] = tx
	return tx, nil
}

func (f *fakeMinter) MintStatus(_ context.Context, txHash string) (MintStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[txHash]; ok {
		return s, nil
	}
	return MintStatus{State: MintPending, TxHash: txHash}, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	credits map[string]decimal.Decimal
	err     error
	calls   int
}

func (f *fakeLedger) CreditCollateral(_ context.Context, owner, symbol string, amount decimal.Decimal, ref string) (*lending.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.credits[ref]; ok {
		return &lending.Receipt{Reference: ref, Duplicate: true}, nil
	}
	f.credits[ref] = amount
	return &lending.Receipt{Reference: ref, Owner: owner, Symbol: symbol, Amount: amount}, nil
}

type fakeMarkets struct{}

func (fakeMarkets) Market(symbol string) (models.Market, error) {
	switch symbol {
	case "RGLD":
		return models.Market{Symbol: "RGLD", IsListed: true, CollateralFactor: d("0.75"), LiquidationThreshold: d("0.8")}, nil
	case "RBND":
		return models.Market{Symbol: "RBND", IsListed: false, CollateralFactor: d("0.5"), LiquidationThreshold: d("0.6")}, nil
	}
	return models.Market{}, lending.E(lending.KindValidation, "market", lending.ErrMarketNotListed)
}

func (fakeMarkets) Rates(symbol string) (lending.MarketRates, error) {
	return lending.MarketRates{Symbol: symbol, BorrowAPY: d("0.0525")}, nil
}

func (fakeMarkets) BorrowAsset() string { return "USDC" }

type fakePrices map[string]decimal.Decimal

func (f fakePrices) Snapshot(_ context.Context, symbols []string) (lending.Prices, error) {
	out := lending.Prices{}
	for _, s := range symbols {
		p, ok := f[s]
		if !ok {
			return nil, lending.ErrStaleQuote
		}
		out[s] = p
	}
	return out, nil
}

type fakeCompliance map[string]bool

func (f fakeCompliance) IsVerified(_ context.Context, owner string) (bool, error) {
	return !f[owner], nil
}

type pipelineHarness struct {
	pipeline *Pipeline
	apps     *memApplications
	custody  *fakeCustody
	minter   *fakeMinter
	ledger   *fakeLedger
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		apps:    newMemApplications(),
		custody: newFakeCustody(),
		minter:  newFakeMinter(),
		ledger:  &fakeLedger{credits: map[string]decimal.Decimal{}},
	}
	var err error
	h.pipeline, err = NewPipeline(Config{CallTimeout: 50 * time.Millisecond}, Deps{
		Store:      h.apps,
		Custody:    h.custody,
		Minter:     h.minter,
		Collateral: h.ledger,
		Markets:    fakeMarkets{},
		Prices:     fakePrices{"RGLD": d("170"), "RBND": d("50")},
		Compliance: fakeCompliance{"mallory": true},
	})
	require.NoError(t, err)
	return h
}

func (h *pipelineHarness) submit(t *testing.T, owner string) *models.LoanApplication {
	t.Helper()
	app, err := h.pipeline.Submit(context.Background(), SubmitRequest{
		Owner:               owner,
		AssetSymbol:         "RGLD",
		AssetAmount:         d("10"),
		RequestedLoanAmount: d("1000"),
	})
	require.NoError(t, err)
	return app
}

// confirmed drives an application to bank_confirmed
func (h *pipelineHarness) confirmed(t *testing.T, owner string) *models.LoanApplication {
	t.Helper()
	ctx := context.Background()
	app := h.submit(t, owner)
	app, err := h.pipeline.RequestReservation(ctx, app.Id)
	require.NoError(t, err)
	h.custody.confirmed[*app.BankReserveId] = true
	app, err = h.pipeline.ConfirmReserve(ctx, app.Id, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusBankConfirmed, app.Status)
	return app
}

func TestSubmit_ComputesMaxLoanAndRejectsExcess(t *testing.T) {
	h := newPipelineHarness(t)

	_, err := h.pipeline.Submit(context.Background(), SubmitRequest{
		Owner:               "alice",
		AssetSymbol:         "RGLD",
		AssetAmount:         d("10"),
		RequestedLoanAmount: d("2000"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, lending.ErrLoanExceedsMax)
	assert.Equal(t, lending.KindValidation, lending.KindOf(err))

	var limitErr *lending.LoanLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.True(t, limitErr.MaxLoanAmount.Equal(d("1275")), "got %s", limitErr.MaxLoanAmount.String())

	app, err := h.pipeline.Submit(context.Background(), SubmitRequest{
		Owner:               "alice",
		AssetSymbol:         "RGLD",
		AssetAmount:         d("10"),
		RequestedLoanAmount: d("1275"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, app.Status)
	assert.True(t, app.AssetValueUSD.Equal(d("1700")))
	assert.True(t, app.MaxLoanAmount().Equal(d("1275")))
	assert.True(t, app.EstimatedAPY.Equal(d("0.0525")))
}

func TestSubmit_Validation(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	cases := map[string]SubmitRequest{
		"missing owner":   {AssetSymbol: "RGLD", AssetAmount: d("1"), RequestedLoanAmount: d("1")},
		"zero amount":     {Owner: "alice", AssetSymbol: "RGLD", AssetAmount: d("0"), RequestedLoanAmount: d("1")},
		"negative loan":   {Owner: "alice", AssetSymbol: "RGLD", AssetAmount: d("1"), RequestedLoanAmount: d("-1")},
		"unlisted market": {Owner: "alice", AssetSymbol: "RXYZ", AssetAmount: d("1"), RequestedLoanAmount: d("1")},
		"delisted market": {Owner: "alice", AssetSymbol: "RBND", AssetAmount: d("1"), RequestedLoanAmount: d("1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.pipeline.Submit(ctx, req)
			assert.Equal(t, lending.KindValidation, lending.KindOf(err))
		})
	}
}

func TestInitiateMint_FromSubmittedIsStateTransitionError(t *testing.T) {
	h := newPipelineHarness(t)
	app := h.submit(t, "alice")

	_, err := h.pipeline.InitiateMint(context.Background(), app.Id)
	require.Error(t, err)
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)
	assert.Equal(t, lending.KindStateTransition, lending.KindOf(err))
	assert.Equal(t, 0, h.minter.calls)

	stored, err := h.pipeline.Get(context.Background(), app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
}

func TestConfirmReserve_TwiceWithSameIdIsNoop(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.submit(t, "alice")
	h.custody.confirmed["bank-1"] = true

	first, err := h.pipeline.ConfirmReserve(ctx, app.Id, "bank-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBankConfirmed, first.Status)

	second, err := h.pipeline.ConfirmReserve(ctx, app.Id, "bank-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBankConfirmed, second.Status)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, "bank-1", models.StringValue(second.BankReserveId))
}

func TestConfirmReserve_ConflictingIdWhileSubmitted(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.submit(t, "alice")

	app, err := h.pipeline.RequestReservation(ctx, app.Id)
	require.NoError(t, err)
	require.NotNil(t, app.BankReserveId)

	_, err = h.pipeline.ConfirmReserve(ctx, app.Id, "some-other-id")
	assert.ErrorIs(t, err, lending.ErrConflictingReservation)
	assert.Equal(t, lending.KindStateTransition, lending.KindOf(err))
}

func TestConfirmReserve_PendingAndTimeoutLeaveStateUnchanged(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.submit(t, "alice")

	_, err := h.pipeline.ConfirmReserve(ctx, app.Id, "bank-1")
	assert.ErrorIs(t, err, ErrReservationPending)
	assert.Equal(t, lending.KindExternalService, lending.KindOf(err))

	h.custody.err = context.DeadlineExceeded
	_, err = h.pipeline.ConfirmReserve(ctx, app.Id, "bank-1")
	assert.Equal(t, lending.KindExternalService, lending.KindOf(err))

	stored, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Nil(t, stored.BankReserveId)
}

func TestRequestReservation_IsIdempotent(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.submit(t, "alice")

	first, err := h.pipeline.RequestReservation(ctx, app.Id)
	require.NoError(t, err)
	second, err := h.pipeline.RequestReservation(ctx, app.Id)
	require.NoError(t, err)

	assert.Equal(t, "res-"+app.Id, models.StringValue(first.BankReserveId))
	assert.Equal(t, models.StringValue(first.BankReserveId), models.StringValue(second.BankReserveId))
	assert.Equal(t, 1, h.custody.calls)
}

func TestInitiateMint_RecordsReferenceAndIsIdempotent(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")

	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMinting, minting.Status)
	assert.Equal(t, "0xmint-"+app.Id, models.StringValue(minting.MintTxRef))
	assert.Equal(t, "rRGLD", models.StringValue(minting.TokenSymbol))

	again, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, minting.Version, again.Version)
	assert.Equal(t, 1, h.minter.calls)
}

func TestInitiateMint_RequiresCompliance(t *testing.T) {
	h := newPipelineHarness(t)
	app := h.confirmed(t, "mallory")

	_, err := h.pipeline.InitiateMint(context.Background(), app.Id)
	assert.ErrorIs(t, err, lending.ErrComplianceRejected)
	assert.Equal(t, lending.KindCompliance, lending.KindOf(err))
	assert.Equal(t, 0, h.minter.calls)
}

func TestInitiateMint_TimeoutLeavesBankConfirmed(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")

	h.minter.block = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	_, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, lending.KindExternalService, lending.KindOf(err))

	stored, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBankConfirmed, stored.Status)
	assert.Nil(t, stored.MintTxRef)

	// the retry is a re-send of the same logical request
	h.minter.block = nil
	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMinting, minting.Status)
}

func TestMintConfirmed_CompletesAndCreditsOnce(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")
	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)
	txHash := *minting.MintTxRef

	done, err := h.pipeline.MintConfirmed(ctx, MintConfirmation{TxHash: txHash, BlockNumber: 42})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, done.CollateralCredited)
	require.NotNil(t, done.MintBlockNumber)
	assert.Equal(t, uint64(42), *done.MintBlockNumber)
	assert.NotNil(t, done.CompletedAt)

	replay, err := h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: txHash, BlockNumber: 42})
	require.NoError(t, err)
	assert.Equal(t, done.Version, replay.Version)
	assert.Equal(t, 1, h.ledger.calls)
	assert.True(t, h.ledger.credits[CollateralReference(app.Id)].Equal(d("10")))
}

func TestMintConfirmed_DifferentHashIsInconsistency(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")
	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)

	_, err = h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: "0xother", BlockNumber: 1})
	assert.ErrorIs(t, err, lending.ErrMintHashMismatch)
	assert.Equal(t, lending.KindInconsistency, lending.KindOf(err))

	_, err = h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: *minting.MintTxRef, BlockNumber: 7})
	require.NoError(t, err)

	_, err = h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: "0xother", BlockNumber: 7})
	assert.ErrorIs(t, err, lending.ErrMintHashMismatch)

	stored, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, *minting.MintTxRef, *stored.MintTxRef)
}

func TestMintConfirmed_BeforeMintIsRejected(t *testing.T) {
	h := newPipelineHarness(t)
	app := h.confirmed(t, "alice")

	_, err := h.pipeline.MintConfirmed(context.Background(), MintConfirmation{ApplicationId: app.Id, TxHash: "0xabc"})
	assert.Equal(t, lending.KindStateTransition, lending.KindOf(err))
}

func TestCollateralCreditRecoversAfterLedgerFailure(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")
	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)

	h.ledger.err = errors.New("ledger unavailable")
	_, err = h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: *minting.MintTxRef, BlockNumber: 3})
	require.Error(t, err)

	stored, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.False(t, stored.CollateralCredited)

	h.ledger.err = nil
	fixed, err := h.pipeline.EnsureCollateralCredited(ctx, app.Id)
	require.NoError(t, err)
	assert.True(t, fixed.CollateralCredited)
	assert.Len(t, h.ledger.credits, 1)
}

func TestMintFailedAndReconcile(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")
	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)
	txHash := *minting.MintTxRef

	failed, err := h.pipeline.MintFailed(ctx, "", txHash, "reverted")
	require.NoError(t, err)
	assert.Equal(t, models.StatusMintFailed, failed.Status)
	assert.Equal(t, "reverted", models.StringValue(failed.FailureReason))

	_, err = h.pipeline.Reject(ctx, app.Id, "operator")
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)

	_, err = h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: txHash})
	assert.Equal(t, lending.KindInconsistency, lending.KindOf(err))

	_, err = h.pipeline.ReconcileMintFailed(ctx, app.Id, "")
	assert.ErrorIs(t, err, lending.ErrInvalidTransition, "mint ledger still reports pending")

	h.minter.statuses[txHash] = MintStatus{State: MintConfirmed, TxHash: txHash, BlockNumber: 99}
	done, err := h.pipeline.ReconcileMintFailed(ctx, app.Id, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, done.CollateralCredited)
}

func TestReject_OnlyBeforeMinting(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	submitted := h.submit(t, "alice")
	rejected, err := h.pipeline.Reject(ctx, submitted.Id, "documents missing")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	again, err := h.pipeline.Reject(ctx, submitted.Id, "documents missing")
	require.NoError(t, err)
	assert.Equal(t, rejected.Version, again.Version)

	_, err = h.pipeline.ConfirmReserve(ctx, submitted.Id, "bank-1")
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)

	confirmed := h.confirmed(t, "bob")
	_, err = h.pipeline.Reject(ctx, confirmed.Id, "custody withdrew")
	require.NoError(t, err)

	minting := h.confirmed(t, "carol")
	_, err = h.pipeline.InitiateMint(ctx, minting.Id)
	require.NoError(t, err)
	_, err = h.pipeline.Reject(ctx, minting.Id, "too late")
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)
}

func TestCheckReservationAndMint(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.submit(t, "alice")

	moved, err := h.pipeline.CheckReservation(ctx, app)
	require.NoError(t, err)
	assert.False(t, moved)

	app, err = h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	moved, err = h.pipeline.CheckReservation(ctx, app)
	require.NoError(t, err)
	assert.False(t, moved, "custodian has not confirmed yet")

	h.custody.confirmed[*app.BankReserveId] = true
	moved, err = h.pipeline.CheckReservation(ctx, app)
	require.NoError(t, err)
	assert.True(t, moved)

	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)
	moved, err = h.pipeline.CheckMint(ctx, minting)
	require.NoError(t, err)
	assert.False(t, moved)

	h.minter.statuses[*minting.MintTxRef] = MintStatus{State: MintConfirmed, TxHash: *minting.MintTxRef, BlockNumber: 5}
	moved, err = h.pipeline.CheckMint(ctx, minting)
	require.NoError(t, err)
	assert.True(t, moved)

	done, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, done.CollateralCredited)
}

func TestCheckReservation_FailedReservationRejects(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.submit(t, "alice")
	app, err := h.pipeline.RequestReservation(ctx, app.Id)
	require.NoError(t, err)
	h.custody.failed[*app.BankReserveId] = true

	moved, err := h.pipeline.CheckReservation(ctx, app)
	require.NoError(t, err)
	assert.True(t, moved)

	stored, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, stored.Status)
}

func TestConcurrentConfirmationsApplyOnce(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	app := h.confirmed(t, "alice")
	minting, err := h.pipeline.InitiateMint(ctx, app.Id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.pipeline.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: *minting.MintTxRef, BlockNumber: 11})
		}()
	}
	wg.Wait()

	_, err = h.pipeline.EnsureCollateralCredited(ctx, app.Id)
	require.NoError(t, err)
	stored, err := h.pipeline.Get(ctx, app.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.True(t, stored.CollateralCredited)
	assert.Len(t, h.ledger.credits, 1)
}
