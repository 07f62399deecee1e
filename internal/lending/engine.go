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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-lending-go/internal/metrics"
	"rwa-lending-go/internal/models"
)

const lockAttempts = 3

// PositionStore persists committed position changes. CommitPositions must
// write the whole batch atomically or nothing.
type PositionStore interface {
	CommitPositions(ctx context.Context, batch models.PositionBatch) error
	HasPositionEvent(ctx context.Context, reference string) (bool, error)
}

// ComplianceChecker gates borrow and withdraw for unverified owners
type ComplianceChecker interface {
	IsVerified(ctx context.Context, owner string) (bool, error)
}

// RestoreSource loads previously committed state
type RestoreSource interface {
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// Config holds the engine-wide parameters
type Config struct {
	Model       InterestRateModel
	CloseFactor decimal.Decimal
	BorrowAsset string
}

// Engine owns all markets and accounts. Each market is its own unit of
// mutual exclusion; operations spanning several markets lock them in symbol
// order.
type Engine struct {
	cfg        Config
	prices     PriceSource
	compliance ComplianceChecker
	store      PositionStore
	now        func() time.Time

	mu      sync.RWMutex
	markets map[string]*marketState
	owners  map[string]map[string]struct{}

	refMu sync.Mutex
	refs  map[string]struct{}
}

type marketState struct {
	mu       sync.Mutex
	market   models.Market
	accounts map[string]*models.Account
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore attaches write-through persistence. Without a store the engine
// keeps state in memory only.
func WithStore(store PositionStore) Option {
	return func(e *Engine) { e.store = store }
}

// NewEngine creates an engine with no markets
func NewEngine(cfg Config, prices PriceSource, compliance ComplianceChecker, opts ...Option) (*Engine, error) {
	if prices == nil {
		return nil, errors.New("price source is required")
	}
	if compliance == nil {
		return nil, errors.New("compliance checker is required")
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}
	if cfg.CloseFactor.IsZero() {
		cfg.CloseFactor = DefaultCloseFactor
	}
	if !cfg.CloseFactor.IsPositive() || cfg.CloseFactor.GreaterThan(one) {
		return nil, fmt.Errorf("%w: close factor %s outside (0,1]", ErrInvalidRiskParams, cfg.CloseFactor.String())
	}

	e := &Engine{
		cfg:        cfg,
		prices:     prices,
		compliance: compliance,
		now:        time.Now,
		markets:    make(map[string]*marketState),
		owners:     make(map[string]map[string]struct{}),
		refs:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Model returns the interest rate model
func (e *Engine) Model() InterestRateModel {
	return e.cfg.Model
}

// BorrowAsset is the stable asset users borrow
func (e *Engine) BorrowAsset() string {
	return e.cfg.BorrowAsset
}

// Restore loads committed markets and accounts. It must run before the engine
// serves requests.
func (e *Engine) Restore(ctx context.Context, src RestoreSource) error {
	markets, err := src.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load markets: %w", err)
	}
	accounts, err := src.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range markets {
		e.markets[m.Symbol] = &marketState{market: m, accounts: make(map[string]*models.Account)}
	}
	for i := range accounts {
		a := accounts[i]
		ms, ok := e.markets[a.Symbol]
		if !ok {
			return fmt.Errorf("account %s references unknown market %s", a.Owner, a.Symbol)
		}
		ms.accounts[a.Owner] = &a
		e.indexOwner(a.Owner, a.Symbol)
	}

	zap.L().Info("Restored lending state",
		zap.Int("markets", len(markets)),
		zap.Int("accounts", len(accounts)))
	return nil
}

// indexOwner records that owner has an account in symbol. Caller holds e.mu.
func (e *Engine) indexOwner(owner, symbol string) {
	set, ok := e.owners[owner]
	if !ok {
		set = make(map[string]struct{})
		e.owners[owner] = set
	}
	set[symbol] = struct{}{}
}

// ownerSymbols returns the markets owner has accounts in. Caller holds e.mu.
func (e *Engine) ownerSymbols(owner string) []string {
	set := e.owners[owner]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// lockSpec describes what an operation needs locked
type lockSpec struct {
	owners  []string
	symbols []string
	priced  bool
}

// begin locks every market the operation touches plus every market the
// owners hold positions in, fetching one price snapshot first when the
// operation needs valuations. If an owner opened a position in another market
// between the snapshot and the lock, it retries.
func (e *Engine) begin(ctx context.Context, spec lockSpec) (*opTx, error) {
	for attempt := 0; attempt < lockAttempts; attempt++ {
		symbols, states, err := e.collect(spec)
		if err != nil {
			return nil, err
		}

		var prices Prices
		if spec.priced {
			prices, err = e.prices.Snapshot(ctx, symbols)
			if err != nil {
				return nil, E(KindExternalService, "price snapshot", err)
			}
		}

		for _, ms := range states {
			ms.mu.Lock()
		}

		if e.coveredBy(spec.owners, symbols) {
			tx := newOpTx(e, symbols, states, prices)
			if err := tx.accrueAll(); err != nil {
				tx.release()
				return nil, err
			}
			return tx, nil
		}

		for i := len(states) - 1; i >= 0; i-- {
			states[i].mu.Unlock()
		}
		zap.L().Debug("Owner positions changed while locking, retrying",
			zap.Strings("owners", spec.owners),
			zap.Int("attempt", attempt+1))
	}
	return nil, ErrConcurrentPositionChange
}

func (e *Engine) collect(spec lockSpec) ([]string, []*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{})
	var symbols []string
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	for _, s := range spec.symbols {
		add(s)
	}
	for _, o := range spec.owners {
		for _, s := range e.ownerSymbols(o) {
			add(s)
		}
	}
	sort.Strings(symbols)

	states := make([]*marketState, 0, len(symbols))
	for _, s := range symbols {
		ms, ok := e.markets[s]
		if !ok {
			return nil, nil, E(KindValidation, "lock", fmt.Errorf("%w: %s", ErrMarketNotListed, s))
		}
		states = append(states, ms)
	}
	return symbols, states, nil
}

func (e *Engine) coveredBy(owners, symbols []string) bool {
	locked := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		locked[s] = struct{}{}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, o := range owners {
		for s := range e.owners[o] {
			if _, ok := locked[s]; !ok {
				return false
			}
		}
	}
	return true
}

func (e *Engine) seenReference(ref string) bool {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	_, ok := e.refs[ref]
	return ok
}

func (e *Engine) rememberReference(ref string) {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	e.refs[ref] = struct{}{}
}

func (e *Engine) checkCompliance(ctx context.Context, op, owner string) error {
	ok, err := e.compliance.IsVerified(ctx, owner)
	if err != nil {
		return E(KindExternalService, op, fmt.Errorf("compliance check failed: %w", err))
	}
	if !ok {
		return E(KindCompliance, op, fmt.Errorf("%w: %s", ErrComplianceRejected, owner))
	}
	return nil
}

type accountKey struct {
	owner  string
	symbol string
}

// opTx is the working set of one operation. Mutations apply to clones and are
// installed only after the store commit succeeds, so any failure before that
// leaves the engine untouched.
type opTx struct {
	e        *Engine
	now      time.Time
	symbols  []string
	states   map[string]*marketState
	order    []*marketState
	prices   Prices
	markets  map[string]*models.Market
	accounts map[accountKey]*models.Account
	touched  []accountKey
	events   []models.PositionEvent
	accruals map[string]Accrual
}

func newOpTx(e *Engine, symbols []string, order []*marketState, prices Prices) *opTx {
	tx := &opTx{
		e:        e,
		now:      e.now(),
		symbols:  symbols,
		states:   make(map[string]*marketState, len(symbols)),
		order:    order,
		prices:   prices,
		markets:  make(map[string]*models.Market, len(symbols)),
		accounts: make(map[accountKey]*models.Account),
		accruals: make(map[string]Accrual, len(symbols)),
	}
	for i, s := range symbols {
		tx.states[s] = order[i]
		m := order[i].market
		tx.markets[s] = &m
	}
	return tx
}

func (tx *opTx) release() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.order[i].mu.Unlock()
	}
}

func (tx *opTx) accrueAll() error {
	for _, s := range tx.symbols {
		acc, err := Accrue(tx.markets[s], tx.e.cfg.Model, tx.now)
		if err != nil {
			zap.L().Error("Accrual rejected, market clock is inconsistent",
				zap.String("symbol", s),
				zap.Time("last_accrual", tx.markets[s].LastAccrualTimestamp),
				zap.Time("now", tx.now),
				zap.Error(err))
			return err
		}
		tx.accruals[s] = acc
	}
	return nil
}

func (tx *opTx) market(symbol string) *models.Market {
	return tx.markets[symbol]
}

// account returns the settled working copy of owner's account in symbol,
// creating an empty one when none exists.
func (tx *opTx) account(owner, symbol string) *models.Account {
	key := accountKey{owner: owner, symbol: symbol}
	if a, ok := tx.accounts[key]; ok {
		return a
	}
	m := tx.markets[symbol]
	var a models.Account
	if existing, ok := tx.states[symbol].accounts[owner]; ok {
		a = *existing
	} else {
		a = NewAccount(owner, *m)
	}
	Settle(&a, *m)
	tx.accounts[key] = &a
	tx.touched = append(tx.touched, key)
	return &a
}

// positions returns owner's positions across all locked markets as seen by
// this operation.
func (tx *opTx) positions(owner string) []Position {
	var out []Position
	for _, s := range tx.symbols {
		key := accountKey{owner: owner, symbol: s}
		if a, ok := tx.accounts[key]; ok {
			out = append(out, Position{Market: *tx.markets[s], Account: *a})
			continue
		}
		if a, ok := tx.states[s].accounts[owner]; ok {
			out = append(out, Position{Market: *tx.markets[s], Account: *a})
		}
	}
	return out
}

func (tx *opTx) health(owner string) (Health, error) {
	return ComputeHealth(owner, tx.positions(owner), tx.prices)
}

func (tx *opTx) record(ref, eventType string, before, after models.Account, amount decimal.Decimal, counterparty string) {
	tx.events = append(tx.events, models.PositionEvent{
		Reference:        ref,
		Owner:            after.Owner,
		Symbol:           after.Symbol,
		EventType:        eventType,
		Amount:           amount,
		CollateralBefore: before.Collateral,
		CollateralAfter:  after.Collateral,
		DebtBefore:       before.Borrowed,
		DebtAfter:        after.Borrowed,
		Counterparty:     counterparty,
		CreatedAt:        tx.now,
	})
}

// duplicate reports whether ref was already committed
func (tx *opTx) duplicate(ctx context.Context, ref string) (bool, error) {
	if tx.e.seenReference(ref) {
		return true, nil
	}
	if tx.e.store == nil {
		return false, nil
	}
	found, err := tx.e.store.HasPositionEvent(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("failed to check position reference: %w", err)
	}
	return found, nil
}

// commit persists the working set and installs it into the engine
func (tx *opTx) commit(ctx context.Context, ref string) error {
	batch := models.PositionBatch{Reference: ref, Events: tx.events}
	for _, s := range tx.symbols {
		m := *tx.markets[s]
		m.Version = tx.states[s].market.Version + 1
		batch.Markets = append(batch.Markets, m)
	}
	for _, key := range tx.touched {
		a := *tx.accounts[key]
		a.UpdatedAt = tx.now
		batch.Accounts = append(batch.Accounts, a)
	}

	if tx.e.store != nil {
		if err := tx.e.store.CommitPositions(ctx, batch); err != nil {
			return fmt.Errorf("failed to persist positions: %w", err)
		}
	}

	for i, m := range batch.Markets {
		tx.states[tx.symbols[i]].market = m
		if acc := tx.accruals[m.Symbol]; acc.InterestFactor.IsPositive() {
			metrics.AccrualInterestFactor.WithLabelValues(m.Symbol).Observe(acc.InterestFactor.InexactFloat64())
		}
	}

	var created, emptied []accountKey
	for i := range batch.Accounts {
		a := batch.Accounts[i]
		key := accountKey{owner: a.Owner, symbol: a.Symbol}
		accounts := tx.states[a.Symbol].accounts
		_, existed := accounts[a.Owner]
		switch {
		case a.IsEmpty():
			if existed {
				delete(accounts, a.Owner)
				emptied = append(emptied, key)
			}
		default:
			accounts[a.Owner] = &a
			if !existed {
				created = append(created, key)
			}
		}
	}
	if len(created) > 0 || len(emptied) > 0 {
		tx.e.mu.Lock()
		for _, k := range created {
			tx.e.indexOwner(k.owner, k.symbol)
		}
		for _, k := range emptied {
			if set, ok := tx.e.owners[k.owner]; ok {
				delete(set, k.symbol)
				if len(set) == 0 {
					delete(tx.e.owners, k.owner)
				}
			}
		}
		tx.e.mu.Unlock()
	}

	if ref != "" {
		tx.e.rememberReference(ref)
	}
	return nil
}
