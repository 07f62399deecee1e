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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommitPositions atomically writes one engine operation: the accrued markets,
// the touched accounts and the events with their journal lines. A reference
// that was already committed is rejected with store.ErrDuplicateTransaction.
func (s *Service) CommitPositions(ctx context.Context, batch models.PositionBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if batch.Reference != "" {
		var existing string
		err := tx.QueryRowContext(ctx, queryCheckBatchReference, batch.Reference).Scan(&existing)
		if err == nil {
			zap.L().Warn("Duplicate position reference detected, skipping",
				zap.String("reference", batch.Reference))
			return fmt.Errorf("%w: reference %s already committed", store.ErrDuplicateTransaction, batch.Reference)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check for duplicate reference: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryInsertBatchReference, batch.Reference, time.Now()); err != nil {
			return fmt.Errorf("failed to record reference: %w", err)
		}
	}

	for _, m := range batch.Markets {
		result, err := tx.ExecContext(ctx, queryUpsertMarket,
			m.Symbol, m.IsListed, m.CollateralFactor.String(), m.LiquidationThreshold.String(),
			m.LiquidationPenalty.String(), m.ReserveFactor.String(), m.TotalBorrows.String(),
			m.TotalSupply.String(), m.TotalReserves.String(), m.BorrowIndex.String(),
			m.SupplyIndex.String(), m.LastAccrualTimestamp, m.Version)
		if err != nil {
			return fmt.Errorf("failed to write market %s: %w", m.Symbol, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("market %s update failed at version %d - %w", m.Symbol, m.Version, store.ErrConcurrentModification)
		}
	}

	for _, a := range batch.Accounts {
		if a.IsEmpty() {
			if _, err := tx.ExecContext(ctx, queryDeleteAccount, a.Owner, a.Symbol); err != nil {
				return fmt.Errorf("failed to delete account %s/%s: %w", a.Owner, a.Symbol, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, queryUpsertAccount,
			a.Owner, a.Symbol, a.Collateral.String(), a.Borrowed.String(), a.BorrowIndexSnapshot.String(),
			a.Supplied.String(), a.SupplyIndexSnapshot.String(), a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to write account %s/%s: %w", a.Owner, a.Symbol, err)
		}
	}

	for _, ev := range batch.Events {
		eventId := ev.Id
		if eventId == "" {
			eventId = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, queryInsertPositionEvent,
			eventId, ev.Reference, ev.Owner, ev.Symbol, ev.EventType, ev.Amount.String(),
			ev.CollateralBefore.String(), ev.CollateralAfter.String(), ev.DebtBefore.String(),
			ev.DebtAfter.String(), ev.Counterparty, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert position event: %w", err)
		}
		if err := addJournalEntries(ctx, tx, eventId, ev); err != nil {
			return fmt.Errorf("failed to add journal entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Debug("Positions committed",
		zap.String("reference", batch.Reference),
		zap.Int("markets", len(batch.Markets)),
		zap.Int("accounts", len(batch.Accounts)),
		zap.Int("events", len(batch.Events)))
	return nil
}

// HasPositionEvent reports whether an operation with reference was committed
func (s *Service) HasPositionEvent(ctx context.Context, reference string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, queryHasPositionEvent, reference, reference).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check position reference: %w", err)
	}
	return true, nil
}

func (s *Service) ListMarkets(ctx context.Context) ([]models.Market, error) {
	rows, err := s.db.QueryContext(ctx, queryListMarkets)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	defer closeRows(rows)

	var markets []models.Market
	for rows.Next() {
		var m models.Market
		var cf, lt, penalty, rf, borrows, supply, reserves, borrowIdx, supplyIdx string
		err := rows.Scan(&m.Symbol, &m.IsListed, &cf, &lt, &penalty, &rf,
			&borrows, &supply, &reserves, &borrowIdx, &supplyIdx, &m.LastAccrualTimestamp, &m.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		err = parseDecimals(
			decimalColumn{"collateral_factor", cf, &m.CollateralFactor},
			decimalColumn{"liquidation_threshold", lt, &m.LiquidationThreshold},
			decimalColumn{"liquidation_penalty", penalty, &m.LiquidationPenalty},
			decimalColumn{"reserve_factor", rf, &m.ReserveFactor},
			decimalColumn{"total_borrows", borrows, &m.TotalBorrows},
			decimalColumn{"total_supply", supply, &m.TotalSupply},
			decimalColumn{"total_reserves", reserves, &m.TotalReserves},
			decimalColumn{"borrow_index", borrowIdx, &m.BorrowIndex},
			decimalColumn{"supply_index", supplyIdx, &m.SupplyIndex},
		)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", m.Symbol, err)
		}
		markets = append(markets, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market rows: %w", err)
	}
	return markets, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer closeRows(rows)

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		var collateral, borrowed, borrowSnap, supplied, supplySnap string
		err := rows.Scan(&a.Owner, &a.Symbol, &collateral, &borrowed, &borrowSnap, &supplied, &supplySnap, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		err = parseDecimals(
			decimalColumn{"collateral", collateral, &a.Collateral},
			decimalColumn{"borrowed", borrowed, &a.Borrowed},
			decimalColumn{"borrow_index_snapshot", borrowSnap, &a.BorrowIndexSnapshot},
			decimalColumn{"supplied", supplied, &a.Supplied},
			decimalColumn{"supply_index_snapshot", supplySnap, &a.SupplyIndexSnapshot},
		)
		if err != nil {
			return nil, fmt.Errorf("account %s/%s: %w", a.Owner, a.Symbol, err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}
	return accounts, nil
}

// GetPositionHistory returns paginated position events, newest first. An
// empty symbol returns events across all markets.
func (s *Service) GetPositionHistory(ctx context.Context, owner, symbol string, limit, offset int) ([]models.PositionEvent, error) {
	zap.L().Debug("Getting position history",
		zap.String("owner", owner),
		zap.String("symbol", symbol),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetPositionHistory, owner, symbol, symbol, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get position history: %w", err)
	}
	defer closeRows(rows)

	var events []models.PositionEvent
	for rows.Next() {
		var ev models.PositionEvent
		var amount, collBefore, collAfter, debtBefore, debtAfter string
		err := rows.Scan(&ev.Id, &ev.Reference, &ev.Owner, &ev.Symbol, &ev.EventType, &amount,
			&collBefore, &collAfter, &debtBefore, &debtAfter, &ev.Counterparty, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position event: %w", err)
		}
		err = parseDecimals(
			decimalColumn{"amount", amount, &ev.Amount},
			decimalColumn{"collateral_before", collBefore, &ev.CollateralBefore},
			decimalColumn{"collateral_after", collAfter, &ev.CollateralAfter},
			decimalColumn{"debt_before", debtBefore, &ev.DebtBefore},
			decimalColumn{"debt_after", debtAfter, &ev.DebtAfter},
		)
		if err != nil {
			return nil, fmt.Errorf("position event %s: %w", ev.Id, err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during position event row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating position event rows: %w", err)
	}
	return events, nil
}

type decimalColumn struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func parseDecimals(columns ...decimalColumn) error {
	for _, c := range columns {
		v, err := decimal.NewFromString(c.raw)
		if err != nil {
			return fmt.Errorf("failed to parse %s '%s': %w", c.name, c.raw, err)
		}
		*c.dst = v
	}
	return nil
}
