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
	"strings"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"

	"go.uber.org/zap"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) CreateApplication(ctx context.Context, app *models.LoanApplication) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM loan_applications WHERE id = ?`, app.Id).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: application %s already exists", store.ErrDuplicateTransaction, app.Id)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for existing application: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertApplication,
		app.Id, app.Owner, app.AssetSymbol, app.AssetAmount.String(), app.AssetValueUSD.String(),
		app.RequestedLoanAmount.String(), app.CollateralFactorSnapshot.String(), app.EstimatedAPY.String(),
		string(app.Status), app.BankReserveId, app.TokenSymbol, app.MintTxRef, nullableBlock(app.MintBlockNumber),
		app.FailureReason, app.CollateralCredited, app.Version, app.SubmittedAt, app.UpdatedAt, nullableTime(app))
	if err != nil {
		zap.L().Error("Failed to insert application", zap.String("application_id", app.Id), zap.Error(err))
		return fmt.Errorf("unable to insert application: %w", err)
	}
	return nil
}

func (s *Service) GetApplication(ctx context.Context, id string) (*models.LoanApplication, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx, queryGetApplication, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrApplicationNotFound, id)
	}
	return app, err
}

func (s *Service) GetApplicationByMintRef(ctx context.Context, mintTxRef string) (*models.LoanApplication, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx, queryGetApplicationByMintRef, mintTxRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mint %s", store.ErrApplicationNotFound, mintTxRef)
	}
	return app, err
}

// UpdateApplication writes the mutable settlement fields when the stored
// version still equals expectedVersion. Identity and valuation never change.
func (s *Service) UpdateApplication(ctx context.Context, app *models.LoanApplication, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, queryUpdateApplication,
		string(app.Status), app.BankReserveId, app.TokenSymbol, app.MintTxRef, nullableBlock(app.MintBlockNumber),
		app.FailureReason, app.CollateralCredited, app.Version, app.UpdatedAt, nullableTime(app),
		app.Id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetApplication(ctx, app.Id); err != nil {
			return err
		}
		return fmt.Errorf("application %s update failed at version %d - %w", app.Id, expectedVersion, store.ErrConcurrentModification)
	}
	return nil
}

func (s *Service) ListApplicationsByStatus(ctx context.Context, statuses ...models.ApplicationStatus) ([]*models.LoanApplication, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(queryListApplicationsByStatus, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer closeRows(rows)

	var apps []*models.LoanApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating application rows: %w", err)
	}
	return apps, nil
}

func scanApplication(row rowScanner) (*models.LoanApplication, error) {
	var app models.LoanApplication
	var status string
	var amount, value, requested, cf, apy string
	var reserveId, tokenSymbol, mintRef, failure sql.NullString
	var block sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&app.Id, &app.Owner, &app.AssetSymbol, &amount, &value, &requested, &cf, &apy,
		&status, &reserveId, &tokenSymbol, &mintRef, &block, &failure, &app.CollateralCredited,
		&app.Version, &app.SubmittedAt, &app.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan application: %w", err)
	}

	err = parseDecimals(
		decimalColumn{"asset_amount", amount, &app.AssetAmount},
		decimalColumn{"asset_value_usd", value, &app.AssetValueUSD},
		decimalColumn{"requested_loan_amount", requested, &app.RequestedLoanAmount},
		decimalColumn{"collateral_factor_snapshot", cf, &app.CollateralFactorSnapshot},
		decimalColumn{"estimated_apy", apy, &app.EstimatedAPY},
	)
	if err != nil {
		return nil, fmt.Errorf("application %s: %w", app.Id, err)
	}

	app.Status = models.ApplicationStatus(status)
	if !app.Status.Valid() {
		return nil, fmt.Errorf("application %s has unknown status %q", app.Id, status)
	}
	app.BankReserveId = nullString(reserveId)
	app.TokenSymbol = nullString(tokenSymbol)
	app.MintTxRef = nullString(mintRef)
	app.FailureReason = nullString(failure)
	if block.Valid {
		n := uint64(block.Int64)
		app.MintBlockNumber = &n
	}
	if completedAt.Valid {
		t := completedAt.Time
		app.CompletedAt = &t
	}
	return &app, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableBlock(n *uint64) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func nullableTime(app *models.LoanApplication) any {
	if app.CompletedAt == nil {
		return nil
	}
	return *app.CompletedAt
}
