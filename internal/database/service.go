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
	"fmt"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db)
	if err := service.initSchema(ctx, cfg.CreateDummyUsers); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

// Amounts, rates and indices are stored as TEXT so no precision is lost to
// floating point.
const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		kyc_verified BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);

	-- Custody wallets registered per user and asset
	CREATE TABLE IF NOT EXISTS addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		asset TEXT NOT NULL,
		network TEXT NOT NULL,
		address TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		account_identifier TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_addresses_user_asset ON addresses(user_id, asset);
	CREATE INDEX IF NOT EXISTS idx_addresses_wallet_id ON addresses(wallet_id);

	-- Money-market state, one row per listed or delisted asset
	CREATE TABLE IF NOT EXISTS markets (
		symbol TEXT PRIMARY KEY,
		is_listed BOOLEAN NOT NULL DEFAULT 1,
		collateral_factor TEXT NOT NULL,
		liquidation_threshold TEXT NOT NULL,
		liquidation_penalty TEXT NOT NULL,
		reserve_factor TEXT NOT NULL,
		total_borrows TEXT NOT NULL DEFAULT '0',
		total_supply TEXT NOT NULL DEFAULT '0',
		total_reserves TEXT NOT NULL DEFAULT '0',
		borrow_index TEXT NOT NULL DEFAULT '1',
		supply_index TEXT NOT NULL DEFAULT '1',
		last_accrual_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);

	-- Per owner and market positions; empty positions are deleted
	CREATE TABLE IF NOT EXISTS accounts (
		owner TEXT NOT NULL,
		symbol TEXT NOT NULL REFERENCES markets(symbol),
		collateral TEXT NOT NULL DEFAULT '0',
		borrowed TEXT NOT NULL DEFAULT '0',
		borrow_index_snapshot TEXT NOT NULL DEFAULT '1',
		supplied TEXT NOT NULL DEFAULT '0',
		supply_index_snapshot TEXT NOT NULL DEFAULT '1',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, symbol)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_symbol ON accounts(symbol);

	-- One row per committed operation reference
	CREATE TABLE IF NOT EXISTS position_batches (
		reference TEXT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Audit trail of position changes
	CREATE TABLE IF NOT EXISTS position_events (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		owner TEXT NOT NULL,
		symbol TEXT NOT NULL,
		event_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		collateral_before TEXT NOT NULL,
		collateral_after TEXT NOT NULL,
		debt_before TEXT NOT NULL,
		debt_after TEXT NOT NULL,
		counterparty TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_position_events_reference ON position_events(reference);
	CREATE INDEX IF NOT EXISTS idx_position_events_owner_symbol ON position_events(owner, symbol);
	CREATE INDEX IF NOT EXISTS idx_position_events_created_at ON position_events(created_at);

	-- Double-entry journal derived from position events
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES position_events(id),
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount TEXT NOT NULL DEFAULT '0',
		credit_amount TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_journal_event_id ON journal_entries(event_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);

	-- Settlement applications
	CREATE TABLE IF NOT EXISTS loan_applications (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		asset_amount TEXT NOT NULL,
		asset_value_usd TEXT NOT NULL,
		requested_loan_amount TEXT NOT NULL,
		collateral_factor_snapshot TEXT NOT NULL,
		estimated_apy TEXT NOT NULL,
		status TEXT NOT NULL,
		bank_reserve_id TEXT,
		token_symbol TEXT,
		mint_tx_ref TEXT,
		mint_block_number INTEGER,
		failure_reason TEXT,
		collateral_credited BOOLEAN NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		submitted_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_loan_applications_status ON loan_applications(status);
	CREATE INDEX IF NOT EXISTS idx_loan_applications_owner ON loan_applications(owner);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_loan_applications_mint_tx_ref ON loan_applications(mint_tx_ref);
	`

func (s *Service) initSchema(ctx context.Context, createDummyUsers bool) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	if !createDummyUsers {
		zap.L().Info("Skipping dummy user creation (CREATE_DUMMY_USERS=false)")
		return nil
	}

	users := []struct {
		id    string
		name  string
		email string
	}{
		{uuid.New().String(), "Alice Johnson", "alice.johnson@example.com"},
		{uuid.New().String(), "Bob Smith", "bob.smith@example.com"},
		{uuid.New().String(), "Carol Williams", "carol.williams@example.com"},
	}

	for _, user := range users {
		_, err := s.db.ExecContext(ctx, queryInsertUser, user.id, user.name, user.email)
		if err != nil {
			zap.L().Error("Failed to insert dummy user", zap.String("name", user.name), zap.Error(err))
		} else {
			zap.L().Info("Dummy user created", zap.String("id", user.id), zap.String("name", user.name))
		}
	}
	return nil
}
