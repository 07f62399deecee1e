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

const (
	// User queries
	queryGetActiveUsers = `
		SELECT id, name, email, kyc_verified, created_at, updated_at
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email) VALUES (?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, kyc_verified, created_at, updated_at
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByEmail = `
		SELECT id, name, email, kyc_verified, created_at, updated_at
		FROM users
		WHERE email = ? AND active = 1`

	querySetUserVerified = `
		UPDATE users
		SET kyc_verified = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND active = 1`

	queryIsUserVerified = `
		SELECT kyc_verified FROM users WHERE id = ? AND active = 1`

	// Address queries
	queryInsertAddress = `
		INSERT INTO addresses (id, user_id, asset, network, address, wallet_id, account_identifier)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, user_id, asset, network, address, wallet_id, account_identifier, created_at`

	queryGetUserAddresses = `
		SELECT id, user_id, asset, network, address, wallet_id, account_identifier, created_at
		FROM addresses
		WHERE user_id = ? AND asset = ? AND network = ?
		ORDER BY created_at DESC`

	queryGetAllUserAddresses = `
		SELECT id, user_id, asset, network, address, wallet_id, account_identifier, created_at
		FROM addresses
		WHERE user_id = ?
		ORDER BY asset, created_at DESC`

	// Position queries
	queryCheckBatchReference = `
		SELECT reference FROM position_batches WHERE reference = ? LIMIT 1`

	queryInsertBatchReference = `
		INSERT INTO position_batches (reference, created_at) VALUES (?, ?)`

	// A market row only moves forward one version at a time
	queryUpsertMarket = `
		INSERT INTO markets (
			symbol, is_listed, collateral_factor, liquidation_threshold, liquidation_penalty, reserve_factor,
			total_borrows, total_supply, total_reserves, borrow_index, supply_index, last_accrual_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			is_listed = excluded.is_listed,
			collateral_factor = excluded.collateral_factor,
			liquidation_threshold = excluded.liquidation_threshold,
			liquidation_penalty = excluded.liquidation_penalty,
			reserve_factor = excluded.reserve_factor,
			total_borrows = excluded.total_borrows,
			total_supply = excluded.total_supply,
			total_reserves = excluded.total_reserves,
			borrow_index = excluded.borrow_index,
			supply_index = excluded.supply_index,
			last_accrual_at = excluded.last_accrual_at,
			version = excluded.version
		WHERE markets.version = excluded.version - 1`

	queryListMarkets = `
		SELECT symbol, is_listed, collateral_factor, liquidation_threshold, liquidation_penalty, reserve_factor,
		       total_borrows, total_supply, total_reserves, borrow_index, supply_index, last_accrual_at, version
		FROM markets
		ORDER BY symbol`

	queryUpsertAccount = `
		INSERT INTO accounts (
			owner, symbol, collateral, borrowed, borrow_index_snapshot, supplied, supply_index_snapshot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, symbol) DO UPDATE SET
			collateral = excluded.collateral,
			borrowed = excluded.borrowed,
			borrow_index_snapshot = excluded.borrow_index_snapshot,
			supplied = excluded.supplied,
			supply_index_snapshot = excluded.supply_index_snapshot,
			updated_at = excluded.updated_at`

	queryDeleteAccount = `
		DELETE FROM accounts WHERE owner = ? AND symbol = ?`

	queryListAccounts = `
		SELECT owner, symbol, collateral, borrowed, borrow_index_snapshot, supplied, supply_index_snapshot, updated_at
		FROM accounts
		ORDER BY symbol, owner`

	queryInsertPositionEvent = `
		INSERT INTO position_events (
			id, reference, owner, symbol, event_type, amount,
			collateral_before, collateral_after, debt_before, debt_after, counterparty, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryHasPositionEvent = `
		SELECT 1 FROM position_batches WHERE reference = ?
		UNION ALL
		SELECT 1 FROM position_events WHERE reference = ?
		LIMIT 1`

	queryGetPositionHistory = `
		SELECT id, reference, owner, symbol, event_type, amount,
		       collateral_before, collateral_after, debt_before, debt_after, counterparty, created_at
		FROM position_events
		WHERE owner = ? AND (? = '' OR symbol = ?)
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, event_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	// Application queries
	applicationColumns = `
		id, owner, asset_symbol, asset_amount, asset_value_usd, requested_loan_amount,
		collateral_factor_snapshot, estimated_apy, status, bank_reserve_id, token_symbol,
		mint_tx_ref, mint_block_number, failure_reason, collateral_credited, version,
		submitted_at, updated_at, completed_at`

	queryInsertApplication = `
		INSERT INTO loan_applications (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetApplication = `
		SELECT ` + applicationColumns + `
		FROM loan_applications
		WHERE id = ?`

	queryGetApplicationByMintRef = `
		SELECT ` + applicationColumns + `
		FROM loan_applications
		WHERE mint_tx_ref = ?`

	queryUpdateApplication = `
		UPDATE loan_applications
		SET status = ?, bank_reserve_id = ?, token_symbol = ?, mint_tx_ref = ?, mint_block_number = ?,
		    failure_reason = ?, collateral_credited = ?, version = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?`

	queryListApplicationsByStatus = `
		SELECT ` + applicationColumns + `
		FROM loan_applications
		WHERE status IN (%s)
		ORDER BY submitted_at`
)
