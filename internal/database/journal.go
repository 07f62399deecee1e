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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Journal account types
const (
	accountCustody     = "custody"
	accountCollateral  = "user_collateral"
	accountDebt        = "user_debt"
	accountSupply      = "user_supply"
	accountMarketCash  = "market_cash"
	accountLiquidation = "liquidation_clearing"
)

type journalLine struct {
	accountType  string
	accountId    string
	debitAmount  decimal.Decimal
	creditAmount decimal.Decimal
}

func debit(accountType, accountId string, amount decimal.Decimal) journalLine {
	return journalLine{accountType: accountType, accountId: accountId, debitAmount: amount, creditAmount: decimal.Zero}
}

func credit(accountType, accountId string, amount decimal.Decimal) journalLine {
	return journalLine{accountType: accountType, accountId: accountId, debitAmount: decimal.Zero, creditAmount: amount}
}

// journalLines maps a position event onto balanced double-entry lines
func journalLines(ev models.PositionEvent) ([]journalLine, error) {
	user := fmt.Sprintf("%s_%s", ev.Owner, ev.Symbol)
	amount := ev.Amount

	switch ev.EventType {
	case models.EventDepositCollateral, models.EventCollateralCredit:
		return []journalLine{debit(accountCustody, ev.Symbol, amount), credit(accountCollateral, user, amount)}, nil
	case models.EventWithdrawCollateral:
		return []journalLine{debit(accountCollateral, user, amount), credit(accountCustody, ev.Symbol, amount)}, nil
	case models.EventBorrow:
		return []journalLine{debit(accountDebt, user, amount), credit(accountMarketCash, ev.Symbol, amount)}, nil
	case models.EventRepay, models.EventLiquidationRepay:
		return []journalLine{debit(accountMarketCash, ev.Symbol, amount), credit(accountDebt, user, amount)}, nil
	case models.EventSupply:
		return []journalLine{debit(accountMarketCash, ev.Symbol, amount), credit(accountSupply, user, amount)}, nil
	case models.EventRedeem:
		return []journalLine{debit(accountSupply, user, amount), credit(accountMarketCash, ev.Symbol, amount)}, nil
	case models.EventLiquidationSeize:
		return []journalLine{debit(accountCollateral, user, amount), credit(accountLiquidation, ev.Symbol, amount)}, nil
	case models.EventLiquidationReward:
		return []journalLine{debit(accountLiquidation, ev.Symbol, amount), credit(accountCollateral, user, amount)}, nil
	default:
		return nil, fmt.Errorf("no journal mapping for event type %q", ev.EventType)
	}
}

// addJournalEntries writes the double-entry lines of one event inside tx
func addJournalEntries(ctx context.Context, tx *sql.Tx, eventId string, ev models.PositionEvent) error {
	lines, err := journalLines(ev)
	if err != nil {
		return err
	}

	debits, credits := decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.debitAmount)
		credits = credits.Add(l.creditAmount)
	}
	if !debits.Equal(credits) {
		return fmt.Errorf("unbalanced journal for event %s: debits %s, credits %s", eventId, debits.String(), credits.String())
	}

	for _, l := range lines {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), eventId, l.accountType, l.accountId, l.debitAmount.String(), l.creditAmount.String())
		if err != nil {
			return err
		}
	}
	return nil
}
