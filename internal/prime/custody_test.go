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

package prime

import (
	"context"
	"errors"
	"testing"
	"time"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/settlement"
	"rwa-lending-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	withdrawals []CreateWithdrawalParams
	txns        []models.PrimeTransaction
	err         error
	since       time.Time
}

func (f *fakeClient) CreateWithdrawal(_ context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.withdrawals = append(f.withdrawals, params)
	return &models.Withdrawal{ActivityId: "act-1", IdempotencyKey: params.IdempotencyKey}, nil
}

func (f *fakeClient) ListWalletTransactions(_ context.Context, _, _ string, since time.Time) ([]models.PrimeTransaction, error) {
	f.since = since
	return f.txns, f.err
}

type fakeAddressBook map[string][]models.Address

func (f fakeAddressBook) GetAllUserAddresses(_ context.Context, userId string) ([]models.Address, error) {
	return f[userId], nil
}

func newTestCustody(t *testing.T, client *fakeClient) *Custody {
	t.Helper()
	book := fakeAddressBook{
		"alice": {{UserId: "alice", Asset: "RGLD", WalletId: "wallet-a"}},
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := NewCustody(client, book, CustodyConfig{
		PortfolioId:    "portfolio-1",
		EscrowAddress:  "0xescrow",
		LookbackWindow: time.Hour,
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)
	return c
}

func TestCustody_ReserveSendsEscrowWithdrawal(t *testing.T) {
	client := &fakeClient{}
	c := newTestCustody(t, client)

	id, err := c.Reserve(context.Background(), settlement.ReservationRequest{
		Owner:          "alice",
		AssetSymbol:    "RGLD",
		Amount:         decimal.RequireFromString("10.5"),
		IdempotencyKey: "app-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "wallet-a:app-1", id)

	require.Len(t, client.withdrawals, 1)
	w := client.withdrawals[0]
	assert.Equal(t, "wallet-a", w.WalletId)
	assert.Equal(t, "0xescrow", w.DestinationAddress)
	assert.Equal(t, "10.5", w.Amount)
	assert.Equal(t, "app-1", w.IdempotencyKey)
}

func TestCustody_ReserveWithoutWallet(t *testing.T) {
	c := newTestCustody(t, &fakeClient{})

	_, err := c.Reserve(context.Background(), settlement.ReservationRequest{
		Owner:          "bob",
		AssetSymbol:    "RGLD",
		Amount:         decimal.NewFromInt(1),
		IdempotencyKey: "app-2",
	})
	assert.ErrorIs(t, err, store.ErrAddressNotFound)
}

func TestCustody_ConfirmReservation(t *testing.T) {
	tests := []struct {
		name      string
		txns      []models.PrimeTransaction
		confirmed bool
		failed    bool
	}{
		{name: "not yet visible"},
		{name: "pending", txns: []models.PrimeTransaction{{Id: "t1", IdempotencyKey: "app-1", Status: "TRANSACTION_PROCESSING"}}},
		{name: "done", txns: []models.PrimeTransaction{{Id: "t1", IdempotencyKey: "app-1", Status: "TRANSACTION_DONE"}}, confirmed: true},
		{name: "other key done", txns: []models.PrimeTransaction{{Id: "t2", IdempotencyKey: "app-9", Status: "TRANSACTION_DONE"}}},
		{name: "rejected", txns: []models.PrimeTransaction{{Id: "t1", IdempotencyKey: "app-1", Status: "TRANSACTION_REJECTED"}}, failed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{txns: tt.txns}
			c := newTestCustody(t, client)

			ok, err := c.ConfirmReservation(context.Background(), "wallet-a:app-1")
			if tt.failed {
				assert.ErrorIs(t, err, settlement.ErrReservationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.confirmed, ok)
			assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), client.since)
		})
	}
}

func TestCustody_ConfirmReservationErrors(t *testing.T) {
	c := newTestCustody(t, &fakeClient{err: errors.New("prime unavailable")})

	_, err := c.ConfirmReservation(context.Background(), "no-separator")
	assert.Error(t, err)

	_, err = c.ConfirmReservation(context.Background(), "wallet-a:app-1")
	assert.EqualError(t, err, "prime unavailable")
}
