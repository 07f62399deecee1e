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
	"fmt"
	"strings"
	"time"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/settlement"
	"rwa-lending-go/internal/store"

	"go.uber.org/zap"
)

var _ settlement.CustodyAdapter = (*Custody)(nil)

// Prime statuses after which a withdrawal will never complete
var terminalFailures = map[string]bool{
	"TRANSACTION_FAILED":    true,
	"TRANSACTION_REJECTED":  true,
	"TRANSACTION_CANCELLED": true,
	"TRANSACTION_EXPIRED":   true,
}

const transactionDone = "TRANSACTION_DONE"

// Client is the part of the Prime API the custody adapter uses
type Client interface {
	CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error)
	ListWalletTransactions(ctx context.Context, portfolioId, walletId string, startTime time.Time) ([]models.PrimeTransaction, error)
}

// AddressBook resolves an owner's custody wallets
type AddressBook interface {
	GetAllUserAddresses(ctx context.Context, userId string) ([]models.Address, error)
}

// CustodyConfig holds the Prime custody settings
type CustodyConfig struct {
	PortfolioId    string
	EscrowAddress  string
	LookbackWindow time.Duration
	Now            func() time.Time
}

// Custody reserves an owner's asset by moving it from their Prime wallet to
// the escrow address. A reservation is confirmed once Prime reports the
// withdrawal done.
type Custody struct {
	client    Client
	addresses AddressBook
	cfg       CustodyConfig
}

func NewCustody(client Client, addresses AddressBook, cfg CustodyConfig) (*Custody, error) {
	if cfg.PortfolioId == "" {
		return nil, errors.New("portfolio id is required")
	}
	if cfg.EscrowAddress == "" {
		return nil, errors.New("escrow address is required")
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Custody{client: client, addresses: addresses, cfg: cfg}, nil
}

// Reserve submits the escrow withdrawal. The reservation id encodes the
// source wallet and the idempotency key so it can be confirmed later.
func (c *Custody) Reserve(ctx context.Context, req settlement.ReservationRequest) (string, error) {
	walletId, err := c.walletFor(ctx, req.Owner, req.AssetSymbol)
	if err != nil {
		return "", err
	}

	_, err = c.client.CreateWithdrawal(ctx, CreateWithdrawalParams{
		PortfolioId:        c.cfg.PortfolioId,
		WalletId:           walletId,
		DestinationAddress: c.cfg.EscrowAddress,
		Amount:             req.Amount.String(),
		Asset:              req.AssetSymbol,
		IdempotencyKey:     req.IdempotencyKey,
	})
	if err != nil {
		return "", err
	}

	reservationId := walletId + ":" + req.IdempotencyKey
	zap.L().Info("Custody reservation submitted",
		zap.String("owner", req.Owner),
		zap.String("asset", req.AssetSymbol),
		zap.String("reservation_id", reservationId))
	return reservationId, nil
}

// ConfirmReservation reports whether the escrow withdrawal is done
func (c *Custody) ConfirmReservation(ctx context.Context, reservationId string) (bool, error) {
	walletId, key, ok := strings.Cut(reservationId, ":")
	if !ok || walletId == "" || key == "" {
		return false, fmt.Errorf("malformed reservation id %q", reservationId)
	}

	since := c.cfg.Now().UTC().Add(-c.cfg.LookbackWindow)
	txns, err := c.client.ListWalletTransactions(ctx, c.cfg.PortfolioId, walletId, since)
	if err != nil {
		return false, err
	}

	for _, tx := range txns {
		if tx.IdempotencyKey != key {
			continue
		}
		switch {
		case tx.Status == transactionDone:
			return true, nil
		case terminalFailures[tx.Status]:
			zap.L().Warn("Custody reservation failed",
				zap.String("reservation_id", reservationId),
				zap.String("transaction_id", tx.Id),
				zap.String("status", tx.Status))
			return false, fmt.Errorf("%w: transaction %s is %s", settlement.ErrReservationFailed, tx.Id, tx.Status)
		default:
			zap.L().Debug("Custody reservation pending",
				zap.String("reservation_id", reservationId),
				zap.String("status", tx.Status))
			return false, nil
		}
	}
	return false, nil
}

func (c *Custody) walletFor(ctx context.Context, owner, asset string) (string, error) {
	addresses, err := c.addresses.GetAllUserAddresses(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to get custody wallets: %w", err)
	}
	for _, addr := range addresses {
		if addr.Asset == asset && addr.WalletId != "" {
			return addr.WalletId, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no %s wallet", store.ErrAddressNotFound, owner, asset)
}
