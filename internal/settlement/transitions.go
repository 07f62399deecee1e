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
	"strings"

	"go.uber.org/zap"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
)

// CollateralReference is the journal reference of an application's collateral credit
func CollateralReference(applicationId string) string {
	return "application:" + applicationId
}

// RequestReservation asks the custodian to hold the asset and records the
// reservation id. Safe to repeat: the custodian sees the same idempotency key.
func (p *Pipeline) RequestReservation(ctx context.Context, id string) (*models.LoanApplication, error) {
	const op = "request reservation"
	app, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case app.Status == models.StatusRejected:
		return nil, invalidTransition(op, app)
	case app.Status != models.StatusSubmitted || app.BankReserveId != nil:
		return app, nil
	}

	var reservationId string
	err = p.call(ctx, "custody", "reserve", func(ctx context.Context) error {
		var err error
		reservationId, err = p.custody.Reserve(ctx, ReservationRequest{
			Owner:          app.Owner,
			AssetSymbol:    app.AssetSymbol,
			Amount:         app.AssetAmount,
			IdempotencyKey: app.Id,
		})
		return err
	})
	if err != nil {
		zap.L().Warn("Custody reservation request failed, application unchanged",
			zap.String("application_id", id),
			zap.Error(err))
		return app, lending.E(lending.KindExternalService, op, err)
	}

	return p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		if a.Status != models.StatusSubmitted {
			return false, nil
		}
		if a.BankReserveId != nil {
			if *a.BankReserveId != reservationId {
				return false, lending.E(lending.KindStateTransition, op,
					fmt.Errorf("%w: recorded %s, custodian returned %s", lending.ErrConflictingReservation, *a.BankReserveId, reservationId))
			}
			return false, nil
		}
		a.BankReserveId = models.StringPtr(reservationId)
		zap.L().Info("Custody reservation recorded",
			zap.String("application_id", a.Id),
			zap.String("reservation_id", reservationId))
		return true, nil
	})
}

// ConfirmReserve moves a submitted application to bank_confirmed once the
// custodian confirms the reservation. An empty reservationId uses the one
// recorded by RequestReservation. Replays after confirmation succeed without
// effect.
func (p *Pipeline) ConfirmReserve(ctx context.Context, id, reservationId string) (*models.LoanApplication, error) {
	const op = "confirm reserve"
	app, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservationId == "" {
		reservationId = models.StringValue(app.BankReserveId)
	}
	if reservationId == "" {
		return nil, lending.E(lending.KindValidation, op, errors.New("reservation id is required"))
	}

	switch app.Status {
	case models.StatusSubmitted:
	case models.StatusRejected:
		return nil, invalidTransition(op, app)
	default:
		if recorded := models.StringValue(app.BankReserveId); recorded != reservationId {
			zap.L().Warn("Replayed reservation confirmation carries a different id, ignoring",
				zap.String("application_id", id),
				zap.String("recorded", recorded),
				zap.String("received", reservationId))
		}
		return app, nil
	}

	if recorded := models.StringValue(app.BankReserveId); recorded != "" && recorded != reservationId {
		return nil, lending.E(lending.KindStateTransition, op,
			fmt.Errorf("%w: recorded %s, received %s", lending.ErrConflictingReservation, recorded, reservationId))
	}

	var confirmed bool
	err = p.call(ctx, "custody", "confirm_reservation", func(ctx context.Context) error {
		var err error
		confirmed, err = p.custody.ConfirmReservation(ctx, reservationId)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrReservationFailed) {
			return app, err
		}
		return app, lending.E(lending.KindExternalService, op, err)
	}
	if !confirmed {
		return app, lending.E(lending.KindExternalService, op, fmt.Errorf("%w: %s", ErrReservationPending, reservationId))
	}

	return p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		switch a.Status {
		case models.StatusSubmitted:
		case models.StatusRejected:
			return false, invalidTransition(op, a)
		default:
			return false, nil
		}
		if recorded := models.StringValue(a.BankReserveId); recorded != "" && recorded != reservationId {
			return false, lending.E(lending.KindStateTransition, op,
				fmt.Errorf("%w: recorded %s, received %s", lending.ErrConflictingReservation, recorded, reservationId))
		}
		a.BankReserveId = models.StringPtr(reservationId)
		a.Status = models.StatusBankConfirmed
		return true, nil
	})
}

// InitiateMint submits the token mint for a bank-confirmed application and
// records the transaction reference. A failed or timed-out call leaves the
// application in bank_confirmed; re-sending uses the same idempotency key.
func (p *Pipeline) InitiateMint(ctx context.Context, id string) (*models.LoanApplication, error) {
	const op = "initiate mint"
	app, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch app.Status {
	case models.StatusBankConfirmed:
	case models.StatusMinting, models.StatusCompleted, models.StatusMintFailed:
		return app, nil
	default:
		return nil, invalidTransition(op, app)
	}

	verified, err := p.compliance.IsVerified(ctx, app.Owner)
	if err != nil {
		return app, lending.E(lending.KindExternalService, op, fmt.Errorf("compliance check failed: %w", err))
	}
	if !verified {
		return app, lending.E(lending.KindCompliance, op, fmt.Errorf("%w: %s", lending.ErrComplianceRejected, app.Owner))
	}

	tokenSymbol := p.TokenSymbol(app.AssetSymbol)
	var txHash string
	err = p.call(ctx, "mint", "mint", func(ctx context.Context) error {
		var err error
		txHash, err = p.minter.Mint(ctx, MintRequest{
			ApplicationId:  app.Id,
			Owner:          app.Owner,
			TokenSymbol:    tokenSymbol,
			Amount:         app.AssetAmount,
			IdempotencyKey: app.Id,
		})
		return err
	})
	if err != nil {
		zap.L().Warn("Mint submission failed, application stays bank_confirmed",
			zap.String("application_id", id),
			zap.Error(err))
		return app, lending.E(lending.KindExternalService, op, err)
	}

	return p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		switch a.Status {
		case models.StatusBankConfirmed:
		case models.StatusMinting, models.StatusCompleted, models.StatusMintFailed:
			if recorded := models.StringValue(a.MintTxRef); recorded != txHash {
				return false, lending.E(lending.KindInconsistency, op,
					fmt.Errorf("%w: recorded %s, minter returned %s", lending.ErrMintHashMismatch, recorded, txHash))
			}
			return false, nil
		default:
			return false, invalidTransition(op, a)
		}
		a.Status = models.StatusMinting
		a.TokenSymbol = models.StringPtr(tokenSymbol)
		a.MintTxRef = models.StringPtr(txHash)
		return true, nil
	})
}

// MintConfirmed applies a finality event. A duplicate for a completed
// application with the same hash is a no-op; a different hash is an
// inconsistency for manual reconciliation. Completion credits the collateral.
func (p *Pipeline) MintConfirmed(ctx context.Context, c MintConfirmation) (*models.LoanApplication, error) {
	const op = "mint confirmed"
	if strings.TrimSpace(c.TxHash) == "" {
		return nil, lending.E(lending.KindValidation, op, errors.New("transaction hash is required"))
	}
	id, err := p.resolveMint(ctx, c.ApplicationId, c.TxHash)
	if err != nil {
		return nil, err
	}

	app, err := p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		recorded := models.StringValue(a.MintTxRef)
		switch a.Status {
		case models.StatusMinting:
			if recorded != c.TxHash {
				return false, p.mismatch(op, a, c.TxHash)
			}
			completedAt := p.now()
			block := c.BlockNumber
			a.Status = models.StatusCompleted
			a.MintBlockNumber = &block
			a.CompletedAt = &completedAt
			return true, nil
		case models.StatusCompleted:
			if recorded != c.TxHash {
				return false, p.mismatch(op, a, c.TxHash)
			}
			return false, nil
		case models.StatusMintFailed:
			zap.L().Error("Mint confirmed after it was marked failed, manual reconciliation required",
				zap.String("application_id", a.Id),
				zap.String("recorded_tx", recorded),
				zap.String("confirmed_tx", c.TxHash),
				zap.Uint64("block_number", c.BlockNumber))
			return false, lending.E(lending.KindInconsistency, op,
				fmt.Errorf("%w: application %s is mint_failed", lending.ErrInvalidTransition, a.Id))
		default:
			return false, invalidTransition(op, a)
		}
	})
	if err != nil {
		return app, err
	}
	return p.EnsureCollateralCredited(ctx, app.Id)
}

// MintFailed records a failed mint. The application then waits for manual
// reconciliation; it is never rolled back to an earlier state.
func (p *Pipeline) MintFailed(ctx context.Context, applicationId, txHash, reason string) (*models.LoanApplication, error) {
	const op = "mint failed"
	id, err := p.resolveMint(ctx, applicationId, txHash)
	if err != nil {
		return nil, err
	}
	return p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		recorded := models.StringValue(a.MintTxRef)
		switch a.Status {
		case models.StatusMinting, models.StatusMintFailed, models.StatusCompleted:
			if txHash != "" && recorded != txHash {
				return false, p.mismatch(op, a, txHash)
			}
		}
		switch a.Status {
		case models.StatusMinting:
			a.Status = models.StatusMintFailed
			a.FailureReason = models.StringPtr(reason)
			zap.L().Error("Mint failed, manual reconciliation required",
				zap.String("application_id", a.Id),
				zap.String("tx_hash", recorded),
				zap.String("reason", reason))
			return true, nil
		case models.StatusMintFailed:
			return false, nil
		case models.StatusCompleted:
			zap.L().Error("Mint failure reported for a completed application, manual reconciliation required",
				zap.String("application_id", a.Id),
				zap.String("tx_hash", recorded),
				zap.String("reason", reason))
			return false, lending.E(lending.KindInconsistency, op,
				fmt.Errorf("%w: application %s is completed", lending.ErrInvalidTransition, a.Id))
		default:
			return false, invalidTransition(op, a)
		}
	})
}

// Reject cancels an application before minting. Replaying a rejection is a
// no-op; once minting started the application can only be reconciled.
func (p *Pipeline) Reject(ctx context.Context, id, reason string) (*models.LoanApplication, error) {
	const op = "reject"
	return p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		switch a.Status {
		case models.StatusSubmitted, models.StatusBankConfirmed:
			a.Status = models.StatusRejected
			a.FailureReason = models.StringPtr(reason)
			zap.L().Info("Application rejected",
				zap.String("application_id", a.Id),
				zap.String("reason", reason),
				zap.String("reservation_id", models.StringValue(a.BankReserveId)))
			return true, nil
		case models.StatusRejected:
			return false, nil
		default:
			return false, invalidTransition(op, a)
		}
	})
}

// ReconcileMintFailed resolves a mint_failed application after an operator
// established that txHash did land. The mint ledger must agree before the
// application completes.
func (p *Pipeline) ReconcileMintFailed(ctx context.Context, id, txHash string) (*models.LoanApplication, error) {
	const op = "reconcile mint"
	app, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.StatusMintFailed {
		return nil, invalidTransition(op, app)
	}
	if txHash == "" {
		txHash = models.StringValue(app.MintTxRef)
	}

	var status MintStatus
	err = p.call(ctx, "mint", "mint_status", func(ctx context.Context) error {
		var err error
		status, err = p.minter.MintStatus(ctx, txHash)
		return err
	})
	if err != nil {
		return app, lending.E(lending.KindExternalService, op, err)
	}
	if status.State != MintConfirmed {
		return app, lending.E(lending.KindStateTransition, op,
			fmt.Errorf("%w: mint %s is %s", lending.ErrInvalidTransition, txHash, status.State))
	}

	app, err = p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		if a.Status != models.StatusMintFailed {
			return false, invalidTransition(op, a)
		}
		completedAt := p.now()
		block := status.BlockNumber
		a.Status = models.StatusCompleted
		a.MintTxRef = models.StringPtr(txHash)
		a.MintBlockNumber = &block
		a.CompletedAt = &completedAt
		zap.L().Warn("Mint failure reconciled to completed",
			zap.String("application_id", a.Id),
			zap.String("tx_hash", txHash),
			zap.String("previous_reason", models.StringValue(a.FailureReason)))
		return true, nil
	})
	if err != nil {
		return app, err
	}
	return p.EnsureCollateralCredited(ctx, app.Id)
}

// EnsureCollateralCredited credits a completed application's collateral once.
// The ledger deduplicates by reference, so a crash between the credit and the
// flag update is repaired by calling this again.
func (p *Pipeline) EnsureCollateralCredited(ctx context.Context, id string) (*models.LoanApplication, error) {
	const op = "credit collateral"
	app, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.StatusCompleted {
		return nil, invalidTransition(op, app)
	}
	if app.CollateralCredited {
		return app, nil
	}

	receipt, err := p.collateral.CreditCollateral(ctx, app.Owner, app.AssetSymbol, app.AssetAmount, CollateralReference(app.Id))
	if err != nil {
		zap.L().Warn("Collateral credit failed, will retry",
			zap.String("application_id", id),
			zap.Error(err))
		return app, err
	}
	if receipt != nil && receipt.Duplicate {
		zap.L().Info("Collateral already credited, marking application",
			zap.String("application_id", id))
	}

	return p.update(ctx, id, op, func(a *models.LoanApplication) (bool, error) {
		if a.CollateralCredited {
			return false, nil
		}
		a.CollateralCredited = true
		zap.L().Info("Collateral credited",
			zap.String("application_id", a.Id),
			zap.String("owner", a.Owner),
			zap.String("asset", a.AssetSymbol),
			zap.String("amount", a.AssetAmount.String()))
		return true, nil
	})
}

// CheckReservation asks the custodian about a submitted application's hold
// and advances it when confirmed. It reports whether the application moved.
func (p *Pipeline) CheckReservation(ctx context.Context, app *models.LoanApplication) (bool, error) {
	if app.Status != models.StatusSubmitted {
		return false, nil
	}
	if app.BankReserveId == nil {
		_, err := p.RequestReservation(ctx, app.Id)
		return false, err
	}
	updated, err := p.ConfirmReserve(ctx, app.Id, "")
	if err != nil {
		if errors.Is(err, ErrReservationPending) {
			return false, nil
		}
		if errors.Is(err, ErrReservationFailed) {
			_, rerr := p.Reject(ctx, app.Id, err.Error())
			return rerr == nil, rerr
		}
		return false, err
	}
	return updated.Status != app.Status, nil
}

// CheckMint asks the mint ledger about a minting application and applies the
// outcome. It reports whether the application moved.
func (p *Pipeline) CheckMint(ctx context.Context, app *models.LoanApplication) (bool, error) {
	if app.Status != models.StatusMinting {
		return false, nil
	}
	txHash := models.StringValue(app.MintTxRef)

	var status MintStatus
	err := p.call(ctx, "mint", "mint_status", func(ctx context.Context) error {
		var err error
		status, err = p.minter.MintStatus(ctx, txHash)
		return err
	})
	if err != nil {
		return false, lending.E(lending.KindExternalService, "check mint", err)
	}

	switch status.State {
	case MintConfirmed:
		_, err = p.MintConfirmed(ctx, MintConfirmation{ApplicationId: app.Id, TxHash: txHash, BlockNumber: status.BlockNumber})
		return err == nil, err
	case MintFailed:
		_, err = p.MintFailed(ctx, app.Id, txHash, status.Reason)
		return err == nil, err
	default:
		return false, nil
	}
}

func (p *Pipeline) resolveMint(ctx context.Context, applicationId, txHash string) (string, error) {
	if applicationId != "" {
		return applicationId, nil
	}
	if txHash == "" {
		return "", lending.E(lending.KindValidation, "resolve mint", errors.New("application id or transaction hash is required"))
	}
	app, err := p.store.GetApplicationByMintRef(ctx, txHash)
	if err != nil {
		return "", lending.E(lending.KindValidation, "resolve mint", fmt.Errorf("no application for mint %s: %w", txHash, err))
	}
	return app.Id, nil
}

func (p *Pipeline) mismatch(op string, app *models.LoanApplication, received string) error {
	zap.L().Error("Mint hash mismatch, manual reconciliation required",
		zap.String("application_id", app.Id),
		zap.String("status", string(app.Status)),
		zap.String("recorded_tx", models.StringValue(app.MintTxRef)),
		zap.String("received_tx", received))
	return lending.E(lending.KindInconsistency, op,
		fmt.Errorf("%w: recorded %s, received %s", lending.ErrMintHashMismatch, models.StringValue(app.MintTxRef), received))
}
