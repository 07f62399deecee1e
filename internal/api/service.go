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

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/settlement"
)

// Settlement is the loan application pipeline behind the facade
type Settlement interface {
	Submit(ctx context.Context, req settlement.SubmitRequest) (*models.LoanApplication, error)
	Get(ctx context.Context, id string) (*models.LoanApplication, error)
	RequestReservation(ctx context.Context, id string) (*models.LoanApplication, error)
	ConfirmReserve(ctx context.Context, id, reservationId string) (*models.LoanApplication, error)
	InitiateMint(ctx context.Context, id string) (*models.LoanApplication, error)
	MintConfirmed(ctx context.Context, c settlement.MintConfirmation) (*models.LoanApplication, error)
	MintFailed(ctx context.Context, applicationId, txHash, reason string) (*models.LoanApplication, error)
	Reject(ctx context.Context, id, reason string) (*models.LoanApplication, error)
	ReconcileMintFailed(ctx context.Context, id, txHash string) (*models.LoanApplication, error)
}

// UserDirectory is used for health checks
type UserDirectory interface {
	GetUsers(ctx context.Context) ([]models.User, error)
}

// LendingService is the entry point the CLIs use. Domain rejections come back
// as results; only infrastructure failures are returned as errors.
type LendingService struct {
	engine     *lending.Engine
	settlement Settlement
	users      UserDirectory
	timeout    time.Duration
}

func NewLendingService(engine *lending.Engine, settlement Settlement, users UserDirectory, timeout time.Duration) *LendingService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LendingService{
		engine:     engine,
		settlement: settlement,
		users:      users,
		timeout:    timeout,
	}
}

func (s *LendingService) HealthCheck(ctx context.Context) error {
	_, err := s.users.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// resultStatus maps an error to the status reported to callers. External
// service failures changed nothing and are safe to retry.
func resultStatus(err error) (string, lending.Kind, bool) {
	kind := lending.KindOf(err)
	switch kind {
	case lending.KindExternalService:
		return models.ResultPendingRetry, kind, true
	case lending.KindValidation, lending.KindInsufficientCollateral, lending.KindHealthCheck,
		lending.KindCompliance, lending.KindStateTransition, lending.KindInconsistency:
		return models.ResultRejected, kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ResultPendingRetry, lending.KindExternalService, true
	}
	return "", kind, false
}
