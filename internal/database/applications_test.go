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
	"errors"
	"testing"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"
)

func testApplication(id string) *models.LoanApplication {
	return &models.LoanApplication{
		Id:                       id,
		Owner:                    "alice",
		AssetSymbol:              "RGLD",
		AssetAmount:              dec("10"),
		AssetValueUSD:            dec("1700"),
		RequestedLoanAmount:      dec("1000"),
		CollateralFactorSnapshot: dec("0.75"),
		EstimatedAPY:             dec("0.0525"),
		Status:                   models.StatusSubmitted,
		Version:                  1,
		SubmittedAt:              testEpoch,
		UpdatedAt:                testEpoch,
	}
}

func TestApplication_CreateAndGet(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	app := testApplication("app-1")
	if err := service.CreateApplication(ctx, app); err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	got, err := service.GetApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if got.Status != models.StatusSubmitted {
		t.Errorf("Expected submitted, got %s", got.Status)
	}
	if !got.MaxLoanAmount().Equal(dec("1275")) {
		t.Errorf("Expected max loan 1275, got %s", got.MaxLoanAmount().String())
	}
	if got.BankReserveId != nil || got.MintTxRef != nil || got.MintBlockNumber != nil || got.CompletedAt != nil {
		t.Errorf("Expected optional fields to be unset, got %+v", got)
	}

	if err := service.CreateApplication(ctx, app); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate error, got: %v", err)
	}

	_, err = service.GetApplication(ctx, "missing")
	if !errors.Is(err, store.ErrApplicationNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestApplication_UpdateRequiresExpectedVersion(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	app := testApplication("app-1")
	if err := service.CreateApplication(ctx, app); err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	next := app.Clone()
	next.Status = models.StatusBankConfirmed
	next.BankReserveId = models.StringPtr("bank-1")
	next.Version = 2
	if err := service.UpdateApplication(ctx, next, 1); err != nil {
		t.Fatalf("UpdateApplication failed: %v", err)
	}

	// a writer that read version 1 loses
	stale := app.Clone()
	stale.Status = models.StatusRejected
	stale.Version = 2
	err := service.UpdateApplication(ctx, stale, 1)
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected concurrent modification, got: %v", err)
	}

	got, err := service.GetApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if got.Status != models.StatusBankConfirmed || got.Version != 2 {
		t.Errorf("Expected bank_confirmed at version 2, got %s at %d", got.Status, got.Version)
	}
	if models.StringValue(got.BankReserveId) != "bank-1" {
		t.Errorf("Expected reservation bank-1, got %q", models.StringValue(got.BankReserveId))
	}

	missing := testApplication("nope")
	if err := service.UpdateApplication(ctx, missing, 1); !errors.Is(err, store.ErrApplicationNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestApplication_MintFieldsAndLookup(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	app := testApplication("app-1")
	if err := service.CreateApplication(ctx, app); err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	block := uint64(42)
	completed := testEpoch.Add(90)
	done := app.Clone()
	done.Status = models.StatusCompleted
	done.TokenSymbol = models.StringPtr("rRGLD")
	done.MintTxRef = models.StringPtr("0xabc")
	done.MintBlockNumber = &block
	done.CompletedAt = &completed
	done.CollateralCredited = true
	done.Version = 2
	if err := service.UpdateApplication(ctx, done, 1); err != nil {
		t.Fatalf("UpdateApplication failed: %v", err)
	}

	got, err := service.GetApplicationByMintRef(ctx, "0xabc")
	if err != nil {
		t.Fatalf("GetApplicationByMintRef failed: %v", err)
	}
	if got.Id != "app-1" {
		t.Errorf("Expected app-1, got %s", got.Id)
	}
	if got.MintBlockNumber == nil || *got.MintBlockNumber != 42 {
		t.Errorf("Expected block 42, got %v", got.MintBlockNumber)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("Expected completed at %v, got %v", completed, got.CompletedAt)
	}
	if !got.CollateralCredited {
		t.Errorf("Expected collateral credited")
	}

	if _, err := service.GetApplicationByMintRef(ctx, "0xother"); !errors.Is(err, store.ErrApplicationNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestApplication_ListByStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	statuses := map[string]models.ApplicationStatus{
		"a": models.StatusSubmitted,
		"b": models.StatusMinting,
		"c": models.StatusCompleted,
		"d": models.StatusRejected,
	}
	for id, status := range statuses {
		app := testApplication(id)
		app.Status = status
		if err := service.CreateApplication(ctx, app); err != nil {
			t.Fatalf("CreateApplication %s failed: %v", id, err)
		}
	}

	apps, err := service.ListApplicationsByStatus(ctx, models.StatusSubmitted, models.StatusMinting)
	if err != nil {
		t.Fatalf("ListApplicationsByStatus failed: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("Expected 2 in-flight applications, got %d", len(apps))
	}
	for _, app := range apps {
		if app.Status != models.StatusSubmitted && app.Status != models.StatusMinting {
			t.Errorf("Unexpected status %s", app.Status)
		}
	}

	none, err := service.ListApplicationsByStatus(ctx)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no applications for no statuses, got %d (%v)", len(none), err)
	}
}
