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

	"rwa-lending-go/internal/store"
)

func TestUsers_CreateAndVerify(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user, err := service.CreateUser(ctx, "user1", "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.KycVerified {
		t.Errorf("Expected new user to be unverified")
	}

	if _, err := service.CreateUser(ctx, "user2", "Other", "test@example.com"); err == nil {
		t.Errorf("Expected duplicate email to fail")
	}

	verified, err := service.IsVerified(ctx, "user1")
	if err != nil {
		t.Fatalf("IsVerified failed: %v", err)
	}
	if verified {
		t.Errorf("Expected user1 to be unverified")
	}

	if err := service.SetUserVerified(ctx, "user1", true); err != nil {
		t.Fatalf("SetUserVerified failed: %v", err)
	}
	verified, err = service.IsVerified(ctx, "user1")
	if err != nil {
		t.Fatalf("IsVerified failed: %v", err)
	}
	if !verified {
		t.Errorf("Expected user1 to be verified")
	}

	got, err := service.GetUserById(ctx, "user1")
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if !got.KycVerified {
		t.Errorf("Expected GetUserById to report verification")
	}
}

func TestUsers_UnknownUser(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	verified, err := service.IsVerified(ctx, "ghost")
	if err != nil {
		t.Fatalf("IsVerified failed: %v", err)
	}
	if verified {
		t.Errorf("Expected unknown user to be unverified")
	}

	if err := service.SetUserVerified(ctx, "ghost", true); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected user not found, got: %v", err)
	}
	if _, err := service.GetUserByEmail(ctx, "ghost@example.com"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("Expected user not found, got: %v", err)
	}
}

func TestAddresses_StoreAndList(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.CreateUser(ctx, "user1", "Test User", "test@example.com"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	params := store.StoreAddressParams{
		UserId:            "user1",
		Asset:             "RGLD",
		Network:           "custody",
		Address:           "vault-7",
		WalletId:          "wallet-1",
		AccountIdentifier: "acct-1",
	}
	addr, err := service.StoreAddress(ctx, params)
	if err != nil {
		t.Fatalf("StoreAddress failed: %v", err)
	}
	if addr.WalletId != "wallet-1" || addr.UserId != "user1" {
		t.Errorf("Unexpected stored address %+v", addr)
	}

	addrs, err := service.GetAddresses(ctx, "user1", "RGLD", "custody")
	if err != nil {
		t.Fatalf("GetAddresses failed: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("Expected 1 address, got %d", len(addrs))
	}

	all, err := service.GetAllUserAddresses(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAllUserAddresses failed: %v", err)
	}
	if len(all) != 1 || all[0].Address != "vault-7" {
		t.Errorf("Expected vault-7, got %+v", all)
	}
}
