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

package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/retry"
)

type listedApplications struct {
	mu   sync.Mutex
	apps []*models.LoanApplication
	err  error
}

func (l *listedApplications) CreateApplication(context.Context, *models.LoanApplication) error {
	return errors.New("not supported")
}

func (l *listedApplications) GetApplication(context.Context, string) (*models.LoanApplication, error) {
	return nil, errors.New("not supported")
}

func (l *listedApplications) GetApplicationByMintRef(context.Context, string) (*models.LoanApplication, error) {
	return nil, errors.New("not supported")
}

func (l *listedApplications) UpdateApplication(context.Context, *models.LoanApplication, int64) error {
	return errors.New("not supported")
}

func (l *listedApplications) ListApplicationsByStatus(_ context.Context, statuses ...models.ApplicationStatus) ([]*models.LoanApplication, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	want := make(map[models.ApplicationStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*models.LoanApplication
	for _, app := range l.apps {
		if want[app.Status] {
			out = append(out, app.Clone())
		}
	}
	return out, nil
}

type fakeSettlement struct {
	mu    sync.Mutex
	calls map[string][]string
	errs  map[string]error
	fails map[string]int
}

func newFakeSettlement() *fakeSettlement {
	return &fakeSettlement{
		calls: make(map[string][]string),
		errs:  make(map[string]error),
		fails: make(map[string]int),
	}
}

func (f *fakeSettlement) record(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op] = append(f.calls[op], id)
	if n := f.fails[id]; n > 0 {
		f.fails[id] = n - 1
		return lending.E(lending.KindExternalService, op, errors.New("custodian unavailable"))
	}
	return f.errs[id]
}

func (f *fakeSettlement) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[op])
}

func (f *fakeSettlement) CheckReservation(_ context.Context, app *models.LoanApplication) (bool, error) {
	if err := f.record("check_reservation", app.Id); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeSettlement) InitiateMint(_ context.Context, id string) (*models.LoanApplication, error) {
	if err := f.record("initiate_mint", id); err != nil {
		return nil, err
	}
	return &models.LoanApplication{Id: id, Status: models.StatusMinting}, nil
}

func (f *fakeSettlement) CheckMint(_ context.Context, app *models.LoanApplication) (bool, error) {
	if err := f.record("check_mint", app.Id); err != nil {
		return false, err
	}
	return false, nil
}

func (f *fakeSettlement) EnsureCollateralCredited(_ context.Context, id string) (*models.LoanApplication, error) {
	if err := f.record("credit_collateral", id); err != nil {
		return nil, err
	}
	return &models.LoanApplication{Id: id, Status: models.StatusCompleted, CollateralCredited: true}, nil
}

func newTestReconciler(apps *listedApplications, s *fakeSettlement) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Settlement:      s,
		Store:           apps,
		Retry:           retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		PollingInterval: 10 * time.Millisecond,
		CleanupInterval: time.Hour,
		ParkDuration:    time.Minute,
	})
}

func application(id string, status models.ApplicationStatus) *models.LoanApplication {
	return &models.LoanApplication{Id: id, Owner: "alice", AssetSymbol: "RGLD", Status: status, Version: 1}
}

func TestReconcileOnceDispatchesByStatus(t *testing.T) {
	credited := application("done", models.StatusCompleted)
	credited.CollateralCredited = true
	apps := &listedApplications{apps: []*models.LoanApplication{
		application("sub", models.StatusSubmitted),
		application("conf", models.StatusBankConfirmed),
		application("mint", models.StatusMinting),
		application("uncredited", models.StatusCompleted),
		credited,
		application("rej", models.StatusRejected),
	}}
	s := newFakeSettlement()
	r := newTestReconciler(apps, s)

	summary := r.ReconcileOnce(context.Background())

	assert.Equal(t, 4, summary.Checked)
	assert.Equal(t, 3, summary.Advanced)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []string{"sub"}, s.calls["check_reservation"])
	assert.Equal(t, []string{"conf"}, s.calls["initiate_mint"])
	assert.Equal(t, []string{"mint"}, s.calls["check_mint"])
	assert.Equal(t, []string{"uncredited"}, s.calls["credit_collateral"])
}

func TestReconcileOnceRetriesTransientErrors(t *testing.T) {
	apps := &listedApplications{apps: []*models.LoanApplication{application("sub", models.StatusSubmitted)}}
	s := newFakeSettlement()
	s.fails["sub"] = 2
	r := newTestReconciler(apps, s)

	summary := r.ReconcileOnce(context.Background())

	assert.Equal(t, 1, summary.Advanced)
	assert.Equal(t, 3, s.count("check_reservation"))
	assert.Equal(t, 0, r.ParkedCount())
}

func TestReconcileOnceLeavesExhaustedTransientErrorsUnparked(t *testing.T) {
	apps := &listedApplications{apps: []*models.LoanApplication{application("sub", models.StatusSubmitted)}}
	s := newFakeSettlement()
	s.fails["sub"] = 10
	r := newTestReconciler(apps, s)

	summary := r.ReconcileOnce(context.Background())

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, s.count("check_reservation"))
	assert.Equal(t, 0, r.ParkedCount())
}

func TestTerminalErrorParksApplication(t *testing.T) {
	apps := &listedApplications{apps: []*models.LoanApplication{application("conf", models.StatusBankConfirmed)}}
	s := newFakeSettlement()
	s.errs["conf"] = lending.E(lending.KindCompliance, "initiate mint", lending.ErrComplianceRejected)
	r := newTestReconciler(apps, s)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	first := r.ReconcileOnce(context.Background())
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 1, s.count("initiate_mint"), "terminal errors are not retried")
	assert.Equal(t, 1, r.ParkedCount())

	second := r.ReconcileOnce(context.Background())
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, s.count("initiate_mint"))

	now = now.Add(2 * time.Minute)
	r.releaseParked()
	assert.Equal(t, 0, r.ParkedCount())

	delete(s.errs, "conf")
	third := r.ReconcileOnce(context.Background())
	assert.Equal(t, 1, third.Advanced)
	assert.Equal(t, 2, s.count("initiate_mint"))
}

func TestReconcileOnceListFailure(t *testing.T) {
	apps := &listedApplications{err: errors.New("database is locked")}
	r := newTestReconciler(apps, newFakeSettlement())

	summary := r.ReconcileOnce(context.Background())
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Checked)
}

func TestStartStop(t *testing.T) {
	apps := &listedApplications{apps: []*models.LoanApplication{application("mint", models.StatusMinting)}}
	s := newFakeSettlement()
	r := newTestReconciler(apps, s)

	require.NoError(t, r.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.count("check_mint") >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	calls := s.count("check_mint")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, s.count("check_mint"), "no polling after Stop")
}
