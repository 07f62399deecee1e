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
	"sync"
	"time"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/retry"
	"rwa-lending-go/internal/store"

	"go.uber.org/zap"
)

// Settlement is the part of the settlement pipeline the reconciler drives
type Settlement interface {
	CheckReservation(ctx context.Context, app *models.LoanApplication) (bool, error)
	InitiateMint(ctx context.Context, id string) (*models.LoanApplication, error)
	CheckMint(ctx context.Context, app *models.LoanApplication) (bool, error)
	EnsureCollateralCredited(ctx context.Context, id string) (*models.LoanApplication, error)
}

// ReconcilerConfig contains configuration for Reconciler
type ReconcilerConfig struct {
	Settlement      Settlement
	Store           store.ApplicationStore
	Retry           retry.Policy
	PollingInterval time.Duration
	CleanupInterval time.Duration
	ParkDuration    time.Duration
	Concurrency     int
}

// Reconciler polls in-flight loan applications and pushes each one to its
// next state. Applications that fail with a terminal error are parked so the
// same failure is not retried every tick.
type Reconciler struct {
	settlement Settlement
	store      store.ApplicationStore
	retry      retry.Policy

	// Parked applications and when they were parked
	parked          map[string]time.Time
	mutex           sync.RWMutex
	parkDuration    time.Duration
	pollingInterval time.Duration
	cleanupInterval time.Duration
	concurrency     int

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewReconciler creates a new settlement reconciler
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.ParkDuration <= 0 {
		cfg.ParkDuration = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Reconciler{
		settlement:      cfg.Settlement,
		store:           cfg.Store,
		retry:           cfg.Retry,
		parked:          make(map[string]time.Time),
		parkDuration:    cfg.ParkDuration,
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		concurrency:     cfg.Concurrency,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
		now:             time.Now,
	}
}

// Start runs a first reconciliation pass and then keeps polling in the background
func (r *Reconciler) Start(ctx context.Context) error {
	zap.L().Info("Starting settlement reconciler")

	inFlight, err := r.store.ListApplicationsByStatus(ctx, reconciledStatuses...)
	if err != nil {
		return err
	}
	zap.L().Info("In-flight applications at startup", zap.Int("count", len(inFlight)))

	go r.pollLoop(ctx)
	go r.cleanupLoop(ctx)

	zap.L().Info("Settlement reconciler started",
		zap.Duration("polling_interval", r.pollingInterval),
		zap.Duration("park_duration", r.parkDuration))
	return nil
}

// Stop gracefully stops the reconciler and waits for the current pass
func (r *Reconciler) Stop() {
	zap.L().Info("Stopping settlement reconciler")
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.doneChan
	zap.L().Info("Settlement reconciler stopped")
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()

	r.ReconcileOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupLoop periodically releases parked applications
func (r *Reconciler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.releaseParked()
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) isParked(id string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.parked[id]
	return exists
}

func (r *Reconciler) park(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.parked[id] = r.now()
}

// releaseParked removes entries parked longer than the park duration
func (r *Reconciler) releaseParked() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cutoff := r.now().Add(-r.parkDuration)
	released := 0

	for id, parkedAt := range r.parked {
		if parkedAt.Before(cutoff) {
			delete(r.parked, id)
			released++
		}
	}

	if released > 0 {
		zap.L().Debug("Released parked applications",
			zap.Int("released", released),
			zap.Int("remaining", len(r.parked)))
	}
}
