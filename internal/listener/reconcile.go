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
	"fmt"
	"sync/atomic"

	"rwa-lending-go/internal/metrics"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/retry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var reconciledStatuses = []models.ApplicationStatus{
	models.StatusSubmitted,
	models.StatusBankConfirmed,
	models.StatusMinting,
	models.StatusCompleted,
}

// PassSummary counts what one reconciliation pass did
type PassSummary struct {
	Checked  int
	Advanced int
	Skipped  int
	Failed   int
}

// ReconcileOnce runs a single pass over all in-flight applications
func (r *Reconciler) ReconcileOnce(ctx context.Context) PassSummary {
	metrics.ReconcilerTicks.Inc()

	apps, err := r.store.ListApplicationsByStatus(ctx, reconciledStatuses...)
	if err != nil {
		metrics.ReconcilerErrors.WithLabelValues("", string(retry.Classify(err).Class)).Inc()
		zap.L().Error("Failed to list in-flight applications", zap.Error(err))
		return PassSummary{Failed: 1}
	}

	pending := apps[:0:0]
	for _, app := range apps {
		if app.Status == models.StatusCompleted && app.CollateralCredited {
			continue
		}
		pending = append(pending, app)
	}
	if len(pending) == 0 {
		return PassSummary{}
	}

	fmt.Printf("\n%s[%s] Reconciling %d applications%s\n",
		colorCyan, r.now().Format("15:04:05"), len(pending), colorReset)

	var checked, advanced, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, app := range pending {
		app := app
		if r.isParked(app.Id) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			checked.Add(1)
			moved, err := r.reconcileApplication(gctx, app)
			switch {
			case err != nil:
				failed.Add(1)
			case moved:
				advanced.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return PassSummary{
		Checked:  int(checked.Load()),
		Advanced: int(advanced.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
}

// reconcileApplication performs the next step for one application. It
// reports whether the application moved.
func (r *Reconciler) reconcileApplication(ctx context.Context, app *models.LoanApplication) (bool, error) {
	var moved bool
	op := "reconcile " + string(app.Status)
	err := retry.Do(ctx, r.retry, op, func(ctx context.Context) error {
		var err error
		moved, err = r.step(ctx, app)
		return err
	})

	idShort := app.Id
	if len(idShort) > 8 {
		idShort = idShort[:8]
	}

	if err != nil {
		decision := retry.Classify(err)
		metrics.ReconcilerErrors.WithLabelValues(string(app.Status), string(decision.Class)).Inc()
		if !decision.IsTransient() {
			r.park(app.Id)
		}
		fmt.Printf("  %s✗ %s %s %s | %s%s\n", colorRed, idShort, app.AssetSymbol, app.Status, err, colorReset)
		zap.L().Warn("Failed to reconcile application",
			zap.String("application_id", app.Id),
			zap.String("status", string(app.Status)),
			zap.String("class", string(decision.Class)),
			zap.String("reason", decision.Reason),
			zap.Error(err))
		return false, err
	}

	if moved {
		fmt.Printf("  %s✓ %s %s %s advanced%s\n", colorGreen, idShort, app.AssetSymbol, app.Status, colorReset)
	} else {
		fmt.Printf("  %s~ %s %s %s waiting%s\n", colorYellow, idShort, app.AssetSymbol, app.Status, colorReset)
	}
	return moved, nil
}

func (r *Reconciler) step(ctx context.Context, app *models.LoanApplication) (bool, error) {
	switch app.Status {
	case models.StatusSubmitted:
		return r.settlement.CheckReservation(ctx, app)
	case models.StatusBankConfirmed:
		updated, err := r.settlement.InitiateMint(ctx, app.Id)
		if err != nil {
			return false, err
		}
		return updated.Status != app.Status, nil
	case models.StatusMinting:
		return r.settlement.CheckMint(ctx, app)
	case models.StatusCompleted:
		updated, err := r.settlement.EnsureCollateralCredited(ctx, app.Id)
		if err != nil {
			return false, err
		}
		return updated.CollateralCredited, nil
	default:
		return false, nil
	}
}

// ParkedCount reports how many applications are waiting out a terminal failure
func (r *Reconciler) ParkedCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.parked)
}

