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

package oracle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"rwa-lending-go/internal/circuitbreaker"
	"rwa-lending-go/internal/models"
)

// Guarded throttles calls to an upstream adapter and stops calling it while
// it keeps failing.
type Guarded struct {
	next    Adapter
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps next with a token bucket of rps and burst
func NewGuarded(next Adapter, rps float64, burst int, breaker *circuitbreaker.Breaker) *Guarded {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.Config{Name: "oracle"})
	}
	return &Guarded{next: next, limiter: rate.NewLimiter(limit, burst), breaker: breaker}
}

func (g *Guarded) GetPrice(ctx context.Context, symbol string) (models.Quote, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return models.Quote{}, fmt.Errorf("oracle rate limit: %w", err)
	}
	var q models.Quote
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		q, err = g.next.GetPrice(ctx, symbol)
		return err
	})
	return q, err
}
