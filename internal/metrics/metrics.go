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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lending engine
	PositionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Position operations by operation and result kind",
	}, []string{"operation", "result"})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "engine",
		Name:      "liquidations_total",
		Help:      "Completed liquidations by debt and collateral market",
	}, []string{"debt_symbol", "collateral_symbol"})

	AccrualInterestFactor = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rwa_lending",
		Subsystem: "engine",
		Name:      "accrual_interest_factor",
		Help:      "Interest factor applied per accrual",
		Buckets:   []float64{1e-9, 1e-8, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2},
	}, []string{"symbol"})

	// Oracle
	OracleQuoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "oracle",
		Name:      "quote_errors_total",
		Help:      "Rejected or failed price quotes by reason",
	}, []string{"symbol", "reason"})

	// Settlement
	SettlementTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "settlement",
		Name:      "transitions_total",
		Help:      "Loan application state transitions",
	}, []string{"from", "to"})

	ExternalCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "settlement",
		Name:      "external_call_errors_total",
		Help:      "Failed custody and mint adapter calls",
	}, []string{"adapter", "call"})

	ExternalCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rwa_lending",
		Subsystem: "settlement",
		Name:      "external_call_duration_seconds",
		Help:      "Custody and mint adapter call duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"adapter", "call"})

	// Reconciler
	ReconcilerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "reconciler",
		Name:      "ticks_total",
		Help:      "Reconciler polling ticks",
	})

	ReconcilerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwa_lending",
		Subsystem: "reconciler",
		Name:      "errors_total",
		Help:      "Reconciler errors by application status and error class",
	}, []string{"status", "class"})
)
