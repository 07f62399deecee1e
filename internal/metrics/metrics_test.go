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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"PositionOperations", PositionOperations},
		{"Liquidations", Liquidations},
		{"AccrualInterestFactor", AccrualInterestFactor},
		{"OracleQuoteErrors", OracleQuoteErrors},
		{"SettlementTransitions", SettlementTransitions},
		{"ExternalCallErrors", ExternalCallErrors},
		{"ExternalCallLatency", ExternalCallLatency},
		{"ReconcilerTicks", ReconcilerTicks},
		{"ReconcilerErrors", ReconcilerErrors},
	}

	for _, v := range vars {
		assert.NotNil(t, v.val, v.name)
	}
}

func TestMetrics_LabelCardinality(t *testing.T) {
	assert.NotPanics(t, func() {
		PositionOperations.WithLabelValues("borrow", "ok").Inc()
		SettlementTransitions.WithLabelValues("submitted", "bank_confirmed").Inc()
		ExternalCallLatency.WithLabelValues("prime", "reserve").Observe(0.2)
	})
}
