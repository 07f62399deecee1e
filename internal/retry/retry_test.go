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

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rwa-lending-go/internal/circuitbreaker"
	"rwa-lending-go/internal/lending"
)

func TestClassify_Taxonomy(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{"external service transient", lending.E(lending.KindExternalService, "mint", errors.New("boom")), ClassTransient},
		{"stale quote transient", fmt.Errorf("snapshot: %w", lending.ErrStaleQuote), ClassTransient},
		{"deadline transient", context.DeadlineExceeded, ClassTransient},
		{"open breaker transient", circuitbreaker.ErrCircuitOpen, ClassTransient},
		{"validation terminal", lending.E(lending.KindValidation, "borrow", lending.ErrInvalidAmount), ClassTerminal},
		{"compliance terminal", lending.ErrComplianceRejected, ClassTerminal},
		{"transition terminal", lending.ErrInvalidTransition, ClassTerminal},
		{"inconsistency terminal", lending.ErrMintHashMismatch, ClassTerminal},
		{"canceled terminal", context.Canceled, ClassTerminal},
		{"timeout message transient", errors.New("dial tcp: i/o timeout"), ClassTransient},
		{"unknown defaults terminal", errors.New("unexpected failure"), ClassTerminal},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedClass, Classify(tc.err).Class)
		})
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnTerminal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		calls++
		return lending.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, lending.ErrInvalidTransition)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
}

func TestDo_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, "test", func(context.Context) error {
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.Canceled)
}
