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

package models

import (
	"github.com/shopspring/decimal"
)

// Operation result statuses
const (
	ResultOk           = "ok"
	ResultRejected     = "rejected"
	ResultPendingRetry = "pending_retry"
)

// OperationResult represents the outcome of a position operation
type OperationResult struct {
	Success      bool            `json:"success"`
	Status       string          `json:"status"`
	Owner        string          `json:"owner,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	Amount       decimal.Decimal `json:"amount,omitempty"`
	HealthFactor string          `json:"health_factor,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// ApplicationResult represents the outcome of a settlement request
type ApplicationResult struct {
	Success       bool              `json:"success"`
	Status        string            `json:"status"`
	ApplicationId string            `json:"application_id,omitempty"`
	State         ApplicationStatus `json:"state,omitempty"`
	MaxLoanAmount decimal.Decimal   `json:"max_loan_amount,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// LiquidationResult represents the outcome of a liquidation
type LiquidationResult struct {
	Success      bool            `json:"success"`
	Status       string          `json:"status"`
	Borrower     string          `json:"borrower,omitempty"`
	RepaidAmount decimal.Decimal `json:"repaid_amount,omitempty"`
	SeizedAmount decimal.Decimal `json:"seized_amount,omitempty"`
	HealthBefore string          `json:"health_before,omitempty"`
	HealthAfter  string          `json:"health_after,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Error        string          `json:"error,omitempty"`
}
