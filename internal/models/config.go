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

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Lending    LendingConfig
	Oracle     OracleConfig
	Settlement SettlementConfig
	Prime      PrimeConfig
	Formance   FormanceConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path             string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	PingTimeout      time.Duration
	CreateDummyUsers bool
}

// LendingConfig holds the money-market parameters shared by every market.
// Rates are annualized here and converted to per-second rates by the engine.
type LendingConfig struct {
	MarketsFile      string
	BorrowAsset      string
	BaseAPR          string
	SlopeLowAPR      string
	SlopeHighAPR     string
	Kink             string
	ReserveFactor    string
	CloseFactor      string
	OperationTimeout time.Duration
}

// OracleConfig holds price feed tolerances
type OracleConfig struct {
	MaxAge        time.Duration
	Timeout       time.Duration
	RateLimitRPS  float64
	RateBurst     int
	MinConfidence string
}

// SettlementConfig holds settlement pipeline and reconciler settings
type SettlementConfig struct {
	CallTimeout       time.Duration
	PollingInterval   time.Duration
	CleanupInterval   time.Duration
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	TokenSymbolPrefix string
}

// PrimeConfig holds custody settings for the Coinbase Prime adapter
type PrimeConfig struct {
	EscrowAddress  string
	LookbackWindow time.Duration
}

// FormanceConfig holds token ledger settings for the Formance mint adapter
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}
