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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	var r durationReader
	connMaxLifetime := r.get("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connMaxIdleTime := r.get("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	pingTimeout := r.get("DB_PING_TIMEOUT", 5*time.Second)
	operationTimeout := r.get("LENDING_OPERATION_TIMEOUT", 30*time.Second)
	oracleMaxAge := r.get("ORACLE_MAX_AGE", 5*time.Minute)
	oracleTimeout := r.get("ORACLE_TIMEOUT", 5*time.Second)
	callTimeout := r.get("SETTLEMENT_CALL_TIMEOUT", 30*time.Second)
	pollingInterval := r.get("SETTLEMENT_POLL_INTERVAL", 30*time.Second)
	cleanupInterval := r.get("SETTLEMENT_CLEANUP_INTERVAL", 15*time.Minute)
	retryBaseDelay := r.get("SETTLEMENT_RETRY_BASE_DELAY", 500*time.Millisecond)
	lookbackWindow := r.get("PRIME_LOOKBACK_WINDOW", 6*time.Hour)
	if r.err != nil {
		return nil, r.err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:             getEnvString("DATABASE_PATH", "lending.db"),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  connMaxLifetime,
			ConnMaxIdleTime:  connMaxIdleTime,
			PingTimeout:      pingTimeout,
			CreateDummyUsers: getEnvBool("CREATE_DUMMY_USERS", false),
		},
		Lending: models.LendingConfig{
			MarketsFile:      getEnvString("MARKETS_FILE", "markets.yaml"),
			BorrowAsset:      strings.ToUpper(getEnvString("BORROW_ASSET", "USDC")),
			BaseAPR:          getEnvString("RATE_BASE_APR", "0.02"),
			SlopeLowAPR:      getEnvString("RATE_SLOPE_LOW_APR", "0.1"),
			SlopeHighAPR:     getEnvString("RATE_SLOPE_HIGH_APR", "3.0"),
			Kink:             getEnvString("RATE_KINK", "0.8"),
			ReserveFactor:    getEnvString("RESERVE_FACTOR", "0.1"),
			CloseFactor:      getEnvString("CLOSE_FACTOR", "0.5"),
			OperationTimeout: operationTimeout,
		},
		Oracle: models.OracleConfig{
			MaxAge:        oracleMaxAge,
			Timeout:       oracleTimeout,
			RateLimitRPS:  getEnvFloat("ORACLE_RATE_LIMIT_RPS", 10),
			RateBurst:     getEnvInt("ORACLE_RATE_BURST", 20),
			MinConfidence: getEnvString("ORACLE_MIN_CONFIDENCE", "0"),
		},
		Settlement: models.SettlementConfig{
			CallTimeout:       callTimeout,
			PollingInterval:   pollingInterval,
			CleanupInterval:   cleanupInterval,
			RetryMaxAttempts:  getEnvInt("SETTLEMENT_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:    retryBaseDelay,
			TokenSymbolPrefix: getEnvString("TOKEN_SYMBOL_PREFIX", "r"),
		},
		Prime: models.PrimeConfig{
			EscrowAddress:  os.Getenv("PRIME_ESCROW_ADDRESS"),
			LookbackWindow: lookbackWindow,
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "rwa-lending"),
		},
	}

	if err := validateLending(cfg.Lending); err != nil {
		return nil, err
	}
	if _, err := parseDecimal("ORACLE_MIN_CONFIDENCE", cfg.Oracle.MinConfidence); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InterestRateModel builds the rate model described by cfg
func InterestRateModel(cfg models.LendingConfig) (lending.InterestRateModel, error) {
	base, err := parseDecimal("RATE_BASE_APR", cfg.BaseAPR)
	if err != nil {
		return lending.InterestRateModel{}, err
	}
	slopeLow, err := parseDecimal("RATE_SLOPE_LOW_APR", cfg.SlopeLowAPR)
	if err != nil {
		return lending.InterestRateModel{}, err
	}
	slopeHigh, err := parseDecimal("RATE_SLOPE_HIGH_APR", cfg.SlopeHighAPR)
	if err != nil {
		return lending.InterestRateModel{}, err
	}
	kink, err := parseDecimal("RATE_KINK", cfg.Kink)
	if err != nil {
		return lending.InterestRateModel{}, err
	}
	return lending.NewInterestRateModelFromAPR(base, slopeLow, slopeHigh, kink)
}

func validateLending(cfg models.LendingConfig) error {
	if _, err := InterestRateModel(cfg); err != nil {
		return fmt.Errorf("invalid interest rate model: %w", err)
	}
	reserveFactor, err := parseDecimal("RESERVE_FACTOR", cfg.ReserveFactor)
	if err != nil {
		return err
	}
	if reserveFactor.IsNegative() || reserveFactor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid RESERVE_FACTOR: %s outside [0,1)", cfg.ReserveFactor)
	}
	closeFactor, err := parseDecimal("CLOSE_FACTOR", cfg.CloseFactor)
	if err != nil {
		return err
	}
	if !closeFactor.IsPositive() || closeFactor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid CLOSE_FACTOR: %s outside (0,1]", cfg.CloseFactor)
	}
	return nil
}

func parseDecimal(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
	}
	return d, nil
}

// durationReader keeps the first parse error so a batch of durations can be
// read before checking.
type durationReader struct {
	err error
}

func (r *durationReader) get(key string, defaultValue time.Duration) time.Duration {
	if r.err != nil {
		return 0
	}
	d, err := getEnvDuration(key, defaultValue)
	if err != nil {
		r.err = err
	}
	return d
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
