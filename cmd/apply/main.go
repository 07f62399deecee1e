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


package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"rwa-lending-go/internal/common"
	"rwa-lending-go/internal/config"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type applyRequest struct {
	action      string
	email       string
	asset       string
	amount      decimal.Decimal
	loan        decimal.Decimal
	id          string
	reservation string
	txHash      string
	block       uint64
	reason      string
}

var actions = []string{"submit", "status", "reserve", "confirm", "mint", "mint-confirmed", "mint-failed", "reject", "reconcile"}

func parseAndValidateFlags() (*applyRequest, error) {
	actionFlag := flag.String("action", "submit", "One of: "+strings.Join(actions, ", "))
	emailFlag := flag.String("email", "", "Applicant email (submit)")
	assetFlag := flag.String("asset", "", "Real-world asset symbol, e.g. RGLD (submit)")
	amountFlag := flag.String("amount", "", "Asset amount to tokenize (submit)")
	loanFlag := flag.String("loan", "", "Requested loan amount (submit)")
	idFlag := flag.String("id", "", "Application id (all actions except submit)")
	reservationFlag := flag.String("reservation", "", "Custody reservation id (confirm)")
	txFlag := flag.String("tx", "", "Mint transaction hash (mint-confirmed, mint-failed, reconcile)")
	blockFlag := flag.Uint64("block", 0, "Mint block number (mint-confirmed)")
	reasonFlag := flag.String("reason", "", "Failure or rejection reason (mint-failed, reject)")
	flag.Parse()

	req := &applyRequest{
		action:      strings.ToLower(*actionFlag),
		email:       *emailFlag,
		asset:       *assetFlag,
		id:          *idFlag,
		reservation: *reservationFlag,
		txHash:      *txFlag,
		block:       *blockFlag,
		reason:      *reasonFlag,
	}

	switch req.action {
	case "submit":
		if req.email == "" || req.asset == "" || *amountFlag == "" || *loanFlag == "" {
			return nil, fmt.Errorf("submit requires --email, --asset, --amount and --loan")
		}
		var err error
		if req.amount, err = decimal.NewFromString(*amountFlag); err != nil {
			return nil, fmt.Errorf("invalid amount format: %w", err)
		}
		if req.loan, err = decimal.NewFromString(*loanFlag); err != nil {
			return nil, fmt.Errorf("invalid loan format: %w", err)
		}
		return req, nil
	case "confirm":
		if req.reservation == "" {
			return nil, fmt.Errorf("confirm requires --reservation")
		}
	case "mint-confirmed", "mint-failed", "reconcile":
		if req.txHash == "" {
			return nil, fmt.Errorf("%s requires --tx", req.action)
		}
	case "status", "reserve", "mint", "reject":
	default:
		return nil, fmt.Errorf("unknown action %q, expected one of: %s", req.action, strings.Join(actions, ", "))
	}

	if req.id == "" {
		return nil, fmt.Errorf("%s requires --id", req.action)
	}
	return req, nil
}

func run(ctx context.Context, services *common.Services, req *applyRequest) (*models.ApplicationResult, error) {
	svc := services.Lending
	switch req.action {
	case "submit":
		user, err := services.DbService.GetUserByEmail(ctx, req.email)
		if err != nil {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return svc.SubmitApplication(ctx, user.Id, req.asset, req.amount, req.loan)
	case "reserve":
		return svc.RequestReservation(ctx, req.id)
	case "confirm":
		return svc.ConfirmReserve(ctx, req.id, req.reservation)
	case "mint":
		return svc.InitiateMint(ctx, req.id)
	case "mint-confirmed":
		return svc.MintConfirmed(ctx, settlement.MintConfirmation{
			ApplicationId: req.id,
			TxHash:        req.txHash,
			BlockNumber:   req.block,
		})
	case "mint-failed":
		return svc.MintFailed(ctx, req.id, req.txHash, req.reason)
	case "reject":
		return svc.Reject(ctx, req.id, req.reason)
	case "reconcile":
		return svc.Reconcile(ctx, req.id, req.txHash)
	}
	return nil, fmt.Errorf("unsupported action %q", req.action)
}

func printApplication(app *models.LoanApplication) {
	common.PrintHeader("LOAN APPLICATION", common.DefaultWidth)
	fmt.Printf("ID:               %s\n", app.Id)
	fmt.Printf("Owner:            %s\n", app.Owner)
	fmt.Printf("Status:           %s\n", app.Status)
	fmt.Printf("Asset:            %s %s\n", common.FormatAmount(app.AssetAmount), app.AssetSymbol)
	fmt.Printf("Asset Value:      %s\n", common.FormatUSD(app.AssetValueUSD))
	fmt.Printf("Requested Loan:   %s\n", common.FormatUSD(app.RequestedLoanAmount))
	fmt.Printf("Max Loan:         %s\n", common.FormatUSD(app.MaxLoanAmount()))
	fmt.Printf("Estimated APY:    %s\n", common.FormatPercent(app.EstimatedAPY))
	if app.BankReserveId != nil {
		fmt.Printf("Reservation:      %s\n", *app.BankReserveId)
	}
	if app.TokenSymbol != nil {
		fmt.Printf("Token:            %s\n", *app.TokenSymbol)
	}
	if app.MintTxRef != nil {
		fmt.Printf("Mint Tx:          %s\n", *app.MintTxRef)
	}
	if app.MintBlockNumber != nil {
		fmt.Printf("Mint Block:       %d\n", *app.MintBlockNumber)
	}
	if app.FailureReason != nil {
		fmt.Printf("Failure Reason:   %s\n", *app.FailureReason)
	}
	fmt.Printf("Credited:         %t\n", app.CollateralCredited)
	fmt.Printf("Submitted:        %s\n", app.SubmittedAt.Format(time.RFC3339))
	fmt.Printf("Updated:          %s\n", app.UpdatedAt.Format(time.RFC3339))
	common.PrintSeparator("=", common.DefaultWidth)
}

func printResult(action string, result *models.ApplicationResult) {
	common.PrintHeader(fmt.Sprintf("APPLICATION %s", strings.ToUpper(action)), common.DefaultWidth)
	fmt.Printf("Status:           %s\n", result.Status)
	if result.ApplicationId != "" {
		fmt.Printf("Application:      %s\n", result.ApplicationId)
	}
	if result.State != "" {
		fmt.Printf("State:            %s\n", result.State)
	}
	if !result.MaxLoanAmount.IsZero() {
		fmt.Printf("Max Loan:         %s\n", common.FormatUSD(result.MaxLoanAmount))
	}
	if !result.Success {
		fmt.Printf("Error Kind:       %s\n", result.ErrorKind)
		fmt.Printf("Error:            %s\n", result.Error)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if req.action == "status" {
		app, err := services.Lending.GetApplication(ctx, req.id)
		if err != nil {
			zap.L().Fatal("Failed to get application", zap.String("id", req.id), zap.Error(err))
		}
		printApplication(app)
		return
	}

	result, err := run(ctx, services, req)
	if err != nil {
		zap.L().Fatal("Application request failed",
			zap.String("action", req.action),
			zap.Error(err))
	}
	printResult(req.action, result)

	zap.L().Info("Application request processed",
		zap.String("action", req.action),
		zap.String("application_id", result.ApplicationId),
		zap.String("status", result.Status),
		zap.String("state", string(result.State)))
}
