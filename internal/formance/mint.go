package formance

import (
	"context"
	"fmt"
	"math/big"

	"rwa-lending-go/internal/settlement"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy settlement.TokenMintAdapter.
var _ settlement.TokenMintAdapter = (*Service)(nil)

// Tokens are issued from @world straight to the holder's account. The script
// carries its own metadata so the ledger transaction is self-describing.
const numscriptMint = `vars {
  asset $asset
  number $amount
  account $owner
  string $mint_ref
  string $application_id
  string $token_symbol
  string $amount_human
}

send [$asset $amount] (
  source = @world
  destination = @tokens:holders:$owner
)

set_tx_meta("event_type", "token_mint")
set_tx_meta("mint_ref", $mint_ref)
set_tx_meta("application_id", $application_id)
set_tx_meta("token_symbol", $token_symbol)
set_tx_meta("amount_human", $amount_human)
`

// mintReference is the ledger reference of a mint. It doubles as the
// transaction hash handed back to the pipeline.
func mintReference(idempotencyKey string) string {
	return idempotencyKey + "-mint"
}

func holderAccount(owner string) string {
	return "tokens:holders:" + owner
}

// Mint posts the issuance transaction. Reposting with the same idempotency key
// hits the reference conflict and returns the same hash.
func (s *Service) Mint(ctx context.Context, req settlement.MintRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", fmt.Errorf("idempotency key is required")
	}
	smallAmt, err := smallestUnit(req.Amount, req.TokenSymbol)
	if err != nil {
		return "", err
	}
	ref := mintReference(req.IdempotencyKey)

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(ref),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptMint,
				Vars: map[string]string{
					"asset":          formanceAsset(req.TokenSymbol),
					"amount":         smallAmt,
					"owner":          req.Owner,
					"mint_ref":       ref,
					"application_id": req.ApplicationId,
					"token_symbol":   req.TokenSymbol,
					"amount_human":   req.Amount.String(),
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Info("Mint already posted",
				zap.String("application_id", req.ApplicationId),
				zap.String("mint_ref", ref))
			return ref, nil
		}
		return "", fmt.Errorf("error posting mint: %w", err)
	}

	zap.L().Info("Mint posted in Formance",
		zap.String("application_id", req.ApplicationId),
		zap.String("owner", req.Owner),
		zap.String("token", req.TokenSymbol),
		zap.String("amount", req.Amount.String()),
		zap.String("mint_ref", ref))
	return ref, nil
}

// MintStatus looks the mint up by its reference metadata. A mint the ledger
// has not recorded yet is pending; a reverted one has failed.
func (s *Service) MintStatus(ctx context.Context, txHash string) (settlement.MintStatus, error) {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{
				"metadata[mint_ref]": txHash,
			},
		},
	})
	if err != nil {
		return settlement.MintStatus{}, fmt.Errorf("failed to look up mint %s: %w", txHash, err)
	}
	data := resp.V2TransactionsCursorResponse.Cursor.Data
	if len(data) == 0 {
		return settlement.MintStatus{State: settlement.MintPending, TxHash: txHash}, nil
	}
	return mintStatusOf(txHash, data[0]), nil
}

func mintStatusOf(txHash string, tx shared.V2Transaction) settlement.MintStatus {
	status := settlement.MintStatus{State: settlement.MintConfirmed, TxHash: txHash}
	if tx.ID != nil && tx.ID.IsUint64() {
		status.BlockNumber = tx.ID.Uint64()
	}
	if tx.Reverted {
		status.State = settlement.MintFailed
		status.Reason = "mint transaction reverted"
	}
	return status
}

// TokenBalance returns the number of tokens an owner holds.
func (s *Service) TokenBalance(ctx context.Context, owner, tokenSymbol string) (decimal.Decimal, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: holderAccount(owner),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get token balance for %s: %w", owner, err)
	}
	fAsset := formanceAsset(tokenSymbol)
	return bigIntToDecimal(volumeBalance(resp.V2AccountResponse.Data.Volumes, fAsset), assetSymbol(fAsset)), nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
