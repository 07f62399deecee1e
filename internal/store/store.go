package store

import (
	"context"
	"errors"

	"rwa-lending-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("user not found")
	ErrApplicationNotFound    = errors.New("loan application not found")
	ErrAddressNotFound        = errors.New("custody address not found")
)

// StoreAddressParams contains the parameters for registering a custody wallet address.
type StoreAddressParams struct {
	UserId            string
	Asset             string
	Network           string
	Address           string
	WalletId          string
	AccountIdentifier string
}

// PositionStore persists the lending engine's markets, accounts and journal.
type PositionStore interface {
	CommitPositions(ctx context.Context, batch models.PositionBatch) error
	HasPositionEvent(ctx context.Context, reference string) (bool, error)
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetPositionHistory(ctx context.Context, owner, symbol string, limit, offset int) ([]models.PositionEvent, error)
}

// ApplicationStore persists loan applications. UpdateApplication succeeds only
// when the stored version equals expectedVersion.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *models.LoanApplication) error
	GetApplication(ctx context.Context, id string) (*models.LoanApplication, error)
	GetApplicationByMintRef(ctx context.Context, mintTxRef string) (*models.LoanApplication, error)
	UpdateApplication(ctx context.Context, app *models.LoanApplication, expectedVersion int64) error
	ListApplicationsByStatus(ctx context.Context, statuses ...models.ApplicationStatus) ([]*models.LoanApplication, error)
}

// LedgerStore defines the contract that every backend must satisfy.
type LedgerStore interface {
	PositionStore
	ApplicationStore

	// --- Users ---
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, userId, name, email string) (*models.User, error)
	SetUserVerified(ctx context.Context, userId string, verified bool) error
	IsVerified(ctx context.Context, userId string) (bool, error)

	// --- Addresses ---
	StoreAddress(ctx context.Context, params StoreAddressParams) (*models.Address, error)
	GetAddresses(ctx context.Context, userId, asset, network string) ([]models.Address, error)
	GetAllUserAddresses(ctx context.Context, userId string) ([]models.Address, error)

	// --- Lifecycle ---
	Close()
}
