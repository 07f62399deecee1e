package common

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"rwa-lending-go/internal/api"
	"rwa-lending-go/internal/circuitbreaker"
	"rwa-lending-go/internal/config"
	"rwa-lending-go/internal/database"
	"rwa-lending-go/internal/formance"
	"rwa-lending-go/internal/lending"
	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/oracle"
	"rwa-lending-go/internal/prime"
	"rwa-lending-go/internal/settlement"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// LendingServices is the engine side: storage, prices and positions.
type LendingServices struct {
	DbService *database.Service
	Engine    *lending.Engine
	Prices    *oracle.StaticAdapter
	Feed      *oracle.Feed
	Markets   []MarketConfig
}

// Services adds the settlement pipeline and its external adapters.
type Services struct {
	*LendingServices
	PrimeService     *prime.Service
	MintService      *formance.Service
	Pipeline         *settlement.Pipeline
	Lending          *api.LendingService
	DefaultPortfolio *models.Portfolio
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeLending opens the database, restores the engine and lists any
// market from the markets file the engine does not know yet. It needs no
// external credentials.
func InitializeLending(ctx context.Context, cfg *models.Config) (*LendingServices, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	ls, err := initializeLending(ctx, cfg, dbService)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	return ls, nil
}

func initializeLending(ctx context.Context, cfg *models.Config, dbService *database.Service) (*LendingServices, error) {
	markets, err := LoadMarketConfig(cfg.Lending.MarketsFile)
	if err != nil {
		return nil, err
	}

	model, err := config.InterestRateModel(cfg.Lending)
	if err != nil {
		return nil, err
	}
	closeFactor, err := decimal.NewFromString(cfg.Lending.CloseFactor)
	if err != nil {
		return nil, fmt.Errorf("invalid close factor: %w", err)
	}
	minConfidence, err := decimal.NewFromString(cfg.Oracle.MinConfidence)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle min confidence: %w", err)
	}

	static := oracle.NewStaticAdapter(MarketPrices(markets))
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "oracle"})
	feed := oracle.NewFeed(oracle.NewGuarded(static, cfg.Oracle.RateLimitRPS, cfg.Oracle.RateBurst, breaker), oracle.Config{
		MaxAge:        cfg.Oracle.MaxAge,
		Timeout:       cfg.Oracle.Timeout,
		MinConfidence: minConfidence,
	})

	engine, err := lending.NewEngine(lending.Config{
		Model:       model,
		CloseFactor: closeFactor,
		BorrowAsset: cfg.Lending.BorrowAsset,
	}, feed, dbService, lending.WithStore(dbService))
	if err != nil {
		return nil, err
	}
	if err := engine.Restore(ctx, dbService); err != nil {
		return nil, err
	}

	for _, m := range markets {
		if _, err := engine.Market(m.Symbol); err == nil {
			continue
		}
		params, err := m.Params()
		if err != nil {
			return nil, err
		}
		if _, err := engine.ListMarket(ctx, params); err != nil {
			return nil, fmt.Errorf("failed to list market %s: %w", m.Symbol, err)
		}
	}

	return &LendingServices{
		DbService: dbService,
		Engine:    engine,
		Prices:    static,
		Feed:      feed,
		Markets:   markets,
	}, nil
}

// InitializeServices wires everything, including Prime custody and the
// Formance token ledger.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	ls, err := InitializeLending(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := initializeSettlement(ctx, cfg, ls)
	if err != nil {
		ls.Close()
		return nil, err
	}
	return svc, nil
}

// InitializePrime connects to Prime and resolves the default portfolio
func InitializePrime(ctx context.Context) (*prime.Service, *models.Portfolio, error) {
	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		return nil, nil, err
	}

	primeService, err := prime.NewService(creds)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("Finding default portfolio")
	defaultPortfolio, err := primeService.FindDefaultPortfolio(ctx)
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("Using default portfolio",
		zap.String("name", defaultPortfolio.Name),
		zap.String("id", defaultPortfolio.Id))
	return primeService, defaultPortfolio, nil
}

func initializeSettlement(ctx context.Context, cfg *models.Config, ls *LendingServices) (*Services, error) {
	primeService, defaultPortfolio, err := InitializePrime(ctx)
	if err != nil {
		return nil, err
	}

	custody, err := prime.NewCustody(primeService, ls.DbService, prime.CustodyConfig{
		PortfolioId:    defaultPortfolio.Id,
		EscrowAddress:  cfg.Prime.EscrowAddress,
		LookbackWindow: cfg.Prime.LookbackWindow,
	})
	if err != nil {
		return nil, err
	}

	mintService, err := formance.NewService(ctx, cfg.Formance)
	if err != nil {
		return nil, err
	}

	pipeline, err := settlement.NewPipeline(settlement.Config{
		CallTimeout:       cfg.Settlement.CallTimeout,
		TokenSymbolPrefix: cfg.Settlement.TokenSymbolPrefix,
	}, settlement.Deps{
		Store:      ls.DbService,
		Custody:    custody,
		Minter:     mintService,
		Collateral: ls.Engine,
		Markets:    ls.Engine,
		Prices:     ls.Feed,
		Compliance: ls.DbService,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		LendingServices:  ls,
		PrimeService:     primeService,
		MintService:      mintService,
		Pipeline:         pipeline,
		Lending:          api.NewLendingService(ls.Engine, pipeline, ls.DbService, cfg.Lending.OperationTimeout),
		DefaultPortfolio: defaultPortfolio,
	}, nil
}

// LendingOnly returns a facade without a settlement pipeline. Application
// calls on it fail; position calls work.
func (ls *LendingServices) LendingOnly(timeout time.Duration) *api.LendingService {
	return api.NewLendingService(ls.Engine, unavailableSettlement{}, ls.DbService, timeout)
}

// InitializeDatabaseOnly initializes just the database service without Prime API
// Useful for read-only operations like querying history
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (ls *LendingServices) Close() {
	if ls.DbService != nil {
		ls.DbService.Close()
	}
}

func (cs *Services) Close() {
	if cs.MintService != nil {
		cs.MintService.Close()
	}
	if cs.LendingServices != nil {
		cs.LendingServices.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}

var errSettlementUnavailable = errors.New("settlement pipeline is not configured")

type unavailableSettlement struct{}

func (unavailableSettlement) Submit(context.Context, settlement.SubmitRequest) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) Get(context.Context, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) RequestReservation(context.Context, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) ConfirmReserve(context.Context, string, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) InitiateMint(context.Context, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) MintConfirmed(context.Context, settlement.MintConfirmation) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) MintFailed(context.Context, string, string, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) Reject(context.Context, string, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}

func (unavailableSettlement) ReconcileMintFailed(context.Context, string, string) (*models.LoanApplication, error) {
	return nil, errSettlementUnavailable
}
