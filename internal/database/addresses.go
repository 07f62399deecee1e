package database

import (
	"context"
	"database/sql"
	"fmt"

	"rwa-lending-go/internal/models"
	"rwa-lending-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StoreAddress registers the custody wallet that holds a user's asset while
// it backs a loan application.
func (s *Service) StoreAddress(ctx context.Context, params store.StoreAddressParams) (*models.Address, error) {
	zap.L().Info("Storing custody address",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("network", params.Network),
		zap.String("wallet_id", params.WalletId))

	addr := &models.Address{}
	err := s.db.QueryRowContext(ctx, queryInsertAddress, uuid.New().String(), params.UserId, params.Asset, params.Network,
		params.Address, params.WalletId, params.AccountIdentifier).Scan(
		&addr.Id, &addr.UserId, &addr.Asset, &addr.Network, &addr.Address, &addr.WalletId, &addr.AccountIdentifier, &addr.CreatedAt,
	)
	if err != nil {
		zap.L().Error("Failed to insert address",
			zap.String("user_id", params.UserId),
			zap.String("asset", params.Asset),
			zap.Error(err))
		return nil, fmt.Errorf("unable to insert address: %w", err)
	}

	zap.L().Info("Custody address stored", zap.String("id", addr.Id))
	return addr, nil
}

func (s *Service) GetAddresses(ctx context.Context, userId, asset, network string) ([]models.Address, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserAddresses, userId, asset, network)
	if err != nil {
		zap.L().Error("Failed to query addresses",
			zap.String("user_id", userId),
			zap.String("asset", asset),
			zap.String("network", network),
			zap.Error(err))
		return nil, fmt.Errorf("unable to query addresses: %w", err)
	}
	return scanAddresses(rows)
}

func (s *Service) GetAllUserAddresses(ctx context.Context, userId string) ([]models.Address, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllUserAddresses, userId)
	if err != nil {
		zap.L().Error("Failed to query all addresses", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query all addresses: %w", err)
	}
	return scanAddresses(rows)
}

func scanAddresses(rows *sql.Rows) ([]models.Address, error) {
	defer closeRows(rows)

	var addresses []models.Address
	for rows.Next() {
		var addr models.Address
		err := rows.Scan(&addr.Id, &addr.UserId, &addr.Asset, &addr.Network, &addr.Address, &addr.WalletId, &addr.AccountIdentifier, &addr.CreatedAt)
		if err != nil {
			zap.L().Error("Failed to scan address row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan address row: %w", err)
		}
		addresses = append(addresses, addr)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during address row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating address rows: %w", err)
	}
	return addresses, nil
}
