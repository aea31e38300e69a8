package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// PositionStore implements domain.PositionStore. Flat assets have no row.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the current state of an asset's position.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("postgres: marshal position %s: %w", p.Asset, err)
	}

	const query = `
		INSERT INTO positions (asset, state, side, size, entry_price, record, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (asset) DO UPDATE SET
			state       = EXCLUDED.state,
			side        = EXCLUDED.side,
			size        = EXCLUDED.size,
			entry_price = EXCLUDED.entry_price,
			record      = EXCLUDED.record,
			updated_at  = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		p.Asset, string(p.State), string(p.Side), p.Size, p.EntryPrice, record,
	); err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Asset, err)
	}
	return nil
}

// Delete removes the row for asset. Deleting a missing row is not an error.
func (s *PositionStore) Delete(ctx context.Context, asset string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE asset = $1`, asset); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", asset, err)
	}
	return nil
}

// Get returns the stored position for asset or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, asset string) (domain.Position, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM positions WHERE asset = $1`, asset).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", asset, err)
	}
	var p domain.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: unmarshal position %s: %w", asset, err)
	}
	return p, nil
}

// List returns every stored position ordered by asset.
func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM positions ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return domain.Position{}, err
		}
		var p domain.Position
		err := json.Unmarshal(raw, &p)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
