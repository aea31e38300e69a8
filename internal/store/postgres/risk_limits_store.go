package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// RiskLimitsStore implements domain.RiskLimitsStore as a single-row table.
type RiskLimitsStore struct {
	pool *pgxpool.Pool
}

// NewRiskLimitsStore creates a RiskLimitsStore backed by the given pool.
func NewRiskLimitsStore(pool *pgxpool.Pool) *RiskLimitsStore {
	return &RiskLimitsStore{pool: pool}
}

// Get returns the saved limits and when they were saved, or
// domain.ErrNotFound if none have been saved yet.
func (s *RiskLimitsStore) Get(ctx context.Context) (domain.RiskLimits, time.Time, error) {
	var raw []byte
	var at time.Time
	err := s.pool.QueryRow(ctx, `SELECT limits, updated_at FROM risk_limits WHERE id = 1`).Scan(&raw, &at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskLimits{}, time.Time{}, domain.ErrNotFound
		}
		return domain.RiskLimits{}, time.Time{}, fmt.Errorf("postgres: get risk limits: %w", err)
	}
	var l domain.RiskLimits
	if err := json.Unmarshal(raw, &l); err != nil {
		return domain.RiskLimits{}, time.Time{}, fmt.Errorf("postgres: unmarshal risk limits: %w", err)
	}
	return l, at, nil
}

// Save replaces the stored limits.
func (s *RiskLimitsStore) Save(ctx context.Context, limits domain.RiskLimits) error {
	raw, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk limits: %w", err)
	}
	const query = `
		INSERT INTO risk_limits (id, limits, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET limits = EXCLUDED.limits, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("postgres: save risk limits: %w", err)
	}
	return nil
}

var _ domain.RiskLimitsStore = (*RiskLimitsStore)(nil)
