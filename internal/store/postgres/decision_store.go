package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// DecisionStore implements domain.DecisionStore. Each decision is stored whole
// in the record column; the scalar columns mirror it for filtering.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a DecisionStore backed by the given pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Insert appends d. Re-inserting an existing ID is a no-op so a replayed sink
// delivery cannot duplicate the trail.
func (s *DecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision %s: %w", d.ID, err)
	}

	const query = `
		INSERT INTO decisions (
			id, tick, asset, action, outcome, direction,
			confidence, approved, error, record, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		d.ID, int64(d.Tick), d.Asset, string(d.Action), string(d.Outcome),
		string(d.Opportunity.Direction), d.Opportunity.Confidence,
		d.RiskAssessment.Approved, d.Error, record, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// ListRecent returns the newest decisions across all assets.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	sql, args := newListQuery(`SELECT record FROM decisions`, "decided_at").build(limit, 0, false)
	return s.query(ctx, "list recent decisions", sql, args)
}

// ListByAsset returns decisions for one asset, newest first.
func (s *DecisionStore) ListByAsset(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.Decision, error) {
	sql, args := newListQuery(`SELECT record FROM decisions`, "decided_at").
		eq("asset", asset).
		window(opts).
		build(opts.Limit, opts.Offset, false)
	return s.query(ctx, "list decisions for "+asset, sql, args)
}

// ListBefore returns up to limit decisions older than before, oldest first.
// The archiver pages through history with it.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Decision, error) {
	sql, args := newListQuery(`SELECT record FROM decisions`, "decided_at").
		before(before).
		build(limit, 0, true)
	return s.query(ctx, "list decisions before", sql, args)
}

// DeleteBefore removes decisions older than before and reports how many went.
func (s *DecisionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM decisions WHERE decided_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete decisions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *DecisionStore) query(ctx context.Context, op, sql string, args []any) ([]domain.Decision, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Decision, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return domain.Decision{}, err
		}
		var d domain.Decision
		err := json.Unmarshal(raw, &d)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return out, nil
}

var _ domain.DecisionStore = (*DecisionStore)(nil)
