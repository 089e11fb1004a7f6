package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDriverStore is an alternative to BoltStore for callers whose
// scenario driver inputs already live in a relational store rather than
// an embedded file (SPEC_FULL §3: spec §6 describes driver values as
// "typically provided as a query against a persistent store"). It
// implements finmodel.DriverStore only — prior-period/closing state and
// FX still go through BoltStore or another collaborator, matching the
// spec's freedom to mix provider implementations per source (§4.E).
//
// Grounded on agentic_valuation's pkg/core/store package, which wraps a
// single *pgxpool.Pool per process behind small per-concern repos.
type PostgresDriverStore struct {
	pool *pgxpool.Pool
}

// NewPostgresDriverStore wraps an already-connected pool. Connection
// lifecycle (DSN resolution, pool sizing) is the caller's concern —
// finmodel/config resolves the DSN (RunConfig.PostgresDSN); cmd/finmodel
// opens only a BoltStore and creates no pool.
func NewPostgresDriverStore(pool *pgxpool.Pool) *PostgresDriverStore {
	return &PostgresDriverStore{pool: pool}
}

// GetDriver implements finmodel.DriverStore against a table of the shape
//
//	scenario_drivers(entity text, scenario text, period int, code text, value double precision)
func (s *PostgresDriverStore) GetDriver(entity, scenario string, period int, code string) (float64, bool, error) {
	if s.pool == nil {
		return 0, false, fmt.Errorf("finmodel/store: postgres driver store has no pool configured")
	}

	const query = `
		SELECT value FROM scenario_drivers
		WHERE entity = $1 AND scenario = $2 AND period = $3 AND code = $4
	`
	var value float64
	err := s.pool.QueryRow(context.Background(), query, entity, scenario, period, code).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("finmodel/store: querying driver %s/%s/%d/%s: %w", entity, scenario, period, code, err)
	}
	return value, true, nil
}

// PutDriver upserts one scenario driver input, for seeding scenarios from
// a relational source of truth before a run.
func (s *PostgresDriverStore) PutDriver(ctx context.Context, entity, scenario string, period int, code string, value float64) error {
	if s.pool == nil {
		return fmt.Errorf("finmodel/store: postgres driver store has no pool configured")
	}

	const query = `
		INSERT INTO scenario_drivers (entity, scenario, period, code, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity, scenario, period, code)
		DO UPDATE SET value = EXCLUDED.value
	`
	_, err := s.pool.Exec(ctx, query, entity, scenario, period, code, value)
	if err != nil {
		return fmt.Errorf("finmodel/store: upserting driver %s/%s/%d/%s: %w", entity, scenario, period, code, err)
	}
	return nil
}
