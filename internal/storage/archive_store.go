package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the backing client or pool was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")

	//go:embed schema.sql
	schemaSQL string
)

const (
	insertArchivedSQL = `INSERT INTO vault_metrics_history (
        network,
        vault_id,
        event_id,
        ltv,
        tvl,
        risk_score,
        liquidation_risk,
        recorded_at,
        payload
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (network, vault_id, event_id) DO NOTHING;`

	listArchivedSQL = `SELECT
        network,
        vault_id,
        event_id,
        ltv::text,
        tvl::text,
        risk_score::text,
        liquidation_risk,
        recorded_at,
        payload,
        archived_at
    FROM vault_metrics_history
    WHERE network = $1
      AND vault_id = $2
      AND recorded_at >= $3
      AND recorded_at < $4
    ORDER BY recorded_at
    LIMIT $5;`

	countArchivedSQL = `SELECT COUNT(*) FROM vault_metrics_history;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ArchiveWriter persists history entries, ignoring ones already archived.
type ArchiveWriter interface {
	InsertArchived(ctx context.Context, rows []ArchivedMetrics) (inserted int64, err error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// ArchiveStore is the Postgres-backed history archive. Rows are unique per
// (network, vault_id, event_id) so redelivered events collapse to one row.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore wires a pgx pool into an ArchiveStore.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *ArchiveStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the archive table and index when missing.
func (s *ArchiveStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *ArchiveStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session when the connection drops.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertArchived writes rows in one batch and reports how many were new.
func (s *ArchiveStore) InsertArchived(ctx context.Context, rows []ArchivedMetrics) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		var riskScore any
		if row.RiskScore != nil {
			riskScore = row.RiskScore.String()
		}
		payload := []byte(row.Payload)
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		batch.Queue(insertArchivedSQL,
			row.Network,
			row.VaultID,
			row.EventID,
			row.LTV.String(),
			row.TVL.String(),
			riskScore,
			row.LiquidationRisk,
			row.RecordedAt,
			payload,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range rows {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("insert archived metrics: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListArchived returns archived rows for a vault within [from, to), oldest
// first. A limit of zero or less returns every row.
func (s *ArchiveStore) ListArchived(ctx context.Context, network, vaultID string, from, to time.Time, limit int) ([]ArchivedMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rowLimit any
	if limit > 0 {
		rowLimit = limit
	}
	rows, queryErr := pool.Query(ctx, listArchivedSQL, network, vaultID, from, to, rowLimit)
	if queryErr != nil {
		return nil, fmt.Errorf("list archived metrics: %w", queryErr)
	}
	defer rows.Close()

	out := make([]ArchivedMetrics, 0)
	for rows.Next() {
		row, scanErr := scanArchived(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CountArchived counts archived rows across all vaults.
func (s *ArchiveStore) CountArchived(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countArchivedSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count archived metrics: %w", scanErr)
	}
	return count, nil
}

func scanArchived(rows pgx.Rows) (ArchivedMetrics, error) {
	var (
		row     ArchivedMetrics
		ltvStr  string
		tvlStr  string
		riskStr *string
		payload []byte
	)

	if err := rows.Scan(
		&row.Network,
		&row.VaultID,
		&row.EventID,
		&ltvStr,
		&tvlStr,
		&riskStr,
		&row.LiquidationRisk,
		&row.RecordedAt,
		&payload,
		&row.ArchivedAt,
	); err != nil {
		return ArchivedMetrics{}, err
	}

	var err error
	if row.LTV, err = decimal.NewFromString(ltvStr); err != nil {
		return ArchivedMetrics{}, fmt.Errorf("parse ltv: %w", err)
	}
	if row.TVL, err = decimal.NewFromString(tvlStr); err != nil {
		return ArchivedMetrics{}, fmt.Errorf("parse tvl: %w", err)
	}
	if riskStr != nil {
		score, convErr := decimal.NewFromString(*riskStr)
		if convErr != nil {
			return ArchivedMetrics{}, fmt.Errorf("parse risk score: %w", convErr)
		}
		row.RiskScore = &score
	}
	row.Payload = payload
	return row, nil
}

var (
	_ ArchiveWriter  = (*ArchiveStore)(nil)
	_ AdvisoryLocker = (*ArchiveStore)(nil)
)
