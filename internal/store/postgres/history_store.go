package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Append records one price snapshot for a match.
func (s *HistoryStore) Append(ctx context.Context, snap domain.PriceSnapshot) error {
	recordedAt := snap.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_history (
			match_id, poly_yes, kalshi_yes, spread, fee_adjusted_spread, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.MatchID, snap.PolyYes, snap.KalshiYes,
		snap.Spread, snap.FeeAdjustedSpread, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append snapshot for match %d: %w", snap.MatchID, err)
	}
	return nil
}

const snapshotCols = `id, match_id, poly_yes, kalshi_yes, spread, fee_adjusted_spread, recorded_at`

func scanSnapshot(row pgx.Row) (domain.PriceSnapshot, error) {
	var snap domain.PriceSnapshot
	err := row.Scan(
		&snap.ID, &snap.MatchID, &snap.PolyYes, &snap.KalshiYes,
		&snap.Spread, &snap.FeeAdjustedSpread, &snap.RecordedAt,
	)
	return snap, err
}

// ListByMatch returns a match's snapshots, newest first.
func (s *HistoryStore) ListByMatch(ctx context.Context, matchID int64, opts domain.ListOpts) ([]domain.PriceSnapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM price_history WHERE match_id = $1 ORDER BY recorded_at DESC`
	args := []any{matchID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history for match %d: %w", matchID, err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// DeleteByMatches removes all snapshots for the given match ids.
func (s *HistoryStore) DeleteByMatches(ctx context.Context, matchIDs []int64) error {
	if len(matchIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM price_history WHERE match_id = ANY($1)`, matchIDs)
	if err != nil {
		return fmt.Errorf("postgres: delete history for matches: %w", err)
	}
	return nil
}

// ListOlderThan returns snapshots recorded before cutoff, oldest first.
func (s *HistoryStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]domain.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM price_history WHERE recorded_at < $1 ORDER BY recorded_at`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// DeleteOlderThan removes snapshots recorded before cutoff.
func (s *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_history WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete history before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectSnapshots(rows pgx.Rows) ([]domain.PriceSnapshot, error) {
	var snaps []domain.PriceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
