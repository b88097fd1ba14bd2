package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// Upsert inserts a confirmed match or refreshes an existing pair, returning
// the row id either way.
func (s *MatchStore) Upsert(ctx context.Context, m domain.ConfirmedMatch) (int64, error) {
	const query = `
		INSERT INTO matches (
			poly_id, kalshi_id, confidence,
			poly_yes, kalshi_yes, poly_volume, kalshi_volume,
			spread, fee_adjusted_spread, direction, profitable,
			poly_question, kalshi_question, reasoning,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			NOW(), NOW()
		)
		ON CONFLICT (poly_id, kalshi_id) DO UPDATE SET
			confidence          = EXCLUDED.confidence,
			poly_yes            = EXCLUDED.poly_yes,
			kalshi_yes          = EXCLUDED.kalshi_yes,
			poly_volume         = EXCLUDED.poly_volume,
			kalshi_volume       = EXCLUDED.kalshi_volume,
			spread              = EXCLUDED.spread,
			fee_adjusted_spread = EXCLUDED.fee_adjusted_spread,
			direction           = EXCLUDED.direction,
			profitable          = EXCLUDED.profitable,
			poly_question       = EXCLUDED.poly_question,
			kalshi_question     = EXCLUDED.kalshi_question,
			reasoning           = EXCLUDED.reasoning,
			updated_at          = NOW()
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		m.PolyID, m.KalshiID, m.Confidence,
		m.PolyYes, m.KalshiYes, m.PolyVolume, m.KalshiVolume,
		m.Spread, m.FeeAdjustedSpread, m.Direction, m.Profitable,
		m.PolyQuestion, m.KalshiQuestion, m.Reasoning,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert match %s/%s: %w", m.PolyID, m.KalshiID, err)
	}
	return id, nil
}

const matchCols = `id, poly_id, kalshi_id, confidence,
	poly_yes, kalshi_yes, poly_volume, kalshi_volume,
	spread, fee_adjusted_spread, direction, profitable,
	poly_question, kalshi_question, reasoning,
	created_at, updated_at`

func scanMatch(row pgx.Row) (domain.ConfirmedMatch, error) {
	var m domain.ConfirmedMatch
	err := row.Scan(
		&m.ID, &m.PolyID, &m.KalshiID, &m.Confidence,
		&m.PolyYes, &m.KalshiYes, &m.PolyVolume, &m.KalshiVolume,
		&m.Spread, &m.FeeAdjustedSpread, &m.Direction, &m.Profitable,
		&m.PolyQuestion, &m.KalshiQuestion, &m.Reasoning,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

// GetByID retrieves a match by its row id.
func (s *MatchStore) GetByID(ctx context.Context, id int64) (domain.ConfirmedMatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+matchCols+` FROM matches WHERE id = $1`, id)
	m, err := scanMatch(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConfirmedMatch{}, domain.ErrNotFound
		}
		return domain.ConfirmedMatch{}, fmt.Errorf("postgres: get match %d: %w", id, err)
	}
	return m, nil
}

// GetByPair retrieves a match by its market pair.
func (s *MatchStore) GetByPair(ctx context.Context, polyID, kalshiID string) (domain.ConfirmedMatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+matchCols+` FROM matches WHERE poly_id = $1 AND kalshi_id = $2`,
		polyID, kalshiID)
	m, err := scanMatch(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConfirmedMatch{}, domain.ErrNotFound
		}
		return domain.ConfirmedMatch{}, fmt.Errorf("postgres: get match %s/%s: %w", polyID, kalshiID, err)
	}
	return m, nil
}

// List returns matches ordered by fee-adjusted spread, best first.
func (s *MatchStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ConfirmedMatch, error) {
	query := `SELECT ` + matchCols + ` FROM matches ORDER BY fee_adjusted_spread DESC, id`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list matches: %w", err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

// ListTopByVolume returns the matches whose thinner side carries the most
// volume. This is the refresh priority order.
func (s *MatchStore) ListTopByVolume(ctx context.Context, limit int) ([]domain.ConfirmedMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchCols+` FROM matches
		 ORDER BY LEAST(poly_volume, kalshi_volume) DESC, id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list top matches: %w", err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

func collectMatches(rows pgx.Rows) ([]domain.ConfirmedMatch, error) {
	var matches []domain.ConfirmedMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// UpdatePrices refreshes the live price and spread columns of one match.
func (s *MatchStore) UpdatePrices(ctx context.Context, m domain.ConfirmedMatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE matches SET
			poly_yes            = $2,
			kalshi_yes          = $3,
			spread              = $4,
			fee_adjusted_spread = $5,
			direction           = $6,
			profitable          = $7,
			updated_at          = NOW()
		WHERE id = $1`,
		m.ID, m.PolyYes, m.KalshiYes,
		m.Spread, m.FeeAdjustedSpread, m.Direction, m.Profitable,
	)
	if err != nil {
		return fmt.Errorf("postgres: update match prices %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a match by id. History rows cascade in the schema.
func (s *MatchStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete match %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteForMarkets removes matches referencing any of the given market ids
// on either side, returning deleted match ids for cascade cleanup.
func (s *MatchStore) DeleteForMarkets(ctx context.Context, marketIDs []string) ([]int64, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`DELETE FROM matches
		 WHERE poly_id = ANY($1) OR kalshi_id = ANY($1)
		 RETURNING id`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete matches for markets: %w", err)
	}
	defer rows.Close()

	var deleted []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan deleted match id: %w", err)
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

// Count returns the number of confirmed matches.
func (s *MatchStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count matches: %w", err)
	}
	return n, nil
}
