package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarketQuery = `
	INSERT INTO markets (
		id, exchange, question, category,
		yes_price, no_price, volume, end_date,
		url, event_slug, market_ticker, market_subtype, stream_key,
		raw, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		question       = EXCLUDED.question,
		category       = EXCLUDED.category,
		yes_price      = EXCLUDED.yes_price,
		no_price       = EXCLUDED.no_price,
		volume         = EXCLUDED.volume,
		end_date       = EXCLUDED.end_date,
		url            = EXCLUDED.url,
		event_slug     = EXCLUDED.event_slug,
		market_ticker  = EXCLUDED.market_ticker,
		market_subtype = EXCLUDED.market_subtype,
		stream_key     = EXCLUDED.stream_key,
		raw            = EXCLUDED.raw,
		updated_at     = NOW()`

func marketArgs(m domain.Market) []any {
	return []any{
		m.ID, string(m.Exchange), m.Question, m.Category,
		m.YesPrice, m.NoPrice, m.Volume, m.EndDate,
		m.URL, m.EventSlug, m.MarketTicker, m.MarketSubtype, m.StreamKey,
		m.Raw,
	}
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, upsertMarketQuery, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(upsertMarketQuery, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `id, exchange, question, category,
	yes_price, no_price, volume, end_date,
	url, event_slug, market_ticker, market_subtype, stream_key,
	raw, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var exchange string
	err := row.Scan(
		&m.ID, &exchange, &m.Question, &m.Category,
		&m.YesPrice, &m.NoPrice, &m.Volume, &m.EndDate,
		&m.URL, &m.EventSlug, &m.MarketTicker, &m.MarketSubtype, &m.StreamKey,
		&m.Raw, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Exchange = domain.Exchange(exchange)
	return m, nil
}

// GetByID retrieves a market by its composite id.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListByExchange returns one exchange's markets ordered by volume.
func (s *MarketStore) ListByExchange(ctx context.Context, exchange domain.Exchange, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE exchange = $1 ORDER BY volume DESC`
	args := []any{string(exchange)}
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
		return nil, fmt.Errorf("postgres: list markets for %s: %w", exchange, err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListAll returns every stored market.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// DeleteMissing removes markets of one exchange whose ids are not in
// present, returning the deleted ids. Callers guard against empty present
// sets; an empty slice here would wipe the exchange.
func (s *MarketStore) DeleteMissing(ctx context.Context, exchange domain.Exchange, present []string) ([]string, error) {
	if len(present) == 0 {
		return nil, fmt.Errorf("postgres: delete missing markets: %w: empty present set", domain.ErrInvalidInput)
	}

	rows, err := s.pool.Query(ctx,
		`DELETE FROM markets WHERE exchange = $1 AND NOT (id = ANY($2)) RETURNING id`,
		string(exchange), present,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete missing markets for %s: %w", exchange, err)
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan deleted market id: %w", err)
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

// Count returns how many markets an exchange currently has stored.
func (s *MarketStore) Count(ctx context.Context, exchange domain.Exchange) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM markets WHERE exchange = $1`, string(exchange),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets for %s: %w", exchange, err)
	}
	return n, nil
}
