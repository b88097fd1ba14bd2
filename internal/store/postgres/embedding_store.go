package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// EmbeddingStore implements domain.EmbeddingStore using PostgreSQL. Vectors
// are stored as little-endian float32 bytea.
type EmbeddingStore struct {
	pool *pgxpool.Pool
}

// NewEmbeddingStore creates an EmbeddingStore backed by the given pool.
func NewEmbeddingStore(pool *pgxpool.Pool) *EmbeddingStore {
	return &EmbeddingStore{pool: pool}
}

// Get retrieves one market's stored vector.
func (s *EmbeddingStore) Get(ctx context.Context, marketID string) (domain.MarketEmbedding, error) {
	var e domain.MarketEmbedding
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, question_hash, vector, updated_at
		 FROM market_embeddings WHERE market_id = $1`, marketID,
	).Scan(&e.MarketID, &e.QuestionHash, &blob, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketEmbedding{}, domain.ErrNotFound
		}
		return domain.MarketEmbedding{}, fmt.Errorf("postgres: get embedding %s: %w", marketID, err)
	}
	e.Vector = decodeVector(blob)
	return e, nil
}

// GetAll returns every stored vector.
func (s *EmbeddingStore) GetAll(ctx context.Context) ([]domain.MarketEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, question_hash, vector, updated_at FROM market_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketEmbedding
	for rows.Next() {
		var e domain.MarketEmbedding
		var blob []byte
		if err := rows.Scan(&e.MarketID, &e.QuestionHash, &blob, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan embedding: %w", err)
		}
		e.Vector = decodeVector(blob)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert stores or replaces one market's vector.
func (s *EmbeddingStore) Upsert(ctx context.Context, e domain.MarketEmbedding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_embeddings (market_id, question_hash, vector, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			question_hash = EXCLUDED.question_hash,
			vector        = EXCLUDED.vector,
			updated_at    = NOW()`,
		e.MarketID, e.QuestionHash, encodeVector(e.Vector),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert embedding %s: %w", e.MarketID, err)
	}
	return nil
}

// DeleteByMarkets removes stored vectors for the given market ids.
func (s *EmbeddingStore) DeleteByMarkets(ctx context.Context, marketIDs []string) error {
	if len(marketIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM market_embeddings WHERE market_id = ANY($1)`, marketIDs)
	if err != nil {
		return fmt.Errorf("postgres: delete embeddings: %w", err)
	}
	return nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
