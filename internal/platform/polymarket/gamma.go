package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// Config holds the Gamma API client settings.
type Config struct {
	BaseURL  string
	PageSize int
	MaxPages int
	Timeout  time.Duration
}

// DefaultConfig returns the production endpoint and paging defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://gamma-api.polymarket.com",
		PageSize: 100,
		MaxPages: 50,
		Timeout:  30 * time.Second,
	}
}

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata. All endpoints are public.
type GammaClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGammaClient creates a Gamma API client.
func NewGammaClient(cfg Config, logger *slog.Logger) *GammaClient {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &GammaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "gamma_client")),
	}
}

// ListMarkets fetches all active open markets via offset pagination and
// normalizes them. Markets that are not binary YES/NO contracts are skipped.
func (g *GammaClient) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	skipped := 0

	for page := 0; page < g.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("active", "true")
		params.Set("closed", "false")
		params.Set("limit", strconv.Itoa(g.cfg.PageSize))
		params.Set("offset", strconv.Itoa(page*g.cfg.PageSize))

		body, err := g.doGet(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("polymarket/gamma: list markets page %d: %w", page, err)
		}

		var rawMarkets []json.RawMessage
		if err := json.Unmarshal(body, &rawMarkets); err != nil {
			return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
		}

		for _, raw := range rawMarkets {
			var m APIMarket
			if err := json.Unmarshal(raw, &m); err != nil {
				skipped++
				continue
			}
			dm, ok := m.ToDomain(raw)
			if !ok {
				skipped++
				continue
			}
			out = append(out, dm)
		}

		if len(rawMarkets) < g.cfg.PageSize {
			break
		}
	}

	g.logger.Info("polymarket listing fetched",
		slog.Int("markets", len(out)),
		slog.Int("skipped", skipped),
	)
	return out, nil
}

// GetMarket fetches and normalizes a single market by its Gamma ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	dm, ok := m.ToDomain(body)
	if !ok {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w", id, domain.ErrInvalidInput)
	}
	return dm, nil
}

func (g *GammaClient) doGet(ctx context.Context, pathAndQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	default:
		return fmt.Errorf("HTTP %d", statusCode)
	}
}
