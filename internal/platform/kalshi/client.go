package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// Config holds the trade API client settings.
type Config struct {
	BaseURL       string
	APIKeyID      string
	PrivateKeyPEM string
	PageSize      int
	MaxPages      int
	Timeout       time.Duration
}

// DefaultConfig returns production endpoints and paging defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://api.elections.kalshi.com/trade-api/v2",
		PageSize: 100,
		MaxPages: 50,
		Timeout:  30 * time.Second,
	}
}

// Client is the REST client for the Kalshi trade API. Market data endpoints
// are public; when an API key is configured every request is signed.
type Client struct {
	cfg        Config
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a trade API client. The private key, when present, must
// be a PEM-encoded RSA key (PKCS#8 or PKCS#1).
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
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

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "kalshi_client")),
	}
	if cfg.PrivateKeyPEM != "" {
		key, err := parseRSAPrivateKey([]byte(cfg.PrivateKeyPEM))
		if err != nil {
			return nil, err
		}
		c.privateKey = key
	}
	return c, nil
}

// ListMarkets fetches all open markets via cursor pagination and normalizes
// them.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	cursor := ""

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("status", "open")
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doGet(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("kalshi: list markets page %d: %w", page, err)
		}

		var resp struct {
			Markets []json.RawMessage `json:"markets"`
			Cursor  string            `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}

		for _, raw := range resp.Markets {
			var m APIMarket
			if err := json.Unmarshal(raw, &m); err != nil || m.Ticker == "" {
				continue
			}
			out = append(out, m.ToDomain(raw))
		}

		cursor = resp.Cursor
		if cursor == "" || len(resp.Markets) < c.cfg.PageSize {
			break
		}
	}

	c.logger.Info("kalshi listing fetched", slog.Int("markets", len(out)))
	return out, nil
}

// GetMarket fetches and normalizes a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.Market, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(ticker))
	if err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market json.RawMessage `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	var m APIMarket
	if err := json.Unmarshal(resp.Market, &m); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return m.ToDomain(resp.Market), nil
}

// AuthHeaders returns signed authentication headers for the given method and
// path, or nil when no key is configured. Shared with the WebSocket client.
func (c *Client) AuthHeaders(method, path string) (http.Header, error) {
	if c.privateKey == nil {
		return nil, nil
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(ts + method + path))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: sign request: %w", err)
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", c.cfg.APIKeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return h, nil
}

func (c *Client) doGet(ctx context.Context, pathAndQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// The signature covers the path without the query string.
	signPath := req.URL.Path
	auth, err := c.AuthHeaders(http.MethodGet, signPath)
	if err != nil {
		return nil, err
	}
	for k, vs := range auth {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// parseRSAPrivateKey decodes a PEM RSA key, trying PKCS#8 first and falling
// back to PKCS#1.
func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}

// checkStatus maps non-2xx responses to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: %w: %s", domain.ErrNotFound, apiErr.Message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: %w: %s", domain.ErrUnauthorized, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: %w: %s", domain.ErrRateLimited, apiErr.Message)
	case http.StatusBadRequest:
		return fmt.Errorf("kalshi: %w: %s (%s)", domain.ErrInvalidInput, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
