package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/match"
)

// Config holds the confirmation client settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  int           // requests allowed per RateWindow
	RateWindow time.Duration
}

// DefaultConfig returns the confirmation model the scanner ships with.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.groq.com/openai/v1",
		Model:      "llama-3.3-70b-versatile",
		Timeout:    60 * time.Second,
		RateLimit:  30,
		RateWindow: time.Minute,
	}
}

const rateLimitKey = "groq"

const systemPrompt = "You are a prediction market analyst. Confirm matches and detect YES/NO inversions. Return valid JSON only."

// Client asks a chat-completion model whether two market questions describe
// the same event with the same YES side. It implements match.Confirmer.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter // nil disables throttling
	logger     *slog.Logger
}

// NewClient creates a confirmation client. limiter may be nil.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "groq_client")),
	}
}

// Confirm sends one pair to the model and parses its verdict.
func (c *Client) Confirm(ctx context.Context, poly, kalshi domain.Market) (match.Verdict, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.cfg.RateLimit, c.cfg.RateWindow); err != nil {
			return match.Verdict{}, fmt.Errorf("groq: rate limiter: %w", err)
		}
	}

	content, err := c.chat(ctx, buildPrompt(poly, kalshi))
	if err != nil {
		return match.Verdict{}, err
	}
	return parseVerdict(content)
}

func buildPrompt(poly, kalshi domain.Market) string {
	var b strings.Builder
	b.WriteString("Do these two prediction markets ask the EXACT SAME underlying question?\n\n")
	fmt.Fprintf(&b, "Polymarket:\n  Question: %s\n  Category: %s\n\n", poly.Question, poly.Category)
	fmt.Fprintf(&b, "Kalshi:\n  Question: %s\n  Category: %s\n\n", kalshi.Question, kalshi.Category)
	b.WriteString(`RULES:
1. CONFIRMED + not inverted: Both contracts resolve YES under the same conditions.
2. CONFIRMED + inverted: Same underlying event, but YES/NO is flipped between platforms.
   This happens when one platform asks "Will Team A win?" and the other asks "Will Team B win?"
   for the same game, or one uses "Will X happen?" and the other "Will X NOT happen?"
3. REJECTED: Different underlying events, different resolution criteria, or unrelated questions.

Examples, CONFIRMED not inverted:
  - "Will OKC win?" / "Will OKC win?": same YES side
  - "Bitcoin above $100K by March?" / "Bitcoin above $100K by March?": same

Examples, CONFIRMED inverted (same event, opposite YES sides):
  - "Will Bartunkova win?" / "Will Townsend win?" for the same match
  - "Will Team A win?" / "Will Team B win?": same game, opposite sides
  - "Will X happen?" / "Will X NOT happen?": same event, inverted framing

Examples, REJECTED:
  - "Will X win?" / "Will Y win?" where X and Y are unrelated events
  - "XRP reach $1.80" / "XRP trimmed mean above $1.80": different resolution criteria
  - "Annual inflation 2.3%" / "Trump signs EO": completely different events

Return JSON only:
{"confirmed": true/false, "confidence": 0.0-1.0, "inverted": true/false, "reasoning": "brief explanation"}
`)
	return b.String()
}

// parseVerdict decodes the model's JSON answer. Code fences are stripped and
// a brace-bounded substring is tried as a fallback; anything still
// undecodable is a malformed verdict, which the engine treats as
// retry-eligible.
func parseVerdict(content string) (match.Verdict, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var v struct {
		Confirmed  bool    `json:"confirmed"`
		Confidence float64 `json:"confidence"`
		Inverted   bool    `json:"inverted"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return match.Verdict{}, fmt.Errorf("groq: %w: %s", match.ErrMalformedVerdict, truncateStr(text))
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
			return match.Verdict{}, fmt.Errorf("groq: %w: %s", match.ErrMalformedVerdict, truncateStr(text))
		}
	}

	return match.Verdict{
		Confirmed:  v.Confirmed,
		Confidence: v.Confidence,
		Inverted:   v.Inverted,
		Reasoning:  v.Reasoning,
	}, nil
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature":     0.1,
		"max_tokens":      4096,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("groq: marshal request: %w", err)
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("groq: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("groq: http request: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("groq: read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var parsed struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Choices) == 0 {
				return "", fmt.Errorf("groq: %w: unusable completion body", match.ErrMalformedVerdict)
			}
			return parsed.Choices[0].Message.Content, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("groq: %w: %s", domain.ErrRateLimited, truncateStr(string(respBody)))
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("groq: HTTP %d: %s", resp.StatusCode, truncateStr(string(respBody)))
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return "", fmt.Errorf("groq: %w: %s", domain.ErrUnauthorized, truncateStr(string(respBody)))
		default:
			return "", fmt.Errorf("groq: %w: HTTP %d: %s", domain.ErrInvalidInput, resp.StatusCode, truncateStr(string(respBody)))
		}

		c.logger.Warn("confirmation call failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr),
		)
	}
	return "", lastErr
}

func truncateStr(s string) string {
	const max = 300
	if len(s) > max {
		s = s[:max]
	}
	return s
}
