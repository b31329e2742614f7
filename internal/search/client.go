package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fleetcore-ai/compass/internal/circuitbreaker"
	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/metrics"
	"github.com/fleetcore-ai/compass/internal/ratecontrol"
	"github.com/fleetcore-ai/compass/internal/sources"
	"github.com/fleetcore-ai/compass/internal/tracing"
)

// ErrProviderUnavailable is returned when the provider breaker is open.
// Callers degrade to verification or knowledge mode instead of retrying.
var ErrProviderUnavailable = errors.New("search provider unavailable")

// Request asks the grounding provider for candidate sources. SiteHints
// come from the gap analyzer's target sites and bias the provider toward
// authoritative maritime domains.
type Request struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results,omitempty"`
	SiteHints  []string `json:"include_domains,omitempty"`
}

// Response carries categorized, deduplicated sources.
type Response struct {
	Sources  []sources.Source `json:"sources"`
	Provider string           `json:"provider"`
}

// Client is the search/grounding provider interface.
type Client interface {
	Search(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient talks to the search gateway over HTTP, pacing requests with
// the provider's rate budget and guarding them with a circuit breaker.
type HTTPClient struct {
	cfg     config.SearchConfig
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient creates a search client from the loaded configuration.
func NewHTTPClient(cfg config.SearchConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &HTTPClient{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "search", logger),
		limiter: ratecontrol.LimiterForProvider(cfg.Provider),
		logger:  logger,
	}
}

type providerResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type providerResponse struct {
	Results []providerResult `json:"results"`
}

// Search runs one provider query and returns annotated sources. Individual
// malformed results are skipped; an empty result set is not an error.
func (c *HTTPClient) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return &Response{Provider: c.cfg.Provider}, nil
	}
	if req.MaxResults <= 0 {
		req.MaxResults = c.cfg.MaxResults
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/search"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	tracing.InjectHTTP(ctx, httpReq)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordSearch(c.cfg.Provider, "error", elapsed)
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordSearch(c.cfg.Provider, fmt.Sprintf("http_%d", resp.StatusCode), elapsed)
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.RecordSearch(c.cfg.Provider, "decode_error", elapsed)
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	metrics.RecordSearch(c.cfg.Provider, "ok", elapsed)

	srcs := make([]sources.Source, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		srcs = append(srcs, sources.Source{
			Title:     r.Title,
			URL:       r.URL,
			Content:   r.Content,
			Relevance: r.Score,
		})
	}
	srcs = sources.Annotate(sources.Dedupe(srcs))

	for _, s := range srcs {
		metrics.SourcesCategorized.WithLabelValues(string(sources.Categorize(s.URL))).Inc()
	}

	c.logger.Debug("Search completed",
		zap.String("provider", c.cfg.Provider),
		zap.String("query", req.Query),
		zap.Int("results", len(srcs)),
		zap.Float64("seconds", elapsed),
	)

	return &Response{Sources: srcs, Provider: c.cfg.Provider}, nil
}

// IsOpen reports whether the provider breaker is open. The degradation
// manager polls this.
func (c *HTTPClient) IsOpen() bool {
	return c.http.IsOpen()
}
