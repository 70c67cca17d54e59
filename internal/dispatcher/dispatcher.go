// Package dispatcher performs single batch round-trips against metrics endpoints.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
)

// Config controls HTTP client behavior for the dispatcher.
type Config struct {
	// RequestTimeout bounds the whole round trip (connect + send + read).
	RequestTimeout time.Duration
	// ConnectTimeout bounds dialing; defaults to RequestTimeout/3.
	ConnectTimeout time.Duration
	// HeaderTimeout bounds waiting for response headers; defaults to RequestTimeout/2.
	HeaderTimeout time.Duration
	UserAgent     string
}

const defaultRequestTimeout = 30 * time.Second

// HTTP dispatches one batch of keywords to one endpoint over HTTP and parses
// the response into a per-keyword result map. It performs no retries and does
// not mutate endpoint pool state; the caller does, based on the outcome.
type HTTP struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

// NewHTTP builds an HTTP dispatcher.
func NewHTTP(cfg Config, logger *zap.Logger) *HTTP {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = cfg.RequestTimeout / 3
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = cfg.RequestTimeout / 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.HeaderTimeout,
			},
		},
		cfg:    cfg,
		logger: logger,
	}
}

// wireEntry mirrors one element of the response data array. Metrics stays raw
// so shape validation can run before decoding.
type wireEntry struct {
	Keyword string          `json:"keyword"`
	Metrics json.RawMessage `json:"metrics"`
}

type wireResponse struct {
	Status       string      `json:"status"`
	TotalResults int         `json:"total_results"`
	Data         []wireEntry `json:"data"`
}

// Dispatch sends the batch to the endpoint and parses the response. Every
// requested keyword is present in the returned map; keywords without usable
// metrics map to nil. An explicit zero-results response is a success with
// every keyword absent.
func (d *HTTP) Dispatch(
	ctx context.Context,
	baseURL string,
	batch keywords.Batch,
) (keywords.ResultMap, error) {
	u, err := url.Parse(baseURL + "/api/keywords")
	if err != nil {
		return nil, fmt.Errorf("build request url: %w", err)
	}
	q := u.Query()
	q.Set("keyword", strings.Join(batch.Keywords, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	d.logger.Debug("dispatching batch",
		zap.Int("batch_id", batch.ID),
		zap.Int("keywords", len(batch.Keywords)),
	)

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("round trip: %w", keywords.ErrRequestTimeout)
		}
		return nil, fmt.Errorf("round trip: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &keywords.RequestFailedError{Status: resp.StatusCode}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode body: %w", keywords.ErrResponseParse)
	}

	results := make(keywords.ResultMap, len(batch.Keywords))
	for _, kw := range batch.Keywords {
		results[kw] = nil
	}

	if wire.TotalResults == 0 {
		return results, nil
	}

	for _, ent := range wire.Data {
		if _, requested := results[ent.Keyword]; !requested {
			continue
		}
		if !validMetricsShape(ent.Metrics) {
			continue
		}
		var m keywords.Metrics
		if err := json.Unmarshal(ent.Metrics, &m); err != nil {
			continue
		}
		results[ent.Keyword] = &m
	}
	return results, nil
}

// validMetricsShape requires metrics to be a non-empty JSON object; anything
// else resolves the keyword to absent rather than failing the batch.
func validMetricsShape(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
