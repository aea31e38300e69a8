package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/tradegate/internal/crypto"
	"github.com/alanyoungcy/tradegate/internal/domain"
)

// HTTPConfig configures the execution gateway client.
type HTTPConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// ClientIDTTL is how long an unacknowledged open keeps its client order
	// ID, so a retry of the same request is recognised by the gateway.
	ClientIDTTL time.Duration
}

// HTTPExecutor forwards opens and closes to a remote execution gateway.
// Requests are JSON and, when a secret is configured, HMAC-signed.
type HTTPExecutor struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.RequestSigner
	clientIDs  *clientIDs
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// HTTPOption customizes an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithRateLimiter waits on the limiter before every gateway call.
func WithRateLimiter(l domain.RateLimiter) HTTPOption {
	return func(e *HTTPExecutor) { e.limiter = l }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExecutor) { e.httpClient = c }
}

// NewHTTP creates a gateway client rooted at cfg.BaseURL.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger, opts ...HTTPOption) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClientIDTTL <= 0 {
		cfg.ClientIDTTL = 10 * time.Minute
	}
	e := &HTTPExecutor{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clientIDs:  newClientIDs(cfg.ClientIDTTL),
		logger:     logger.With(slog.String("component", "http_executor")),
	}
	if cfg.APISecret != "" {
		e.auth = &crypto.RequestSigner{Key: cfg.APIKey, Secret: cfg.APISecret}
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type openRequest struct {
	ClientOrderID string      `json:"client_order_id"`
	Asset         string      `json:"asset"`
	Side          domain.Side `json:"side"`
	Size          float64     `json:"size"`
	Leverage      float64     `json:"leverage"`
	Price         float64     `json:"price,omitempty"`
}

type openResponse struct {
	OrderID   string  `json:"order_id"`
	FillPrice float64 `json:"fill_price"`
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
}

type closeResponse struct {
	FillPrice float64 `json:"fill_price"`
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
}

// ExecuteOrder posts an open to /orders. A retried open for the same asset,
// side and size reuses its client order ID until acknowledged.
func (e *HTTPExecutor) ExecuteOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	clientID := e.clientIDs.get(req)
	body := openRequest{
		ClientOrderID: clientID,
		Asset:         req.Asset,
		Side:          req.Side,
		Size:          req.Size,
		Leverage:      req.Leverage,
		Price:         req.Price,
	}

	raw, err := e.do(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("executor: open %s: %w: %w", req.Asset, domain.ErrExecution, err)
	}
	var resp openResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("executor: decode open %s: %w: %w", req.Asset, domain.ErrExecution, err)
	}
	if resp.OrderID == "" || isRejected(resp.Status) {
		return domain.OrderAck{}, fmt.Errorf("executor: open %s rejected (%s): %s: %w",
			req.Asset, resp.Status, resp.Message, domain.ErrExecution)
	}
	e.clientIDs.done(req.Asset)

	e.logger.Info("order acknowledged",
		slog.String("asset", req.Asset),
		slog.String("order_id", resp.OrderID),
		slog.String("client_order_id", clientID),
		slog.Float64("fill_price", resp.FillPrice),
	)
	return domain.OrderAck{OrderID: resp.OrderID, FillPrice: resp.FillPrice}, nil
}

// CloseOrder posts to /positions/{asset}/close and returns the fill price.
func (e *HTTPExecutor) CloseOrder(ctx context.Context, asset string) (float64, error) {
	raw, err := e.do(ctx, http.MethodPost, "/positions/"+url.PathEscape(asset)+"/close", nil)
	if err != nil {
		return 0, fmt.Errorf("executor: close %s: %w: %w", asset, domain.ErrExecution, err)
	}
	var resp closeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("executor: decode close %s: %w: %w", asset, domain.ErrExecution, err)
	}
	if isRejected(resp.Status) {
		return 0, fmt.Errorf("executor: close %s rejected: %s: %w", asset, resp.Message, domain.ErrExecution)
	}
	return resp.FillPrice, nil
}

func isRejected(status string) bool {
	switch strings.ToLower(status) {
	case "rejected", "failed", "error":
		return true
	}
	return false
}

// do builds, signs, sends and reads one gateway request.
func (e *HTTPExecutor) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, "executor"); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var payload []byte
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.auth != nil {
		for k, v := range e.auth.Headers(method, path, payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

var _ domain.OrderExecutor = (*HTTPExecutor)(nil)
