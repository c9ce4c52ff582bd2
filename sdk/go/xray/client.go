// Package xray provides client instrumentation for narrating multi-step
// decision pipelines. Applications wrap pipeline phases in Run and Step
// scopes; the client batches the resulting records in the background and
// ships them to an X-Ray server. Delivery is best-effort: transport
// failures are logged and absorbed, never surfaced to the application.
package xray

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the X-Ray server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the secret used to obtain a JWT token. Leave empty when the
	// server runs with auth disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual delivery requests. Defaults to 5 seconds.
	Timeout time.Duration

	// BatchSize is the number of events that triggers an immediate flush.
	// Defaults to 50.
	BatchSize int

	// FlushInterval is the maximum time pending events wait before a
	// time-based flush. Defaults to 2 seconds.
	FlushInterval time.Duration

	// QueueLimit bounds the pending-event queue. When the limit is reached
	// the oldest queued events are dropped to make room. Zero means
	// unbounded.
	QueueLimit int

	// Logger receives non-fatal delivery diagnostics. If nil, a no-op
	// logger is used.
	Logger *slog.Logger
}

// Client is an instrumentation handle. Construct one per application and
// pass it explicitly; all methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
	logger   *slog.Logger
	batcher  *batcher
}

// NewClient creates a Client and starts its background delivery worker.
// Call Close to drain pending events before the process exits.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("xray: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
		logger:  logger,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	c.batcher = newBatcher(c.deliver, logger, batchSize, flushInterval, cfg.QueueLimit)
	c.batcher.start()
	return c, nil
}

// Close stops the background worker, drains queued events, and performs one
// final best-effort flush. It blocks until the drain finishes or ctx
// expires, and never returns a delivery error.
func (c *Client) Close(ctx context.Context) error {
	c.batcher.drain(ctx)
	return nil
}

// enqueue hands an event to the batcher. It never blocks on delivery.
func (c *Client) enqueue(ev event) {
	c.batcher.enqueue(ev)
}

// discardHandler drops all log records. Used when no logger is configured.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
