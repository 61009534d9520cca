package backend

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"insightfeed/models"
)

const DefaultBaseURL = "http://127.0.0.1:8000"

const (
	transcriptsPath = "/api/transcripts"
	linkedInPath    = "/api/linkedin"

	// Error bodies are cut to this many bytes before they end up in messages
	maxErrorBody = 4096
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insightfeed_backend_requests_total",
		Help: "Requests made to the analysis backend by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "insightfeed_backend_request_duration_seconds",
		Help:    "Latency of requests to the analysis backend",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms up to ~20s
	}, []string{"endpoint"})
)

// Client talks to the analysis backend
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	timeout    time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per request timeout. It applies to a copy of the
// HTTP client, a client given with WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a backend client for baseURL. An empty baseURL falls back
// to DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "insightfeed",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListTranscripts returns every transcript record
func (c *Client) ListTranscripts(ctx context.Context) ([]models.Transcript, error) {
	var records []models.Transcript
	if err := c.do(ctx, "list_transcripts", "failed to fetch transcripts", http.MethodGet, transcriptsPath, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListLinkedInInsights returns every LinkedIn icebreaker record
func (c *Client) ListLinkedInInsights(ctx context.Context) ([]models.LinkedInInsight, error) {
	var records []models.LinkedInInsight
	if err := c.do(ctx, "list_linkedin", "failed to fetch LinkedIn insights", http.MethodGet, linkedInPath, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateTranscript submits a transcript for analysis
func (c *Client) CreateTranscript(ctx context.Context, in models.TranscriptInput) (*models.Transcript, error) {
	var record models.Transcript
	if err := c.do(ctx, "create_transcript", "failed to create transcript", http.MethodPost, transcriptsPath, in, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateLinkedInInsight submits a LinkedIn bio and pitch for analysis
func (c *Client) CreateLinkedInInsight(ctx context.Context, in models.LinkedInInput) (*models.LinkedInInsight, error) {
	var record models.LinkedInInsight
	if err := c.do(ctx, "create_linkedin", "failed to create LinkedIn insight", http.MethodPost, linkedInPath, in, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) do(ctx context.Context, endpoint, operation, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		// Cancellation is the caller's doing, not a connectivity problem
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			requestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			return fmt.Errorf("%s: %w", operation, ctxErr)
		}
		requestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return &TransportError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"latency": time.Since(start),
	}).Debug("Backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestsTotal.WithLabelValues(endpoint, "http_error").Inc()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		requestsTotal.WithLabelValues(endpoint, "decode_error").Inc()
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}

	requestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
