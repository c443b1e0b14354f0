package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for account API calls.
var (
	accountRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_requests_total",
		Help: "Total account API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	accountRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "account_request_duration_seconds",
		Help:    "Account API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})
)

// Account API endpoints.
const (
	endpointCards       = "/account/{user}/cards"
	EndpointEligibility = "/promotions/eligibility"
	EndpointDecrypt     = "/decrypt"
)

const maxBodyBytes = 4 << 20

var tracer = otel.Tracer("github.com/Sternrassler/storefront-prefetch/pkg/account")

// ErrBackend is wrapped by every failed account or decryption call.
var ErrBackend = errors.New("account backend error")

// CardsPath returns the saved cards path of a user.
func CardsPath(userID string) string {
	return strings.Replace(endpointCards, "{user}", url.PathEscape(userID), 1)
}

// Config holds the account client configuration.
type Config struct {
	// BaseURL of the account API.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout per HTTP request. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client
}

// Client calls the authenticated account and promotions API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	token      string
	logger     zerolog.Logger
}

// NewClient creates an account API client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	base, httpClient, err := parseBase(cfg.BaseURL, cfg.Timeout, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		token:      cfg.Token,
		logger:     logger,
	}, nil
}

func parseBase(raw string, timeout time.Duration, httpClient *http.Client) (*url.URL, *http.Client, error) {
	if raw == "" {
		return nil, nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, nil, fmt.Errorf("base url must be http or https (got %q)", base.Scheme)
	}

	if httpClient == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return base, httpClient, nil
}

// SavedCardRecords lists a user's encrypted saved cards.
func (c *Client) SavedCardRecords(ctx context.Context, userID string) ([]EncryptedCard, error) {
	var cards []EncryptedCard
	if err := c.do(ctx, http.MethodGet, endpointCards, CardsPath(userID), nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// Eligibility asks the promotions API which promotions apply.
func (c *Client) Eligibility(ctx context.Context, req EligibilityRequest) (Eligibility, error) {
	var eligibility Eligibility
	if err := c.do(ctx, http.MethodPost, EndpointEligibility, EndpointEligibility, req, &eligibility); err != nil {
		return Eligibility{}, err
	}
	return eligibility, nil
}

// do sends a request and decodes the envelope's data into out. endpoint is
// the metric label, path the concrete request path.
func (c *Client) do(ctx context.Context, method, endpoint, path string, body, out any) (err error) {
	ctx, span := tracer.Start(ctx, "account.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("account.endpoint", endpoint)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "account request failed")
		}
		span.End()
	}()

	startTime := time.Now()
	defer func() {
		accountRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	u := *c.baseURL
	u.Path += path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing account request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		accountRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return fmt.Errorf("%w: %s %s: %v", ErrBackend, method, endpoint, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	accountRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrBackend, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s: status %d: decode envelope: %v", ErrBackend, endpoint, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		return fmt.Errorf("%w: %s: status %d: %s", ErrBackend, endpoint, resp.StatusCode, env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s: missing data", ErrBackend, endpoint)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: decode data: %v", ErrBackend, endpoint, err)
	}
	return nil
}

// Decrypter turns an encrypted card payload into a card.
type Decrypter interface {
	Decrypt(ctx context.Context, payload string) (SavedCard, error)
}

// HTTPDecrypter calls the decryption service: POST {base}/decrypt with
// {"payload": ...}, answered with the card JSON.
type HTTPDecrypter struct {
	httpClient *http.Client
	baseURL    *url.URL
}

// NewHTTPDecrypter creates a decryption service client.
func NewHTTPDecrypter(baseURL string, timeout time.Duration) (*HTTPDecrypter, error) {
	base, httpClient, err := parseBase(baseURL, timeout, nil)
	if err != nil {
		return nil, err
	}
	return &HTTPDecrypter{httpClient: httpClient, baseURL: base}, nil
}

// Decrypt implements Decrypter.
func (d *HTTPDecrypter) Decrypt(ctx context.Context, payload string) (SavedCard, error) {
	body, err := json.Marshal(map[string]string{"payload": payload})
	if err != nil {
		return SavedCard{}, fmt.Errorf("encode payload: %w", err)
	}

	u := *d.baseURL
	u.Path += EndpointDecrypt

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return SavedCard{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		accountRequestsTotal.WithLabelValues(EndpointDecrypt, "network_error").Inc()
		return SavedCard{}, fmt.Errorf("%w: decrypt: %v", ErrBackend, err)
	}
	defer resp.Body.Close()
	accountRequestsTotal.WithLabelValues(EndpointDecrypt, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SavedCard{}, fmt.Errorf("%w: decrypt: status %d", ErrBackend, resp.StatusCode)
	}

	var card SavedCard
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&card); err != nil {
		return SavedCard{}, fmt.Errorf("%w: decrypt: decode card: %v", ErrBackend, err)
	}
	return card, nil
}
