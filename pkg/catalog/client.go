package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for catalog API calls.
var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_requests_total",
		Help: "Total catalog API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	catalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_request_duration_seconds",
		Help:    "Catalog API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	catalogErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_errors_total",
		Help: "Total catalog API errors by class",
	}, []string{"class"})
)

// Catalog API endpoints.
const (
	EndpointProducts   = "/catalog/products"
	EndpointCategories = "/catalog/categories"
	EndpointMenus      = "/catalog/menus"
	EndpointSubmenus   = "/catalog/submenus"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 8 << 20

var tracer = otel.Tracer("github.com/Sternrassler/storefront-prefetch/pkg/catalog")

// Client calls the storefront catalog API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalog API, e.g. "https://api.example.com".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "storefront-prefetch/0.1.0",
		Timeout:   15 * time.Second,
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		config:     cfg,
		logger:     logging.NewLogger("catalog-client"),
	}, nil
}

// Products runs a filtered product query.
func (c *Client) Products(ctx context.Context, q FilterQuery) (*Result, error) {
	var result Result
	if err := c.get(ctx, EndpointProducts, q.Values(), &result); err != nil {
		return nil, err
	}
	if result.Products == nil {
		result.Products = []Product{}
	}
	return &result, nil
}

// Categories lists the visible storefront categories.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := c.get(ctx, EndpointCategories, nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// Menus lists the menus of a category.
func (c *Client) Menus(ctx context.Context, category string) ([]Menu, error) {
	var menus []Menu
	params := url.Values{FieldCategory: []string{category}}
	if err := c.get(ctx, EndpointMenus, params, &menus); err != nil {
		return nil, err
	}
	return menus, nil
}

// Submenus lists the submenus of a menu.
func (c *Client) Submenus(ctx context.Context, category, menu string) ([]Submenu, error) {
	var submenus []Submenu
	params := url.Values{
		FieldCategory: []string{category},
		FieldMenu:     []string{menu},
	}
	if err := c.get(ctx, EndpointSubmenus, params, &submenus); err != nil {
		return nil, err
	}
	return submenus, nil
}

// get performs a GET request and decodes the envelope's data into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) (err error) {
	ctx, span := tracer.Start(ctx, "catalog.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("catalog.endpoint", endpoint)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(ClassOf(err)))
		}
		span.End()
	}()

	startTime := time.Now()
	defer func() {
		catalogRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	u := *c.baseURL
	u.Path += endpoint
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", u.RawQuery).
		Msg("Executing catalog request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		catalogRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return c.fail(endpoint, &Error{
			Class:   classifyTransport(err),
			Message: "request failed",
			Err:     err,
		})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	catalogRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.fail(endpoint, &Error{
			Class:      classifyTransport(err),
			StatusCode: resp.StatusCode,
			Message:    "read body",
			Err:        err,
		})
	}

	return c.decode(endpoint, resp.StatusCode, body, out)
}

// decode validates the envelope and unmarshals its data.
func (c *Client) decode(endpoint string, status int, body []byte, out any) error {
	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if status < 200 || status > 299 {
		message := http.StatusText(status)
		if decodeErr == nil && env.Message != "" {
			message = env.Message
		}
		return c.fail(endpoint, &Error{
			Class:      classifyStatus(status, message),
			StatusCode: status,
			Message:    message,
		})
	}

	if decodeErr != nil {
		return c.fail(endpoint, &Error{
			Class:      ErrorClassMalformed,
			StatusCode: status,
			Message:    "decode envelope",
			Err:        decodeErr,
		})
	}

	if !env.Success {
		signal := env.Status
		if signal == 0 {
			signal = status
		}
		return c.fail(endpoint, &Error{
			Class:      classifyStatus(signal, env.Message),
			StatusCode: signal,
			Message:    env.Message,
		})
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return c.fail(endpoint, &Error{
			Class:      ErrorClassMalformed,
			StatusCode: status,
			Message:    "missing data",
		})
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return c.fail(endpoint, &Error{
			Class:      ErrorClassMalformed,
			StatusCode: status,
			Message:    "decode data",
			Err:        err,
		})
	}

	return nil
}

// fail records and logs a classified error.
func (c *Client) fail(endpoint string, err *Error) error {
	catalogErrorsTotal.WithLabelValues(string(err.Class)).Inc()

	event := c.logger.Warn()
	if err.Class == ErrorClassRateLimit {
		event = c.logger.Info()
	}
	event.
		Str("endpoint", endpoint).
		Int("status", err.StatusCode).
		Str("error_class", string(err.Class)).
		Msg("Catalog request error")

	return err
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
