// Package testutil provides testing utilities for the storefront prefetch layer.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
)

// MockResponse defines the behavior for a mock catalog endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// ProductsFunc decides the response for a product query. call is the 1-based
// number of requests seen so far for the query's fingerprint.
type ProductsFunc func(q catalog.FilterQuery, call int) MockResponse

// MockCatalog is a configurable mock catalog API for testing.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	products   ProductsFunc
	categories []catalog.Category
	menus      map[string][]catalog.Menu
	submenus   map[string][]catalog.Submenu

	// Tracking
	requestCount int
	productCalls map[string][]time.Time
	inFlight     int
	maxInFlight  int
}

// NewMockCatalog creates a new mock catalog server.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		menus:        make(map[string][]catalog.Menu),
		submenus:     make(map[string][]catalog.Submenu),
		productCalls: make(map[string][]time.Time),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.inFlight++
		if mock.inFlight > mock.maxInFlight {
			mock.maxInFlight = mock.inFlight
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.productCalls = make(map[string][]time.Time)
	m.maxInFlight = 0
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetProductsFunc configures dynamic product query responses.
func (m *MockCatalog) SetProductsFunc(fn ProductsFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = fn
}

// SetTree configures the category → menu → submenu hierarchy. submenus is
// keyed by menu ID.
func (m *MockCatalog) SetTree(categories []catalog.Category, menus map[string][]catalog.Menu, submenus map[string][]catalog.Submenu) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = categories
	m.menus = menus
	m.submenus = submenus
}

// RequestCount returns the number of requests made to the server.
func (m *MockCatalog) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ProductRequests returns the number of product queries seen for a fingerprint.
func (m *MockCatalog) ProductRequests(fingerprint string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.productCalls[fingerprint])
}

// ProductCallTimes returns when each product query for a fingerprint arrived.
func (m *MockCatalog) ProductCallTimes(fingerprint string) []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.productCalls[fingerprint]...)
}

// TotalProductRequests returns the number of product queries across all fingerprints.
func (m *MockCatalog) TotalProductRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, calls := range m.productCalls {
		total += len(calls)
	}
	return total
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockCatalog) MaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

// defaultHandler serves the configured tree and product responses.
func (m *MockCatalog) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case catalog.EndpointProducts:
		q, err := catalog.ParseFilterQuery(r.URL.Query())
		if err != nil {
			writeResponse(w, MockResponse{StatusCode: http.StatusBadRequest, Body: `{"success":false,"message":"bad query"}`})
			return
		}
		fp := q.Fingerprint()

		m.mu.Lock()
		m.productCalls[fp] = append(m.productCalls[fp], time.Now())
		call := len(m.productCalls[fp])
		fn := m.products
		m.mu.Unlock()

		if fn != nil {
			writeResponse(w, fn(q, call))
			return
		}
		writeResponse(w, NewProductsResponse(q))

	case catalog.EndpointCategories:
		m.mu.RLock()
		categories := m.categories
		m.mu.RUnlock()
		writeResponse(w, NewSuccessResponse(categories))

	case catalog.EndpointMenus:
		m.mu.RLock()
		menus, ok := m.menus[r.URL.Query().Get(catalog.FieldCategory)]
		m.mu.RUnlock()
		if !ok {
			menus = []catalog.Menu{}
		}
		writeResponse(w, NewSuccessResponse(menus))

	case catalog.EndpointSubmenus:
		m.mu.RLock()
		submenus, ok := m.submenus[r.URL.Query().Get(catalog.FieldMenu)]
		m.mu.RUnlock()
		if !ok {
			submenus = []catalog.Submenu{}
		}
		writeResponse(w, NewSuccessResponse(submenus))

	default:
		writeResponse(w, MockResponse{StatusCode: http.StatusNotFound, Body: `{"success":false,"message":"not found"}`})
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewSuccessResponse wraps data in a success envelope.
func NewSuccessResponse(data any) MockResponse {
	payload, err := json.Marshal(map[string]any{
		"success": true,
		"data":    data,
	})
	if err != nil {
		panic(err)
	}
	return MockResponse{StatusCode: http.StatusOK, Body: string(payload)}
}

// NewProductsResponse returns a one-product page derived from the query, so
// responses for different fingerprints are distinguishable.
func NewProductsResponse(q catalog.FilterQuery) MockResponse {
	return NewSuccessResponse(catalog.Result{
		Products: []catalog.Product{{SKU: q.Fingerprint(), Name: "Product for " + q.Fingerprint(), Price: 100}},
		Total:    1,
		Page:     q.Page,
	})
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"success":false,"message":"Too Many Requests","status":429}`,
		Headers:    map[string]string{"Retry-After": "2"},
	}
}

// NewRateLimitEnvelope creates a 200 response whose envelope signals overload.
func NewRateLimitEnvelope() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":false,"message":"Error: too many requests, slow down"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"success":false,"message":"Internal server error"}`,
	}
}

// NewMalformedResponse creates a 200 response that is not a valid envelope.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
	}
}
