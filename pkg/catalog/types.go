// Package catalog provides the product-catalog query model, the fingerprint
// function used to key caches and queues, and an HTTP client for the
// storefront catalog API.
package catalog

import "encoding/json"

// Category is a top-level storefront category (e.g. "AV").
type Category struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Menu is a second-level navigation entry within a category.
type Menu struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CategoryCode string `json:"category_code"`
}

// Submenu is a third-level navigation entry within a menu.
type Submenu struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	MenuID string `json:"menu_id"`
}

// Product is a single catalog listing.
type Product struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"image_url,omitempty"`
}

// Result is the payload of a successful product query.
type Result struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
}

// envelope is the backend's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Status  int             `json:"status"`
}
