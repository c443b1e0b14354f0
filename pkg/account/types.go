// Package account caches authenticated per-user data: saved payment cards
// and promotional eligibility.
//
// Records live for five minutes and are only served to the user that owns
// them; changing the session user clears everything. Fetch failures never
// block the caller: they return an empty (cards) or absent (eligibility)
// value alongside the error so the UI can render a degraded state.
package account

import "encoding/json"

// EncryptedCard is a saved card as returned by the account backend.
type EncryptedCard struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// SavedCard is a decrypted saved payment card.
type SavedCard struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	Holder   string `json:"holder"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// EligibilityRequest asks which promotions apply to a basket paid with a set
// of cards.
type EligibilityRequest struct {
	UserID  string   `json:"userId"`
	CardIDs []string `json:"cardIds"`
	SKUs    []string `json:"skus"`
	Total   float64  `json:"total"`
}

// Key returns the request's secondary cache key.
func (r EligibilityRequest) Key() string {
	return EligibilityKey(r.CardIDs, r.SKUs, r.Total)
}

// Promotion is a promotion a card qualifies for.
type Promotion struct {
	ID           string  `json:"id"`
	CardID       string  `json:"cardId"`
	Description  string  `json:"description"`
	Discount     float64 `json:"discount"`
	Installments int     `json:"installments,omitempty"`
}

// Eligibility is the promotional eligibility of a basket. The zero value
// means absent.
type Eligibility struct {
	Eligible   bool        `json:"eligible"`
	Promotions []Promotion `json:"promotions"`
}

// envelope is the account backend's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}
