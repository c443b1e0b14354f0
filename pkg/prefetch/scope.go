package prefetch

import (
	"github.com/Sternrassler/storefront-prefetch/pkg/cache"
	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
)

// Scope selects the cache entries removed by InvalidateCache.
type Scope struct {
	name  string
	match cache.Predicate
}

// String returns the scope label used in logs.
func (s Scope) String() string {
	return s.name
}

// ScopeAll matches every entry.
func ScopeAll() Scope {
	return Scope{
		name:  "all",
		match: func(catalog.FilterQuery) bool { return true },
	}
}

// ScopeCategory matches every entry of a category, at any depth.
func ScopeCategory(code string) Scope {
	return Scope{
		name:  "category:" + code,
		match: func(q catalog.FilterQuery) bool { return q.Category == code },
	}
}

// ScopeQuery matches the single entry for q.
func ScopeQuery(q catalog.FilterQuery) Scope {
	fingerprint := q.Fingerprint()
	return Scope{
		name:  "query:" + fingerprint,
		match: func(other catalog.FilterQuery) bool { return other.Fingerprint() == fingerprint },
	}
}

// ScopeFunc matches the entries selected by pred.
func ScopeFunc(pred cache.Predicate) Scope {
	return Scope{name: "predicate", match: pred}
}
