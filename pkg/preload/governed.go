package preload

import (
	"context"
	"fmt"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/ratelimit"
)

// DirectoryAPI lists every level of the navigation tree.
type DirectoryAPI interface {
	MenuLister
	SubmenuLister
}

// GovernedLister paces navigation listings through the shared governor so
// that they respect cooldown and spacing like product fetches, and reports
// rate-limit responses back to it.
type GovernedLister struct {
	api      DirectoryAPI
	governor *ratelimit.Governor
}

// NewGovernedLister wraps api with governor.
func NewGovernedLister(api DirectoryAPI, governor *ratelimit.Governor) (*GovernedLister, error) {
	if api == nil || governor == nil {
		return nil, fmt.Errorf("api and governor are required")
	}
	return &GovernedLister{api: api, governor: governor}, nil
}

// Categories lists the top-level categories.
func (l *GovernedLister) Categories(ctx context.Context) ([]catalog.Category, error) {
	return governed(ctx, l, func() ([]catalog.Category, error) {
		return l.api.Categories(ctx)
	})
}

// Menus lists the menus of a category.
func (l *GovernedLister) Menus(ctx context.Context, category string) ([]catalog.Menu, error) {
	return governed(ctx, l, func() ([]catalog.Menu, error) {
		return l.api.Menus(ctx, category)
	})
}

// Submenus lists the submenus of a menu.
func (l *GovernedLister) Submenus(ctx context.Context, category, menu string) ([]catalog.Submenu, error) {
	return governed(ctx, l, func() ([]catalog.Submenu, error) {
		return l.api.Submenus(ctx, category, menu)
	})
}

func governed[T any](ctx context.Context, l *GovernedLister, call func() (T, error)) (T, error) {
	if err := l.governor.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}

	out, err := call()
	if catalog.IsRateLimited(err) {
		l.governor.RecordRateLimit()
	}
	return out, err
}
