package preload

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/rs/zerolog"
)

// MenuState reports the visible categories and which of their menu lists
// have finished loading.
type MenuState interface {
	// Categories returns the visible categories. Empty until known.
	Categories() []catalog.Category

	// Menus returns the menu list of a category and whether it has loaded.
	Menus(category string) ([]catalog.Menu, bool)
}

// MenuLister loads the top two levels of the navigation tree.
type MenuLister interface {
	Categories(ctx context.Context) ([]catalog.Category, error)
	Menus(ctx context.Context, category string) ([]catalog.Menu, error)
}

// MenuDirectory is a MenuState backed by the catalog API. Load fills it; a
// host that loads menus on its own can push them with SetCategories and
// SetMenus instead.
type MenuDirectory struct {
	lister MenuLister
	fanout FanOutConfig
	logger zerolog.Logger

	mu         sync.RWMutex
	categories []catalog.Category
	menus      map[string][]catalog.Menu
}

// NewMenuDirectory creates an empty directory. lister may be nil when menus
// are pushed by the host.
func NewMenuDirectory(lister MenuLister, cfg FanOutConfig, logger zerolog.Logger) *MenuDirectory {
	return &MenuDirectory{
		lister: lister,
		fanout: cfg,
		logger: logger,
		menus:  make(map[string][]catalog.Menu),
	}
}

// Load fetches the categories, then every category's menu list in parallel.
// A category whose menus fail to load stays unloaded; only a failure to list
// the categories is returned.
func (d *MenuDirectory) Load(ctx context.Context) error {
	if d.lister == nil {
		return fmt.Errorf("menu directory has no lister")
	}

	categories, err := d.lister.Categories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	d.SetCategories(categories)

	outcomes := FanOut(ctx, d.fanout, d.logger, categories,
		func(ctx context.Context, c catalog.Category) ([]catalog.Menu, error) {
			return d.lister.Menus(ctx, c.Code)
		})

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			d.logger.Warn().
				Err(o.Err).
				Str("category", o.Item.Code).
				Msg("Menu list failed to load")
			continue
		}
		d.SetMenus(o.Item.Code, o.Value)
	}

	d.logger.Info().
		Int("categories", len(categories)).
		Int("failed", failed).
		Msg("Menu directory loaded")

	return nil
}

// SetCategories replaces the visible categories.
func (d *MenuDirectory) SetCategories(categories []catalog.Category) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categories = append([]catalog.Category(nil), categories...)
}

// SetMenus marks the menu list of category as loaded.
func (d *MenuDirectory) SetMenus(category string, menus []catalog.Menu) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if menus == nil {
		menus = []catalog.Menu{}
	}
	d.menus[category] = menus
}

// Categories implements MenuState.
func (d *MenuDirectory) Categories() []catalog.Category {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]catalog.Category(nil), d.categories...)
}

// Menus implements MenuState.
func (d *MenuDirectory) Menus(category string) ([]catalog.Menu, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	menus, ok := d.menus[category]
	return menus, ok
}
