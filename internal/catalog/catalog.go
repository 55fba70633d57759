// Package catalog holds the read-side handle over the distinct
// city/district/product_type/size tuples products are indexed by. It
// replaces the kind of global mutable module state the design notes flag
// (`original_source/utils.py`'s `load_all_data()`): one handle, built at
// boot and refreshed whenever an admin mutates the catalog, with no
// package-level state of its own.
package catalog

import (
	"context"
	"sync"

	"github.com/dropbot/backend/internal/repository"
)

// Catalog is an in-process snapshot of the browse tree a customer walks
// through: city -> district -> product type -> size. It never touches the
// database itself; Refresh re-derives it from ProductRepository's distinct
// queries.
type Catalog struct {
	repo *repository.ProductRepository

	mu          sync.RWMutex
	cities      []string
	districts   map[string][]string   // city -> districts
	types       map[string][]string   // "city|district" -> product types
}

// New constructs an empty Catalog; callers should call Refresh once before
// serving traffic.
func New(repo *repository.ProductRepository) *Catalog {
	return &Catalog{
		repo:      repo,
		districts: make(map[string][]string),
		types:     make(map[string][]string),
	}
}

// Refresh re-derives the whole tree from the current product rows. It is
// called once at boot and again after every admin catalog write (product
// create/delete/availability change) — cheap enough (a handful of
// `SELECT DISTINCT`s) that there is no need for incremental maintenance.
func (c *Catalog) Refresh(ctx context.Context) error {
	cities, err := c.repo.DistinctCities(ctx)
	if err != nil {
		return err
	}

	districts := make(map[string][]string, len(cities))
	types := make(map[string][]string)
	for _, city := range cities {
		ds, err := c.repo.DistinctDistricts(ctx, city)
		if err != nil {
			return err
		}
		districts[city] = ds

		for _, district := range ds {
			ts, err := c.repo.DistinctProductTypes(ctx, city, district)
			if err != nil {
				return err
			}
			types[city+"|"+district] = ts
		}
	}

	c.mu.Lock()
	c.cities = cities
	c.districts = districts
	c.types = types
	c.mu.Unlock()
	return nil
}

// Cities returns the cities with at least one purchasable drop.
func (c *Catalog) Cities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.cities...)
}

// Districts returns the districts of city with at least one purchasable
// drop.
func (c *Catalog) Districts(city string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.districts[city]...)
}

// ProductTypes returns the product types available in (city, district).
func (c *Catalog) ProductTypes(city, district string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.types[city+"|"+district]...)
}

// Sizes returns the distinct sizes currently purchasable for
// (city, district, productType), read straight from the repository since
// the size/price breakdown is the screen a customer actually buys from and
// must reflect live stock, not the cached browse tree.
func (c *Catalog) Sizes(ctx context.Context, city, district, productType string) ([]string, error) {
	products, err := c.repo.ListByCityDistrictType(ctx, city, district, productType)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(products))
	var sizes []string
	for _, p := range products {
		if !seen[p.Size] {
			seen[p.Size] = true
			sizes = append(sizes, p.Size)
		}
	}
	return sizes, nil
}
