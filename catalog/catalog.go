// Package catalog wires the product catalog: three product collections, one per
// category, aggregated into a single machine and mirrored into a persisted list store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amp-labs/catalog-fsm/aggregate"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/remote"
)

// MachineName is the diagnostic name of the product machine.
const MachineName = "product-machine"

// ErrMissingSource is returned by NewMachine when a category has no source.
var ErrMissingSource = errors.New("missing product source")

// Category groups products; each category is loaded from its own collection.
type Category string

const (
	Tile       Category = "tile"
	Lighting   Category = "lighting"
	Connection Category = "connection"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{Tile, Lighting, Connection}
}

// ParseCategory accepts a category name, ignoring case and surrounding blanks.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))

	switch c {
	case Tile, Lighting, Connection:
		return c, true
	default:
		return "", false
	}
}

// Photo references an image on the CDN.
type Photo struct {
	ID   string         `json:"id"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Product is one sellable item.
type Product struct {
	ID          string            `json:"id"`
	Title       map[string]string `json:"title"`
	Image       Photo             `json:"image"`
	MinOrder    float64           `json:"minOrder"`
	CountInBox  float64           `json:"countInBox"`
	PriceFactor float64           `json:"priceFactor"`
	PriceA      float64           `json:"priceA"`
	PriceB      float64           `json:"priceB"`
	PriceC      float64           `json:"priceC"`
	PriceD      float64           `json:"priceD"`
}

// TitleIn returns the title in lang, then in each fallback language, then the id.
func (p Product) TitleIn(lang string, fallback ...string) string {
	for _, l := range append([]string{lang}, fallback...) {
		if t := p.Title[l]; t != "" {
			return t
		}
	}

	return p.ID
}

// Source is a product collection.
type Source = remote.Source[Product, uint64]

// Machine is the aggregated product machine.
type Machine = aggregate.Machine[Category, Product, uint64]

// NewMachine aggregates one source per category, tile first and selected.
func NewMachine(sources map[Category]Source, opts ...aggregate.Option[Category]) (*Machine, error) {
	named := make([]aggregate.Named[Category, Product, uint64], 0, len(sources))

	for _, c := range Categories() {
		src, ok := sources[c]
		if !ok || src == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, c)
		}

		named = append(named, aggregate.Named[Category, Product, uint64]{Key: c, Source: src})
	}

	return aggregate.New(MachineName, named, append([]aggregate.Option[Category]{aggregate.WithSelected(Tile)}, opts...)...)
}

// SelectFromHash applies a location hash such as "#lighting". An empty or unknown hash
// selects tile. Subscribers are re-notified either way so views re-render.
func SelectFromHash(ctx context.Context, m *Machine, hash string) Category {
	c, ok := ParseCategory(strings.TrimPrefix(hash, "#"))
	if !ok {
		c = Tile
	}

	m.Select(ctx, c)

	return c
}

// NewSources builds the HTTP contexts of every category from the API configuration.
func NewSources(api config.API, opts ...remote.Option) (map[Category]Source, error) {
	sources := make(map[Category]Source, len(Categories()))

	for _, c := range Categories() {
		ctxOpts := append([]remote.Option{remote.WithEnvelope()}, opts...)

		src, err := remote.NewServerContext[Product]("product-list-"+string(c)+"-request", api.ProductList(string(c)), ctxOpts...)
		if err != nil {
			return nil, err
		}

		sources[c] = src
	}

	return sources, nil
}
