package catalog

import (
	"context"

	"github.com/amp-labs/catalog-fsm/aggregate"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/amp-labs/catalog-fsm/store"
)

// ProductList is the presentation copy of the product machine.
type ProductList struct {
	LoadingState aggregate.State                 `json:"loadingState"`
	Category     Category                        `json:"category"`
	Data         map[Category]map[string]Product `json:"data"`
	Lists        map[Category][]Product          `json:"lists"`
}

// ListStore mirrors the product machine. Data is copied when the machine completes or
// serves a cached copy, and persisted on completion.
type ListStore struct {
	*store.Store[ProductList]

	machine     *Machine
	ctx         context.Context //nolint:containedctx // used by the machine subscription
	unsubscribe func()
}

// NewListStore loads the persisted list, if any, and starts mirroring m.
func NewListStore(ctx context.Context, m *Machine, backend storage.Store) (*ListStore, error) {
	s, err := store.New[ProductList]("productList", 0, backend)
	if err != nil {
		return nil, err
	}

	if _, err := s.Load(ctx, false); err != nil {
		logger.Get(ctx).Warn("ignoring persisted product list", "error", err)
	}

	ls := &ListStore{
		Store:   s,
		machine: m,
		ctx:     context.WithoutCancel(ctx),
	}

	ls.unsubscribe = store.Mirror[aggregate.State](m, ls.onStateChange)

	return ls, nil
}

// Request asks the machine to load or reload.
func (ls *ListStore) Request(ctx context.Context) {
	ls.machine.Request(ctx)
}

// Get looks a product up in the machine's baked data.
func (ls *ListStore) Get(category Category, id string) (Product, bool) {
	return ls.machine.Get(category, id)
}

// Selected returns the products of the selected category.
func (ls *ListStore) Selected() (Category, []Product) {
	c := ls.machine.Selected()

	return c, ls.machine.List(c)
}

// Close stops mirroring.
func (ls *ListStore) Close() {
	ls.unsubscribe()
}

func (ls *ListStore) onStateChange(state aggregate.State) {
	snap := ls.machine.Snapshot()

	ls.Update(func(p *ProductList) {
		p.LoadingState = state
		p.Category = snap.Selected

		if state == aggregate.StateComplete || state == aggregate.StateReloading {
			p.Data = snap.Records
			p.Lists = snap.Lists
		}
	})

	if state != aggregate.StateComplete {
		return
	}

	if err := ls.Save(ls.ctx); err != nil {
		logger.Get(ls.ctx).Warn("failed to persist product list", "error", err)
	}
}
