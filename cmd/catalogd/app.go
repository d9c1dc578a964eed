package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/amp-labs/catalog-fsm/api"
	"github.com/amp-labs/catalog-fsm/bgworker"
	"github.com/amp-labs/catalog-fsm/catalog"
	"github.com/amp-labs/catalog-fsm/comments"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/orders"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/amp-labs/catalog-fsm/shutdown"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/amp-labs/catalog-fsm/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	dnsRefreshInterval = 5 * time.Minute
	readHeaderTimeout  = 10 * time.Second
)

// app is the process's object graph. Every machine is built once here and injected.
type app struct {
	catalog  *catalog.Machine
	products *catalog.ListStore
	session  *session.Session
	comments *comments.List
	handler  http.Handler
}

func build(ctx context.Context, cfg config.Config, reg *prometheus.Registry, stop *shutdown.Coordinator) (*app, error) {
	store, closer, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	stop.BeforeShutdown("storage", shutdown.Closer(closer.Close))

	pool := bgworker.New("remote", cfg.Fetch.Workers)
	stop.BeforeShutdown("worker pool", func(context.Context) error {
		pool.Stop()

		return nil
	})

	if err := registerAll(reg, pool.Collectors()...); err != nil {
		return nil, err
	}

	base := append(remote.FromConfig(cfg.Fetch),
		remote.WithClient(transport.New(transport.WithTimeout(cfg.Fetch.Timeout))),
		remote.WithPool(pool),
	)

	sources, err := catalog.NewSources(cfg.API, append(base, remote.WithCache(store))...)
	if err != nil {
		return nil, err
	}

	products, err := catalog.NewMachine(sources)
	if err != nil {
		return nil, err
	}

	products.Start(ctx)
	stop.BeforeShutdown("product machine", func(context.Context) error {
		products.Close()

		return nil
	})

	list, err := catalog.NewListStore(ctx, products, store)
	if err != nil {
		return nil, err
	}

	stop.BeforeShutdown("product list", func(context.Context) error {
		list.Close()

		return nil
	})

	sess, err := session.New(ctx, cfg.SessionName, store, session.NewHTTPProfiles(cfg.API, base...))
	if err != nil {
		return nil, err
	}

	commentContext, err := comments.NewContext(cfg.API, base...)
	if err != nil {
		return nil, err
	}

	thread, err := comments.NewList(ctx, commentContext, comments.NewSender(cfg.API, base...), sess, store)
	if err != nil {
		return nil, err
	}

	stop.BeforeShutdown("comment list", func(context.Context) error {
		thread.Close()

		return nil
	})

	a := &app{
		catalog:  products,
		products: list,
		session:  sess,
		comments: thread,
		handler: api.NewRouter(api.Deps{
			App:      cfg.App,
			Catalog:  products,
			Session:  sess,
			Comments: thread,
			Orders:   orders.NewUpdater(cfg.API, sess, base...),
			Gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		}),
	}

	return a, nil
}

// warmUp starts the first loads.
func (a *app) warmUp(ctx context.Context) {
	a.catalog.Request(ctx)

	if a.session.IsLoggedIn() {
		a.comments.Request(ctx)
	}
}

func registerAll(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	return nil
}

// refreshDNS keeps the shared DNS cache warm until ctx is done.
func refreshDNS(ctx context.Context) {
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transport.RefreshDNS()
		}
	}
}
