// Package api exposes the catalog, the session and the comment list over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/amp-labs/catalog-fsm/catalog"
	"github.com/amp-labs/catalog-fsm/comments"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/orders"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const compressionLevel = 5

// Sessions is the session surface the API drives.
type Sessions interface {
	State() session.State
	Events() []session.Event
	Profile() (session.Profile, bool)
	Login(ctx context.Context, fragment string) error
	LoginToken(ctx context.Context, token string) error
	Logout(ctx context.Context)
}

// Comments is the comment list surface the API drives.
type Comments interface {
	Thread() comments.Thread
	Request(ctx context.Context)
	Send(ctx context.Context, text string) error
}

// Orders changes order statuses for the signed-in administrator.
type Orders interface {
	SetStatus(ctx context.Context, userID string, orderID orders.ID, status orders.Status) (orders.Change, error)
}

// Deps are the collaborators served by the router. Comments, Orders and Gatherer are optional.
type Deps struct {
	App      string
	Catalog  *catalog.Machine
	Session  Sessions
	Comments Comments
	Orders   Orders
	Gatherer prometheus.Gatherer
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	s := &server{Deps: deps}

	compressor := middleware.NewCompressor(compressionLevel, "application/json", "text/plain")
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(compressor.Handler)

	r.Get("/", s.hello)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.products)
		r.Post("/refresh", s.refreshProducts)
		r.Get("/{category}", s.category)
		r.Get("/{category}/ids", s.categoryIDs)
		r.Get("/{category}/{id}", s.product)
	})

	r.Put("/category/{category}", s.selectCategory)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.session)
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
	})

	if s.Comments != nil {
		r.Route("/comments", func(r chi.Router) {
			r.Get("/", s.thread)
			r.Post("/", s.sendComment)
			r.Post("/refresh", s.refreshComments)
		})
	}

	if s.Orders != nil {
		r.Patch("/admin/order", s.updateOrder)
	}

	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// logRequests tags the request context with the request id and logs each response.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := logger.WithRequestId(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Get(ctx).Debug("served request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
