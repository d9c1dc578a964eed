package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v1/store/p/product/"):
			name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/store/p/product/"), ".col.asj")
			_, _ = fmt.Fprintf(w, `{"ok":true,"meta":{"updated":1},"data":{"%[1]s-1":{"data":{"id":"%[1]s-1","title":{"en":"%[1]s"}}}}}`, name)
		case r.URL.Path == "/api/v1/store/u/user-info.doc.asj":
			if r.Header.Get("User-Token") != "secret" {
				w.WriteHeader(http.StatusForbidden)

				return
			}

			_, _ = fmt.Fprint(w, `{"ok":true,"data":{"id":"u1","fullName":"Ada","permissions":"root"}}`)
		case r.URL.Path == "/api/v0/storage":
			_, _ = fmt.Fprint(w, `{"ok":true,"meta":{"lastUpdated":1},"data":{"1":{"id":"1","type":"text","from":"staff","text":"hi"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testConfig(base string) config.Config {
	return config.Config{
		App:         "catalog-fsm",
		SessionName: "user-machine",
		API:         config.API{Base: base, CommentToken: "token"},
		Fetch:       config.Fetch{Timeout: time.Second, Workers: 2},
		Storage:     config.Storage{Driver: "memory", Codec: "lz4"},
	}
}

func get(t *testing.T, h http.Handler, method, target, body string) map[string]any {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), method, target, strings.NewReader(body)))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func TestBuildServesEverything(t *testing.T) {
	t.Parallel()

	srv := upstream(t)
	stop := shutdown.New()

	a, err := build(t.Context(), testConfig(srv.URL), prometheus.NewRegistry(), stop)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, stop.Shutdown(t.Context(), time.Second)) })

	a.warmUp(t.Context())

	require.Eventually(t, func() bool {
		return string(a.catalog.State()) == "complete"
	}, 2*time.Second, 5*time.Millisecond)

	products := get(t, a.handler, http.MethodGet, "/products/lighting/lighting-1", "")
	assert.Equal(t, true, products["ok"])

	get(t, a.handler, http.MethodPost, "/session/login", `{"fragment":"u1/secret"}`)
	require.Eventually(t, a.session.IsLoggedIn, 2*time.Second, 5*time.Millisecond)

	a.comments.Request(t.Context())
	require.Eventually(t, func() bool {
		return len(a.comments.Thread().Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "bgworker_running_workers")
	assert.Contains(t, rec.Body.String(), "remote_requests_total")
}

func TestBuildRejectsUnknownStorage(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://localhost")
	cfg.Storage.Driver = "etcd"

	_, err := build(t.Context(), cfg, prometheus.NewRegistry(), shutdown.New())
	require.Error(t, err)
}
