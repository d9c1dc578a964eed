package session

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amp-labs/catalog-fsm/bgworker"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/amp-labs/catalog-fsm/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPProfiles(t *testing.T, handler http.Handler) *HTTPProfiles {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pool := bgworker.New(t.Name(), 2)
	t.Cleanup(pool.Stop)

	return NewHTTPProfiles(config.API{Base: srv.URL},
		remote.WithClient(transport.New(transport.WithoutDNSCache())),
		remote.WithPool(pool),
		remote.WithRetry(0, 0),
	)
}

func TestHTTPProfilesUserInfo(t *testing.T) {
	t.Parallel()

	profiles := newHTTPProfiles(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/store/u/user-info.doc.asj", r.URL.Path)

		if r.Header.Get("User-Id") != "u1" || r.Header.Get("User-Token") != "secret" {
			_, _ = io.WriteString(w, `{"ok":false,"errorCode":"user_not_found"}`)

			return
		}

		_, _ = io.WriteString(w, `{"ok":true,"data":{"id":"u1","fullName":"Ada","permissions":["order"]}}`)
	}))

	rsp := <-profiles.FetchProfile(t.Context(), Credentials{UserID: "u1", Token: "secret"})
	require.NoError(t, rsp.Err)
	assert.Equal(t, "Ada", rsp.Value.FullName)
	assert.True(t, rsp.Value.Permissions.Has("order"))

	rsp = <-profiles.FetchProfile(t.Context(), Credentials{UserID: "u1", Token: "wrong"})
	require.ErrorIs(t, rsp.Err, remote.ErrRejected)
}

func TestHTTPProfilesTokenInfo(t *testing.T) {
	t.Parallel()

	profiles := newHTTPProfiles(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/store/t/token-info.doc.asj", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))

		_, _ = io.WriteString(w, `{"ok":true,"data":{"id":"u9"}}`)
	}))

	rsp := <-profiles.FetchProfile(t.Context(), Credentials{Token: "secret"})
	require.NoError(t, rsp.Err)
	assert.Equal(t, "u9", rsp.Value.ID)
}

func TestSessionOverHTTP(t *testing.T) {
	t.Parallel()

	profiles := newHTTPProfiles(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("User-Token") {
		case "secret":
			_, _ = io.WriteString(w, `{"ok":true,"data":{"id":"u1","permissions":"root"}}`)
		case "down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))

	s := newSession(t, storage.NewMemory(), profiles)

	require.NoError(t, s.Login(t.Context(), "#u1/down"))
	waitFor(t, s, StateLoginFailed)

	require.NoError(t, s.Login(t.Context(), "#u1/nope"))
	waitFor(t, s, StateLoginInvalid)

	require.NoError(t, s.Login(t.Context(), "#u1/secret"))
	waitFor(t, s, StateLoggedIn)
	assert.True(t, s.IsSuperAdmin())
}
