package session

import (
	"context"
	"net/http"
	"net/url"

	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/remote"
)

// HTTPProfiles fetches profiles from the store API.
type HTTPProfiles struct {
	userInfo  *remote.APIRequest[Profile]
	tokenInfo *remote.APIRequest[Profile]
}

var _ ProfileFetcher = (*HTTPProfiles)(nil)

// NewHTTPProfiles builds a fetcher against api. Options apply to both endpoints.
func NewHTTPProfiles(api config.API, opts ...remote.Option) *HTTPProfiles {
	return &HTTPProfiles{
		userInfo:  remote.NewAPIRequest[Profile]("user-info-request", api.UserInfo(), opts...),
		tokenInfo: remote.NewAPIRequest[Profile]("token-info-request", api.TokenInfo(), opts...),
	}
}

// FetchProfile asks user-info for the credentials' owner, or token-info when only a
// token is known.
func (h *HTTPProfiles) FetchProfile(ctx context.Context, creds Credentials) <-chan remote.Response[Profile] {
	if creds.UserID == "" {
		return h.tokenInfo.Send(ctx, remote.Params{Query: url.Values{"token": {creds.Token}}})
	}

	return h.userInfo.Send(ctx, remote.Params{Header: http.Header{
		"User-Id":    {creds.UserID},
		"User-Token": {creds.Token},
	}})
}
