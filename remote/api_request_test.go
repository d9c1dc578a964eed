package remote

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
}

func TestAPIRequestDeliversOnce(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.Header.Get("User-Id"))
		_, _ = io.WriteString(w, `{"ok":true,"meta":{"updated":1},"data":{"id":"u1","fullName":"Ada"}}`)
	}))
	t.Cleanup(srv.Close)

	req := NewAPIRequest[profile]("user-info", srv.URL, testOptions(t)...)

	ch := req.Send(t.Context(), Params{Header: http.Header{"User-Id": {"u1"}}})

	rsp, ok := <-ch
	require.True(t, ok)
	require.NoError(t, rsp.Err)
	assert.Equal(t, profile{ID: "u1", FullName: "Ada"}, rsp.Value)

	_, ok = <-ch
	assert.False(t, ok, "channel is closed after the single response")
}

func TestAPIRequestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "forbidden",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
			want:    ErrUnauthorized,
		},
		{
			name: "rejected",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"ok":false,"errorCode":"user_not_found"}`)
			},
			want: ErrRejected,
		},
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    ErrUnexpectedStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := NewAPIRequest[profile]("errors-"+tt.name, srv.URL, testOptions(t)...).Do(t.Context(), Params{})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAPIRequestPatchBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "u1", r.URL.Query().Get("storage"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])

		_, _ = io.WriteString(w, `{"ok":true,"data":{"id":"1","text":"hello"}}`)
	}))
	t.Cleanup(srv.Close)

	req := NewAPIRequest[map[string]string]("send", srv.URL, testOptions(t, WithMethod(http.MethodPatch))...)

	got, err := req.Do(t.Context(), Params{
		Query: map[string][]string{"storage": {"u1"}},
		Body:  []byte(`{"text":"hello"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "1", got["id"])
}

func TestFetchErrorsCarryRequestAttributes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := NewAPIRequest[profile]("missing", srv.URL, testOptions(t)...).Do(t.Context(), Params{})
	require.ErrorIs(t, err, ErrUnexpectedStatus)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	attrs := map[string]string{}
	for _, attr := range logger.ErrorAttrs(err) {
		attrs[attr.Key] = attr.Value.String()
	}

	assert.Equal(t, map[string]string{
		"method": http.MethodGet,
		"url":    srv.URL,
		"status": "404",
	}, attrs)
}
