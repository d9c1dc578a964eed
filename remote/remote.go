// Package remote implements the asynchronous, cacheable data sources the aggregating
// machines are built from, plus single-shot API requests.
//
// A source progresses through its own small lifecycle (initial, loading, reloading,
// complete, failed, reloadingFailed) and notifies subscribers on every change. The
// payload it exposes is an ordered collection of records plus an opaque revision
// marker that changes whenever the underlying data does.
package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// State is the lifecycle state of a source.
type State string

const (
	StateInitial         State = "initial"
	StateLoading         State = "loading"
	StateReloading       State = "reloading"
	StateComplete        State = "complete"
	StateFailed          State = "failed"
	StateReloadingFailed State = "reloadingFailed"
)

// Failed reports whether s is one of the failure states.
func (s State) Failed() bool {
	return s == StateFailed || s == StateReloadingFailed
}

// Event drives a source's lifecycle.
type Event string

const (
	EventRequest    Event = "request"
	EventCacheFound Event = "cacheFound"
	EventComplete   Event = "complete"
	EventFailed     Event = "failed"
)

var (
	// ErrUnauthorized is returned when the server answers 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRejected is returned when the server answers with "ok": false.
	ErrRejected = errors.New("request rejected by server")

	// ErrMalformedResponse is returned when a body is not the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnexpectedStatus is returned for non-2xx answers other than 401/403.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Record is one item of a payload, keyed by its id.
type Record[R any] struct {
	ID    string `json:"id"`
	Value R      `json:"value"`
}

// Payload is the last materialized data of a source, in server order.
type Payload[R any, V comparable] struct {
	Revision V           `json:"revision"`
	Records  []Record[R] `json:"records"`
}

// Source is the contract an aggregator consumes.
type Source[R any, V comparable] interface {
	// Request starts a fetch. It never blocks on the network.
	Request(ctx context.Context)
	State() State
	// Subscribe registers fn for every state change and returns an idempotent unsubscribe.
	Subscribe(fn func(State)) (unsubscribe func())
	// Payload returns the last materialized payload, if any.
	Payload() (Payload[R, V], bool)
}

// Params customizes a single request.
type Params struct {
	Query  url.Values
	Header http.Header
	Body   []byte
}

func (p Params) clone() Params {
	out := Params{Body: p.Body}

	if p.Query != nil {
		out.Query = make(url.Values, len(p.Query))
		for k, v := range p.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}

	if p.Header != nil {
		out.Header = p.Header.Clone()
	}

	return out
}
