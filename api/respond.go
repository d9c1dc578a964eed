package api

import (
	"encoding/json"
	"net/http"

	"github.com/amp-labs/catalog-fsm/logger"
)

// envelope mirrors the store API's response shape.
type envelope struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, envelope{OK: true, Data: data})
}

func fail(w http.ResponseWriter, r *http.Request, status int, code string) {
	write(w, r, status, envelope{OK: false, StatusCode: status, ErrorCode: code})
}

func write(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Get(r.Context()).Warn("failed to write response", "error", err)
	}
}
