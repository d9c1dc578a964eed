package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/google/uuid"
)

// NewLoggingTransport wraps transport (http.DefaultTransport if nil) so every request,
// response and transport error is logged with a shared correlation id. The logger is
// taken from the request context, so machine and subsystem attributes carry through.
func NewLoggingTransport(transport http.RoundTripper) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &loggingTransport{transport: transport}
}

type loggingTransport struct {
	transport http.RoundTripper
}

var _ http.RoundTripper = (*loggingTransport)(nil)

func (l *loggingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	uuid7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("error generating UUID: %w", err)
	}

	correlationID := uuid7.String()
	log := logger.Get(request.Context()).With(
		slog.String("correlationId", correlationID),
		slog.String("method", request.Method),
		slog.String("url", redactedURL(request)),
	)

	log.Debug("http request")

	start := time.Now()

	response, err := l.transport.RoundTrip(request)
	if err != nil {
		log.Error("http request failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))

		return response, err
	}

	log.Debug("http response",
		slog.Int("status", response.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	return response, nil
}

// redactedURL drops the query string, which carries user tokens.
func redactedURL(request *http.Request) string {
	if request.URL == nil {
		return ""
	}

	u := *request.URL
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}

	return u.String()
}
