package parley

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// loggingTransport logs every request/response pair under a generated
// request id. Bodies are not logged; they may hold message content.
type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := uuid.NewString()
	t.logger.Debug("api request",
		"id", id,
		"method", req.Method,
		"url", req.URL.String(),
	)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		t.logger.Warn("api request failed",
			"id", id,
			"method", req.Method,
			"url", req.URL.String(),
			"elapsed", elapsed,
			"error", err,
		)
		return nil, err
	}

	t.logger.Debug("api response",
		"id", id,
		"status", resp.StatusCode,
		"elapsed", elapsed,
	)
	return resp, nil
}
