package gmailbox

import (
	"net/http"
	"time"

	"github.com/playlistbot/playlistbot/logger"
)

// loggingTransport logs method, path, status and latency of Gmail API calls
// at debug level. Bodies are not logged: they carry mail content.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	rt := t.base
	if rt == nil {
		rt = http.DefaultTransport
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		logger.Debug("Gmail: request failed", "method", req.Method, "path", req.URL.Path,
			"error", err, "elapsed", time.Since(start))
		return resp, err
	}

	logger.Debug("Gmail: request", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}
