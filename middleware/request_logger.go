package middleware

import (
	"net/url"
	"time"

	"github.com/AnTengye/contractsign/pkg/logger"
	"github.com/gin-gonic/gin"
)

// redactedParams hold bearer-like values that must not reach the logs
var redactedParams = []string{"linkToken", "link"}

// RequestLogger logs completed requests. Paths in skip (health probes) are
// not logged.
func RequestLogger(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQuery(c.Request.URL.Query())

		c.Next()

		if skipped[path] {
			return
		}

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}

		// SessionAuth replaces the request, so its context carries the session
		ctx := c.Request.Context()
		switch {
		case status >= 500:
			logger.Error(ctx, "request completed", attrs...)
		case status >= 400:
			logger.Warn(ctx, "request completed", attrs...)
		default:
			logger.Info(ctx, "request completed", attrs...)
		}
	}
}

func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	for _, k := range redactedParams {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	return q.Encode()
}
