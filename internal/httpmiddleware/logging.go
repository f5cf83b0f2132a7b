package httpmiddleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"messgate/internal/auth"
)

// StatusRecorder receives response codes.
type StatusRecorder interface {
	RecordHTTPStatus(code int)
}

// RequestLogger writes one JSON line per request, skipping the given paths.
// Level follows the status code. rec may be nil.
func RequestLogger(logger *slog.Logger, rec StatusRecorder, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if rec != nil {
			rec.RecordHTTPStatus(status)
		}
		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
			slog.String("client_ip", c.ClientIP()),
		}
		if claims, ok := auth.FromContext(c); ok {
			attrs = append(attrs, slog.String("principal", claims.Subject), slog.String("role", string(claims.Role)))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http_request", attrs...)
	}
}
