package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func accessLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= 500 {
			ev = logger.Error()
		}
		ev = ev.Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int64("latency_ms", time.Since(start).Milliseconds())
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		// The query string may carry a token.
		ev.Msg("http request")
	}
}
