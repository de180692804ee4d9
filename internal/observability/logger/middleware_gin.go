package logger

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/collecta/internal/observability/context"
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
)

// MiddlewareConfig configures the request logging middleware.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to a log level hint
	// ("warn" or "error"); empty means error.
	ErrorClassifier func(err error) string
}

var requestIDNode, _ = snowflake.NewNode(512)

// GinMiddleware attaches correlation IDs to the request context and
// emits one structured line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = requestIDNode.Generate().String()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status_code", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
		}

		log := WithContext(c.Request.Context(), zap.L())
		switch {
		case len(c.Errors) > 0:
			level := "error"
			if cfg.ErrorClassifier != nil {
				level = cfg.ErrorClassifier(c.Errors.Last().Err)
			}
			fields = append(fields, zap.String("error", c.Errors.String()))
			if level == "warn" {
				log.Warn("http.request", fields...)
			} else {
				log.Error("http.request", fields...)
			}
		case c.Writer.Status() >= 500:
			log.Error("http.request", fields...)
		case cfg.Debug:
			log.Info("http.request", fields...)
		default:
			log.Debug("http.request", fields...)
		}
	}
}
