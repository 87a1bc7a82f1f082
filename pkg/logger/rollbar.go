package logger

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/pkg/config"
	"github.com/noah-isme/tutorhub-api/pkg/middleware/requestid"
)

// Reporter forwards server-side failures to Rollbar. A Reporter without a token only logs.
type Reporter struct {
	enabled bool
	logger  *zap.Logger
}

// NewReporter configures the global Rollbar client.
func NewReporter(cfg *config.Config, l *zap.Logger) *Reporter {
	if l == nil {
		l = zap.NewNop()
	}
	enabled := cfg.Rollbar.Token != ""
	if enabled {
		rollbar.SetToken(cfg.Rollbar.Token)
		rollbar.SetEnvironment(cfg.Env)
		rollbar.SetCodeVersion(cfg.Rollbar.CodeVersion)
		rollbar.SetServerRoot("github.com/noah-isme/tutorhub-api")
	}
	rollbar.SetEnabled(enabled)
	return &Reporter{enabled: enabled, logger: l}
}

// Enabled reports whether items are shipped to Rollbar.
func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}

// Error reports err with optional extras.
func (r *Reporter) Error(err error, extras map[string]interface{}) {
	if r == nil || err == nil {
		return
	}
	if r.enabled {
		rollbar.Error(err, extras)
	}
}

// Close flushes pending items.
func (r *Reporter) Close() {
	if r.Enabled() {
		rollbar.Close()
	}
}

// Middleware recovers panics and reports 5xx responses.
func (r *Reporter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				r.logger.Error("panic recovered", zap.Error(err), zap.String("path", c.FullPath()))
				if r.enabled {
					rollbar.Critical(err, r.extras(c))
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()

		c.Next()

		if c.Writer.Status() < http.StatusInternalServerError {
			return
		}
		for _, ginErr := range c.Errors {
			r.Error(ginErr.Err, r.extras(c))
		}
	}
}

func (r *Reporter) extras(c *gin.Context) map[string]interface{} {
	return map[string]interface{}{
		"method":     c.Request.Method,
		"path":       c.FullPath(),
		"status":     c.Writer.Status(),
		"request_id": requestid.Value(c),
	}
}
