// Package api serves the HTTP surfaces: the ops endpoints every subcommand
// exposes and the gateway's read endpoints and viewer socket.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyCheck reports whether one dependency is usable.
type ReadyCheck struct {
	Name  string
	Ready func() bool
}

// NewRouter returns an engine serving GET /health, GET /readyz and the
// Prometheus registry at GET /internal/metrics.
func NewRouter(service string, log *zap.Logger, checks ...ReadyCheck) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	})
	r.GET("/readyz", readyz(checks))
	r.GET("/internal/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// GET /readyz answers 503 while any dependency is down.
func readyz(checks []ReadyCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := make(map[string]string, len(checks))
		status, code := "ready", http.StatusOK
		for _, chk := range checks {
			if chk.Ready() {
				deps[chk.Name] = "up"
				continue
			}
			deps[chk.Name] = "down"
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "dependencies": deps})
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			log.Warn("http request", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Debug("http request", fields...)
	}
}
