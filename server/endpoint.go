package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/version"
)

// Probe paths.
const (
	HealthPath  = "/healthz"
	VersionPath = "/version"
)

// Health reports the service health folded from checkers: 200 while every
// component is up or degraded, 503 once one is down.
func Health(service string, checkers ...observability.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := observability.NewServiceHealth(service, version.Version).Check(c.Request.Context(), checkers...)
		status := http.StatusOK
		if h.Status == observability.HealthStatusDown {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	}
}

// Version reports build version information.
func Version() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, version.GetVersionInfo())
	}
}

// RegisterProbes mounts the health and version endpoints.
func (s *Server) RegisterProbes(service string, checkers ...observability.HealthChecker) {
	s.engine.GET(HealthPath, Health(service, checkers...))
	s.engine.GET(VersionPath, Version())
}
