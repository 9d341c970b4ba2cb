package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bilregistret/internal/auth"
	"bilregistret/internal/cache"
	"bilregistret/internal/version"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Uptime    string         `json:"uptime"`
	Observers int            `json:"observers"`
	Cache     cache.Stats    `json:"cache"`
	Redirect  auth.GateStats `json:"redirect"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Info(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Observers: s.engine.Observers(),
		Cache:     s.engine.Cache().Stats(),
		Redirect:  s.gate.Stats(),
	})
}
