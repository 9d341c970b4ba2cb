package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bilregistret/internal/cache"
	"bilregistret/internal/errors"
	"bilregistret/internal/records"
)

// InvalidateRequest selects what to drop. Exactly one field is used, in
// the order key, plate, categories.
type InvalidateRequest struct {
	Key        string   `json:"key,omitempty"`
	Plate      string   `json:"plate,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// ReclaimRequest names a memory pressure level
type ReclaimRequest struct {
	Level string `json:"level"`
}

// CountResponse reports how many entries an operation dropped
type CountResponse struct {
	Dropped int `json:"dropped"`
}

// GET /cache/stats
func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Cache().Stats())
}

// POST /cache/invalidate
func (s *Server) handleCacheInvalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	coord := s.engine.Cache()
	switch {
	case req.Key != "":
		n := 0
		if coord.InvalidateKey(req.Key) {
			n = 1
		}
		c.JSON(http.StatusOK, CountResponse{Dropped: n})
	case req.Plate != "":
		key := records.NormalizePlate(req.Plate)
		if key.IsZero() {
			BadRequest(c, "plate is empty")
			return
		}
		n := coord.InvalidateScope(key)
		s.engine.Pair().Forget(key)
		c.JSON(http.StatusOK, CountResponse{Dropped: n})
	case len(req.Categories) > 0:
		categories := make([]cache.Category, 0, len(req.Categories))
		for _, name := range req.Categories {
			cat, err := cache.ParseCategory(name)
			if err != nil {
				WriteLookupError(c, err)
				return
			}
			categories = append(categories, cat)
		}
		c.JSON(http.StatusOK, CountResponse{Dropped: coord.Invalidate(categories...)})
	default:
		WriteLookupError(c, errors.NewLookupError(errors.InvalidArgument, "one of key, plate or categories is required", nil))
	}
}

// POST /cache/reclaim
func (s *Server) handleCacheReclaim(c *gin.Context) {
	var req ReclaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	level, err := cache.ParsePressure(req.Level)
	if err != nil {
		WriteLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Dropped: s.engine.Cache().Reclaim(level)})
}
