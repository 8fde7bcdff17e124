package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jieun/windview/internal/cache"
	"github.com/jieun/windview/internal/config"
	"github.com/jieun/windview/internal/database"
	"github.com/jieun/windview/internal/particles"
)

// StatsResponse is returned by /api/v1/stats
type StatsResponse struct {
	Version        string           `json:"version"`
	StartedAt      time.Time        `json:"started_at"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	ViewLogEnabled bool             `json:"viewlog_enabled"`
	ViewLog        *database.Totals `json:"viewlog,omitempty"`
	PageCache      *cache.Stats     `json:"page_cache,omitempty"`
}

// getParticles handles "/api/v1/particles" and returns the page parameters
// for the wsd, vec and pm10 query values as JSON
func (s *WebServer) getParticles(c *gin.Context) {
	obs := particles.ParseObservation(c.Query("wsd"), c.Query("vec"), c.Query("pm10"))
	c.JSON(http.StatusOK, particles.Resolve(obs))
}

// getStats handles "/api/v1/stats"
func (s *WebServer) getStats(c *gin.Context) {
	resp := StatsResponse{
		Version:        config.AppVersion,
		StartedAt:      s.StartTime.UTC(),
		UptimeSeconds:  int64(time.Since(s.StartTime).Seconds()),
		ViewLogEnabled: s.Views != nil,
	}

	if s.pages != nil {
		stats := s.pages.GetStats()
		resp.PageCache = &stats
	}

	if s.Views != nil {
		totals, err := s.Views.Totals(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.ViewLog = totals
	}

	c.JSON(http.StatusOK, resp)
}
