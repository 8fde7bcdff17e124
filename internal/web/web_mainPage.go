package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jieun/windview/internal/database"
	"github.com/jieun/windview/internal/particles"
)

const viewLogTimeout = 5 * time.Second

// mainPage handles "/" and renders the particle page for the wsd, vec and
// pm10 query parameters. Without parameters the page is static.
func (s *WebServer) mainPage(c *gin.Context) {
	obs := particles.ParseObservation(c.Query("wsd"), c.Query("vec"), c.Query("pm10"))
	params := particles.Resolve(obs)

	body, err := s.mainPageBody(params)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, "Template error", err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", body)

	if s.Views != nil && c.Request.Method == http.MethodGet {
		s.recordView(database.View{
			ClientIP: c.ClientIP(),
			Speed:    params.Speed,
			Sector:   params.Sector,
			Count:    params.Count,
			At:       time.Now(),
		})
	}
}

// mainPageBody renders the page, served from the page cache when enabled.
// Params fully determine the output.
func (s *WebServer) mainPageBody(params particles.Params) ([]byte, error) {
	key := fmt.Sprintf("main_s%d_%s_c%d", params.Speed, params.Sector, params.Count)
	if s.pages != nil {
		if body, ok := s.pages.Get(key); ok {
			return body, nil
		}
	}

	data := MainPageData{
		TemplateData: s.getBaseTemplateData("Wind Particles"),
		Params:       params,
	}
	body, err := s.renderPage("main.html", data)
	if err != nil {
		return nil, err
	}
	if s.pages != nil {
		s.pages.Set(key, body)
	}
	return body, nil
}

// recordView writes to the view log without holding up the response
// Views arriving after Shutdown has started are dropped.
func (s *WebServer) recordView(view database.View) {
	s.closeMux.Lock()
	if s.closing {
		s.closeMux.Unlock()
		return
	}
	s.wg.Add(1)
	s.closeMux.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), viewLogTimeout)
		defer cancel()
		if err := s.Views.Record(ctx, view); err != nil {
			log.Printf("[WEB]: view log: %v", err)
		}
	}()
}
