// Package web provides the HTTP server for the windview particle page
package web

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/jieun/windview/internal/cache"
	"github.com/jieun/windview/internal/config"
	"github.com/jieun/windview/internal/database"
)

// ViewRecorder stores page views. *database.ViewLog implements it.
type ViewRecorder interface {
	Record(ctx context.Context, view database.View) error
	Totals(ctx context.Context) (*database.Totals, error)
}

// WebServer represents the web server
type WebServer struct {
	Router    *gin.Engine
	Config    *config.WebConfig
	Views     ViewRecorder // nil when the view log is disabled
	StartTime time.Time    // Track server start time for uptime calculations

	httpServer *http.Server
	pages      *cache.PageCache // nil when disabled or in debug mode
	templates  *template.Template
	tmplMux    sync.RWMutex
	wg         sync.WaitGroup // in-flight view log writes
	closeMux   sync.Mutex
	closing    bool
}

// NewServer creates a new web server instance. views may be nil.
func NewServer(webconfig *config.WebConfig, views ViewRecorder) (*WebServer, error) {
	switch {
	case webconfig.Debug:
		gin.SetMode(gin.DebugMode)
	case gin.Mode() != gin.TestMode:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	// Trust X-Forwarded-For / X-Real-IP only from local and private reverse proxies
	if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}

	secureConfig := secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
	// Only add SSL-specific headers if SSL is terminated by us
	// (not when running behind a reverse proxy like nginx with SSL)
	if webconfig.SSL {
		secureConfig.SSLRedirect = true
		secureConfig.STSSeconds = 31536000
		secureConfig.STSIncludeSubdomains = true
	}

	server := &WebServer{
		Router:    router,
		Config:    webconfig,
		Views:     views,
		StartTime: time.Now(),
	}

	router.Use(server.ApacheLogFormat(), gin.Recovery(), secure.New(secureConfig))

	// Debug mode re-reads templates, cached pages would go stale
	if webconfig.PageCacheSize > 0 && !webconfig.Debug {
		server.pages = cache.NewPageCache(webconfig.PageCacheSize)
	}

	tmpl, err := server.loadTemplates()
	if err != nil {
		return nil, err
	}
	server.templates = tmpl

	server.httpServer = &http.Server{
		Addr:              webconfig.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *WebServer) setupRoutes() {
	s.Router.GET("/static/*filepath", EmbeddedStaticHandler("/static"))

	// No icon shipped; answer quietly instead of logging 404s
	s.Router.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	s.Router.GET("/robots.txt", func(c *gin.Context) {
		c.String(http.StatusOK, "User-agent: *\nDisallow:\n")
	})
	s.Router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	api := s.Router.Group("/api/v1")
	{
		api.GET("/particles", s.getParticles)
		api.GET("/stats", s.getStats)
	}

	s.Router.GET("/", s.mainPage)
	s.Router.HEAD("/", s.mainPage)
}

// Start serves HTTP (or HTTPS if configured) and blocks until Shutdown.
// Returns http.ErrServerClosed after a graceful shutdown.
func (s *WebServer) Start() error {
	if s.Config.SSL {
		log.Printf("[WEB]: Starting HTTPS server on %s", s.httpServer.Addr)
		return s.httpServer.ListenAndServeTLS(s.Config.CertFile, s.Config.KeyFile)
	}
	log.Printf("[WEB]: Starting HTTP server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections, waits for in-flight requests and
// pending view log writes, or until ctx is done.
func (s *WebServer) Shutdown(ctx context.Context) error {
	s.closeMux.Lock()
	s.closing = true
	s.closeMux.Unlock()

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// ApacheLogFormat logs requests in Apache combined log format
func (s *WebServer) ApacheLogFormat() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf(`%s - - [%s] "%s %s %s" %d %d "%s" "%s"`+"\n",
			param.ClientIP,
			param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.BodySize,
			param.Request.Referer(),
			param.Request.UserAgent(),
		)
	})
}
