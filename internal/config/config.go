// Package config provides configuration management for windview.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
)

var AppVersion = "-unset-" // will be set at build time

const (
	DefaultListenHost = "0.0.0.0"
	DefaultListenPort = 5000

	DefaultPageCacheSize = 256
)

// MainConfig holds the main configuration for windview
type MainConfig struct {
	// Mutex for thread-safe access
	mux sync.Mutex `json:"-"`

	// Web interface settings
	Web *WebConfig `json:"web"`

	// Page view log settings
	ViewLog ViewLogConfig `json:"viewlog"`

	// Address for the pprof web listener, empty disables it
	PprofAddr string `json:"pprof_addr,omitempty"`

	AppVersion string `json:"app_version"` // Application version, set at build time
}

// WebConfig holds web interface configuration
type WebConfig struct {
	ListenHost  string `json:"listen_host"`
	ListenPort  int    `json:"listen_port"`
	SSL         bool   `json:"ssl"`
	CertFile    string `json:"cert_file,omitempty"`
	KeyFile     string `json:"key_file,omitempty"`
	TemplateDir string `json:"template_dir,omitempty"` // empty: use embedded templates
	Debug       bool   `json:"debug"`                  // re-parse templates per request, verbose router

	PageCacheSize int `json:"page_cache_size"` // rendered pages kept in memory, 0 disables
}

// ViewLogConfig holds the sqlite page view log configuration
type ViewLogConfig struct {
	Path string `json:"path,omitempty"` // empty disables the view log
}

// Enabled reports whether page views should be recorded
func (v ViewLogConfig) Enabled() bool {
	return v.Path != ""
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *MainConfig {
	maincfg := &MainConfig{
		AppVersion: AppVersion,
		Web: &WebConfig{
			ListenHost: DefaultListenHost,
			ListenPort: DefaultListenPort,
			SSL:        false,
			Debug:      false,

			PageCacheSize: DefaultPageCacheSize,
		},
	}

	maincfg.mux.Lock()
	log.Printf("MainConfig initialized (version: %s)", maincfg.AppVersion)
	maincfg.mux.Unlock()
	return maincfg
}

// Addr returns the host:port the web server binds to
func (w *WebConfig) Addr() string {
	return net.JoinHostPort(w.ListenHost, strconv.Itoa(w.ListenPort))
}

// Validate checks the configuration for values the server cannot start with
func (c *MainConfig) Validate() error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.Web == nil {
		return errors.New("web config missing")
	}
	if c.Web.ListenPort < 1 || c.Web.ListenPort > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", c.Web.ListenPort)
	}
	if c.Web.PageCacheSize < 0 {
		return fmt.Errorf("invalid page cache size: %d", c.Web.PageCacheSize)
	}
	if c.Web.SSL && (c.Web.CertFile == "" || c.Web.KeyFile == "") {
		return errors.New("SSL enabled but cert_file or key_file not specified in config")
	}
	return nil
}
