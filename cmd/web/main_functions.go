package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jieun/windview/internal/config"
	"github.com/jieun/windview/internal/database"
	"github.com/jieun/windview/internal/web"
)

// monitorUpdateFile signals shutdownChan once updateFilePath appears, so a
// deploy script can ask for a graceful restart. The file is renamed to
// <name>.todo before signalling. Returns when ctx is done or after signalling.
func monitorUpdateFile(ctx context.Context, updateFilePath string, interval time.Duration, shutdownChan chan<- bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[WEB]: Update file monitor started, checking for '%s' every %s", updateFilePath, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := os.Stat(updateFilePath); err != nil {
			continue
		}
		log.Printf("[WEB]: Update file '%s' detected, triggering graceful shutdown", updateFilePath)

		if err := os.Rename(updateFilePath, updateFilePath+".todo"); err != nil {
			log.Printf("[WEB]: Warning: Failed to rename update file '%s': %v", updateFilePath, err)
			continue
		}

		select {
		case shutdownChan <- true:
			log.Printf("[WEB]: Shutdown signal sent via update file monitor")
		default:
			log.Printf("[WEB]: Shutdown channel already signaled")
		}
		return
	}
}

// applyFlags overrides the default config with command-line values.
// Empty addresses and paths leave the default in place. The port is taken
// as given whenever -webport was set, so Validate sees bad values.
func applyFlags(mainConfig *config.MainConfig, f *cliFlags) {
	webConfig := mainConfig.Web
	if f.host != "" {
		webConfig.ListenHost = f.host
	}
	if f.webportSet {
		webConfig.ListenPort = f.webport
		log.Printf("[WEB]: Overriding listen port with command-line flag: %d", webConfig.ListenPort)
	}
	if f.webssl {
		webConfig.SSL = true
		log.Printf("[WEB]: SSL enabled via command-line flag")
	}
	if f.webcertFile != "" {
		webConfig.CertFile = f.webcertFile
	}
	if f.webkeyFile != "" {
		webConfig.KeyFile = f.webkeyFile
	}
	if f.templateDir != "" {
		webConfig.TemplateDir = f.templateDir
	}
	webConfig.Debug = f.debug
	webConfig.PageCacheSize = f.pageCache
	mainConfig.ViewLog.Path = f.viewLogPath
	mainConfig.PprofAddr = f.pprofAddr
}

// shutdownServer stops the web server, waits for pending view writes, then
// closes the view log so its WAL is checkpointed. viewLog may be nil.
func shutdownServer(server *web.WebServer, viewLog *database.ViewLog, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[WEB]: Error during shutdown: %v", err)
	}

	if viewLog != nil {
		if err := viewLog.Close(); err != nil {
			log.Printf("[WEB]: Error closing view log: %v", err)
		}
	}
}
