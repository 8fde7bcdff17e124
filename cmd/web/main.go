// Web server for the windview particle page
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	prof "github.com/go-while/go-cpu-mem-profiler"
	"github.com/jieun/windview/internal/config"
	"github.com/jieun/windview/internal/database"
	"github.com/jieun/windview/internal/web"
	"golang.org/x/term"
)

type cliFlags struct {
	host        string
	webport     int
	webportSet  bool
	webssl      bool
	webcertFile string
	webkeyFile  string
	debug       bool
	templateDir string
	viewLogPath string
	pprofAddr   string
	updateFile  string
	pageCache   int
}

var appVersion = "-unset-"

const shutdownTimeout = 10 * time.Second

func main() {
	config.AppVersion = appVersion

	var f cliFlags
	flag.StringVar(&f.host, "host", config.DefaultListenHost, "Web server listen address")
	flag.IntVar(&f.webport, "webport", config.DefaultListenPort, "Web server port")
	flag.BoolVar(&f.webssl, "webssl", false, "Enable SSL")
	flag.StringVar(&f.webcertFile, "websslcert", "", "SSL certificate file (/path/to/fullchain.pem)")
	flag.StringVar(&f.webkeyFile, "websslkey", "", "SSL key file (/path/to/privkey.pem)")
	flag.BoolVar(&f.debug, "debug", false, "Reload templates on every request and enable router debug output")
	flag.StringVar(&f.templateDir, "templates", "", "Load templates from this directory instead of the embedded ones")
	flag.StringVar(&f.viewLogPath, "viewlog", "", "Record page views to this sqlite file (default: disabled)")
	flag.StringVar(&f.pprofAddr, "pprof", "", "Serve pprof on this address, e.g. 127.0.0.1:51111 (default: disabled)")
	flag.IntVar(&f.pageCache, "pagecache", config.DefaultPageCacheSize, "Number of rendered pages kept in memory (0 disables)")
	flag.StringVar(&f.updateFile, "updatefile", ".update", "Gracefully shut down when this file appears (empty disables)")
	flag.Parse()
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == "webport" {
			f.webportSet = true
		}
	})

	log.Printf("Starting windview web server (version: %s)", appVersion)

	mainConfig := config.NewDefaultConfig()
	applyFlags(mainConfig, &f)
	if err := mainConfig.Validate(); err != nil {
		log.Fatalf("[WEB]: Invalid configuration: %v", err)
	}
	log.Printf("[WEB]: Using WEB configuration: %#v", *mainConfig.Web)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		gin.DisableConsoleColor()
	}

	if mainConfig.PprofAddr != "" {
		profiler := prof.NewProf()
		go profiler.PprofWeb(mainConfig.PprofAddr)
		log.Printf("[WEB]: pprof listening on %s", mainConfig.PprofAddr)
	}

	var views web.ViewRecorder
	var viewLog *database.ViewLog
	if mainConfig.ViewLog.Enabled() {
		vl, err := database.OpenViewLog(mainConfig.ViewLog.Path)
		if err != nil {
			log.Fatalf("[WEB]: Failed to open view log: %v", err)
		}
		viewLog = vl
		views = vl
	}

	server, err := web.NewServer(mainConfig.Web, views)
	if err != nil {
		if viewLog != nil {
			viewLog.Close()
		}
		log.Fatalf("[WEB]: Failed to create web server: %v", err)
	}
	if mainConfig.Web.Debug {
		if files, err := web.ListEmbeddedFiles(); err == nil {
			log.Printf("[WEB]: Embedded static files: %v", files)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	webServerErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			webServerErrChan <- err
		}
	}()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	updateFileChan := make(chan bool, 1)
	if f.updateFile != "" {
		go monitorUpdateFile(monitorCtx, f.updateFile, 60*time.Second, updateFileChan)
	}

	log.Printf("[WEB]: Server started on %s. Press Ctrl+C to gracefully shutdown...", mainConfig.Web.Addr())

	exitCode := 0
	select {
	case <-sigChan:
		log.Printf("[WEB]: Received shutdown signal, initiating graceful shutdown...")
	case err := <-webServerErrChan:
		log.Printf("[WEB]: Failed to start web server: %v", err)
		exitCode = 1
	case <-updateFileChan:
		log.Printf("[WEB]: Update file detected, initiating graceful shutdown for update...")
	}
	stopMonitor()

	shutdownServer(server, viewLog, shutdownTimeout)
	log.Printf("[WEB]: Graceful shutdown completed")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
