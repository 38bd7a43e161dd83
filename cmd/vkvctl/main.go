package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/vkvstore/internal/config"
	"github.com/kartikbazzad/vkvstore/internal/logger"
	"github.com/kartikbazzad/vkvstore/internal/mdm"
	"github.com/kartikbazzad/vkvstore/internal/serde"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file (optional)")
	dataDir := flag.String("data-dir", "./data", "Directory for database files")
	maxOpenDB := flag.Int("max-open-db", 0, "LRU capacity of the VSM cache (0 = use default)")
	maxDiskUsageGB := flag.Float64("max-disk-usage-gb", 0, "Total disk ceiling in GB (0 = use default)")
	debugAddr := flag.String("debug-addr", "", "Enable pprof HTTP server at address (e.g. localhost:6060); empty = disabled")
	metricsAddr := flag.String("metrics-addr", "", "Enable Prometheus metrics HTTP server at address; empty = disabled")
	interactive := flag.Bool("i", false, "Drop into an interactive REPL instead of running until SIGINT/SIGTERM")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.DataDir = *dataDir
	if *maxOpenDB > 0 {
		cfg.MDM.MaxOpenDB = *maxOpenDB
	}
	if *maxDiskUsageGB > 0 {
		cfg.MDM.MaxDiskUsageGB = *maxDiskUsageGB
	}
	cfg.Normalize()

	logr := logger.Default()
	logr.Info("Starting vkvstore...")
	logr.Info("Data directory: %s", cfg.DataDir)

	m, err := mdm.New[string, string](cfg, serde.String{}, serde.String{}, logr)
	if err != nil {
		logr.Error("failed to start MDM: %v", err)
		os.Exit(1)
	}

	if *debugAddr != "" {
		go func() {
			logr.Info("pprof enabled at http://%s/debug/pprof/", *debugAddr)
			if err := http.ListenAndServe(*debugAddr, nil); err != nil {
				logr.Error("pprof server error: %v", err)
			}
		}()
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logr.Info("metrics enabled at http://%s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logr.Error("metrics server error: %v", err)
			}
		}()
	}

	if *interactive {
		runREPL(m, logr)
		if err := m.Close(); err != nil {
			logr.Error("error during shutdown: %v", err)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logr.Info("Shutting down...")
	if err := m.Close(); err != nil {
		logr.Error("error during shutdown: %v", err)
	}
	logr.Info("vkvstore stopped")
}

func usage() string {
	return strings.TrimSpace(`
Commands:
  get <db> <key>                  read a key from the latest version
  put <db> <k>=<v> [<k>=<v>...]   publish a new version from inline pairs
  version <db>                    print the current version number
  clear <db>                      run one reclamation pass
  help                            show this message
  quit                            exit the shell
`)
}
