// Package main provides the entry point for dlpproxyd: a local reverse
// proxy that enforces DLP policy between AI coding agents and their
// upstream model endpoints.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/lifecycle"
	"github.com/dlpproxy/dlpproxy/internal/logging"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	logging.SetupBaseLogger()
	log.Infof("dlpproxy %s (%s, built %s)", Version, Commit, BuildDate)

	configFilePath := configPath
	if configFilePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configFilePath = filepath.Join(wd, "config.yaml")
	}

	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	controller := lifecycle.NewController(configFilePath, st)

	// QPORT overrides whatever config.yaml chose (spec.md §6), as a
	// process-launch concern rather than a config-file edit — it must
	// survive every lifecycle rebuild, not just this process's first
	// config load, so it lives on the Controller rather than on the
	// one-shot cfg value above.
	if v := os.Getenv("QPORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			controller.PortOverride = port
		} else {
			log.Warnf("ignoring invalid QPORT value %q", v)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal, draining in-flight requests")
		cancel()
	}()

	if err := controller.Run(ctx); err != nil {
		log.Fatalf("lifecycle controller exited with error: %v", err)
	}
	log.Info("dlpproxy stopped")
}
