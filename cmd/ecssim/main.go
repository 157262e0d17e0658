// v1
// cmd/ecssim/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"nrgchamp/ecsmonitor/internal/config"
	"nrgchamp/ecsmonitor/internal/logging"
	"nrgchamp/ecsmonitor/internal/simulator"
	"nrgchamp/ecsmonitor/internal/transport/busopen"
)

func main() {
	lg, logWriter, lf := logging.Init("ecssim")
	defer func() { _ = lf.Close() }()
	lg.Info("ECS simulator starting")

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		lg.Error("config error", "error", err)
		os.Exit(1)
	}
	reg, err := cfg.Registry()
	if err != nil {
		lg.Error("registry", "error", err)
		os.Exit(1)
	}
	simCfg, err := simulator.LoadConfig(cfg.PropertiesPath, lg)
	if err != nil {
		lg.Error("config error", "error", err)
		os.Exit(1)
	}

	bus, err := busopen.Open(cfg, "ecssim", nil, lg)
	if err != nil {
		lg.Error("transport", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	sim := simulator.New(simCfg, reg, bus, lg)
	srv := &http.Server{
		Addr:              simCfg.ListenAddr,
		Handler:           handlers.LoggingHandler(logWriter, sim.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		lg.Info("http listening", "addr", simCfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server error", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runErr := sim.Run(ctx)

	sh, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(sh)
	if runErr != nil {
		lg.Error("simulator stopped", "error", runErr)
		os.Exit(1)
	}
	lg.Info("shutdown complete")
}
