// v1
// cmd/ecsmonitor/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nrgchamp/ecsmonitor/internal/alert"
	"nrgchamp/ecsmonitor/internal/api"
	"nrgchamp/ecsmonitor/internal/config"
	"nrgchamp/ecsmonitor/internal/engine"
	"nrgchamp/ecsmonitor/internal/logging"
	"nrgchamp/ecsmonitor/internal/metrics"
	"nrgchamp/ecsmonitor/internal/transport"
	"nrgchamp/ecsmonitor/internal/transport/busopen"
)

func main() {
	lg, logWriter, lf := logging.Init("ecsmonitor")
	defer func() {
		if err := lf.Close(); err != nil {
			lg.Error("log file close", "error", err)
		}
	}()
	lg.Info("ECS monitor starting")

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		lg.Error("config", "error", err)
		os.Exit(1)
	}
	reg, err := cfg.Registry()
	if err != nil {
		lg.Error("registry", "error", err)
		os.Exit(1)
	}
	ranges, err := cfg.Ranges()
	if err != nil {
		lg.Error("ranges", "error", err)
		os.Exit(1)
	}
	lg.Info("config loaded", "transport", cfg.Transport, "properties", cfg.PropertiesPath,
		"delay", cfg.LoopDelay.String(), "retry_limit", cfg.Health.RetryLimit, "ranges", ranges.All())

	m := metrics.New()
	bus, err := busopen.Open(cfg, "ecsmonitor", m, lg)
	if err != nil {
		lg.Error("transport", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	warnLog, err := alert.NewFileLog(cfg.AlertLogFile)
	if err != nil {
		lg.Error("alert log", "error", err)
		os.Exit(1)
	}
	lg.Info("warnings logged to file", "path", warnLog.Path())

	eng, err := engine.New(engine.Options{
		Registry:          reg,
		Health:            cfg.Health,
		Ranges:            ranges,
		Transport:         bus,
		Alerts:            alert.Fanout{alert.LogSink{Log: lg}, warnLog},
		Metrics:           m,
		Remedy:            transport.CommandRemedy{Command: cfg.RestartCmd, Wait: cfg.RestartWait, Log: lg},
		Logger:            lg,
		LoopDelay:         cfg.LoopDelay,
		LivenessOnReceipt: cfg.LivenessOnReceipt,
	})
	if err != nil {
		lg.Error("engine", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPBind,
		Handler:           api.NewServer(api.Deps{Log: lg, Monitor: eng, Metrics: m, AccessLog: logWriter}).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		lg.Info("http listening", "addr", cfg.HTTPBind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server error", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runErr := eng.Run(ctx)

	sh, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(sh)
	if runErr != nil {
		lg.Error("monitor stopped", "error", runErr)
		if errors.Is(runErr, engine.ErrNotRegistered) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	lg.Info("ECS monitor stopped")
}
