package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gps-station/internal/api"
	"gps-station/internal/config"
	"gps-station/internal/dispatcher"
	"gps-station/internal/feed"
	"gps-station/internal/grpcclient"
	"gps-station/internal/link"
	"gps-station/internal/observability"
	"gps-station/internal/protocol"
	"gps-station/internal/registry"
	"gps-station/internal/server"
	"gps-station/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	logger.Info("Starting gps-station...", "port", cfg.TCPPort, "backend", cfg.BackendURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gps-station stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gps-station stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	hub := feed.NewHub(logger)
	sinks := []link.Sink{hub}

	var quota dispatcher.Quota
	if cfg.RedisAddr != "" {
		st, err := store.NewStore(ctx, cfg.RedisAddr, 0)
		if err != nil {
			return err
		}
		defer st.Close()
		sinks = append(sinks, st)
		quota = st
	}

	if cfg.GRPCServer != "" {
		fwd, err := grpcclient.NewGRPCClient(cfg.GRPCServer)
		if err != nil {
			return err
		}
		defer fwd.Close()
		sinks = append(sinks, fwd)
	}

	if cfg.NATSURL != "" {
		nc, err := link.DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return err
		}
		defer nc.Close()
		sinks = append(sinks, nc)
	}

	client := link.NewClient(cfg.BackendURL, link.DefaultPaths(), &http.Client{Timeout: 15 * time.Second})
	gateway := link.NewGateway(client, logger, sinks...)

	devices := registry.New()
	devices.OnSizeChange(func(n int) { observability.RegisteredDevices.Set(float64(n)) })

	disp := dispatcher.New(devices, gateway, logger, dispatcher.Options{
		Rate:       cfg.CommandRate,
		DailyLimit: cfg.CommandDailyLimit,
		Quota:      quota,
	})

	protocols := protocol.NewRegistry(logger, protocol.NewH02(cfg.ExceptionThreshold))
	srv := server.New(protocols, devices, gateway, disp, logger, server.Options{
		IdentifyTimeout: cfg.IdentifyTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		RawLogDir:       cfg.RawLogDir,
	})

	ln, err := server.Listen(cfg.TCPAddr())
	if err != nil {
		return err
	}

	admin := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           api.NewMux(devices, disp, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Serve(gctx, ln) })

	g.Go(func() error {
		logger.Info("admin HTTP listening", "addr", admin.Addr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})

	if cfg.GRPCHealthPort != "" {
		hln, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			_ = ln.Close()
			return err
		}
		g.Go(func() error { return observability.ServeHealth(gctx, hln, logger) })
	}

	if cfg.CommandPollInterval > 0 {
		poller := dispatcher.NewPoller(gateway, devices, disp, cfg.CommandPollInterval, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	return g.Wait()
}
