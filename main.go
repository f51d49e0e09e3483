package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"sdfmover/engine/internal/config"
	httpapi "sdfmover/engine/internal/http"
	"sdfmover/engine/internal/logging"
	"sdfmover/engine/internal/simulation"
	"sdfmover/engine/internal/telemetry"
)

const (
	shutdownTimeout     = 5 * time.Second
	replayFlushCooldown = 10 * time.Second
	retentionInterval   = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("mover stopped with error", logging.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("mover stopped")
	_ = logger.Sync()
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	h, err := newHost(cfg, logger, time.Now)
	if err != nil {
		return fmt.Errorf("build host: %w", err)
	}
	defer func() {
		if err := h.close(); err != nil {
			logger.Error("replay close failed", logging.Error(err))
		}
	}()

	loop := simulation.NewLoop(cfg.TickHz, h.tick)
	h.loopDropped = loop.Dropped

	//1.- Bind every listener before the first tick so a port clash fails fast.
	httpListener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	var grpcListener net.Listener
	if cfg.GRPCAddress != "" {
		grpcListener, err = net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", telemetry.NewWebsocketHandler(h.hub, logger))
	handlers := httpapi.Options{
		Logger:        logger,
		Status:        h.status,
		AdminToken:    cfg.AdminToken,
		FlushCooldown: replayFlushCooldown,
	}
	if cfg.ReplayDir != "" {
		handlers.Replay = h
	}
	httpapi.NewHandlerSet(handlers).Register(mux)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errs := make(chan error, 2)
	go func() {
		if err := server.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	logger.Info("telemetry websocket listening", logging.String("url", advertisedURL("ws", cfg.Address, "/ws")))

	var grpcServer *grpc.Server
	if grpcListener != nil {
		grpcServer = grpc.NewServer(telemetry.ServerOptions(cfg.GRPCSharedSecret)...)
		telemetry.Register(grpcServer, telemetry.NewService(h.hub, logger))
		go func() {
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		logger.Info("telemetry gRPC listening",
			logging.String("address", normaliseHostPort(cfg.GRPCAddress)),
			logging.Bool("shared_secret", cfg.GRPCSharedSecret != ""),
		)
	}

	//2.- Start the fixed-step loop and, when recording, the retention sweeps.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	loop.Start(loopCtx)
	if h.cleaner != nil {
		go h.cleaner.Run(loopCtx, retentionInterval)
	}
	logger.Info("simulation started",
		logging.Float64("tick_hz", cfg.TickHz),
		logging.Duration("step", loop.StepDuration()),
		logging.Vec("spawn", cfg.Body.Spawn),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errs:
	}

	//3.- Stop ticking first so the replay is closed on a complete tick.
	cancelLoop()
	loop.Stop()
	timings := h.monitor.Snapshot()
	logger.Info("simulation stopped",
		logging.Int("ticks", timings.Samples),
		logging.Duration("avg_tick", timings.Average),
		logging.Duration("max_tick", timings.Max),
		logging.Uint64("dropped_steps", loop.Dropped()),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	return runErr
}
