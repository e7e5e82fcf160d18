// Command overseerd runs the Overseer watchable key-value service: a
// TCP listener speaking the binary wire protocol in internal/wire, backed
// by the single-owner store loop in internal/store and the paged storage
// engine in internal/storage.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/odin-platform/overseer/internal/config"
	"github.com/odin-platform/overseer/internal/eventbus"
	"github.com/odin-platform/overseer/internal/hoststats"
	"github.com/odin-platform/overseer/internal/logging"
	"github.com/odin-platform/overseer/internal/metrics"
	"github.com/odin-platform/overseer/internal/netio"
	"github.com/odin-platform/overseer/internal/storage"
	"github.com/odin-platform/overseer/internal/store"
	"github.com/odin-platform/overseer/internal/wsgateway"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides OVERSEER_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := logging.New(cfg.LoggingConfig())
	cfg.Print(log)

	if err := os.MkdirAll(filepath.Dir(cfg.StoragePath()), 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create storage directory")
	}

	reg := metrics.New()

	facade, err := storage.Open(cfg.StoragePath(), cfg.SyncEveryWrite)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage file")
	}

	storeOpts := []store.Option{store.WithMetrics(reg)}
	if cfg.NATSURL != "" {
		pub, err := eventbus.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, disabling mutation export")
		} else {
			defer pub.Close()
			storeOpts = append(storeOpts, store.WithPublisher(pub))
		}
	}

	st, err := store.New(facade, log, storeOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go st.Run(ctx)
	go hoststats.New(reg, 15*time.Second, log).Run(ctx)
	go store.NewPageSampler(st, reg, 15*time.Second, log).Run(ctx)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	srv := netio.NewServer(st, netio.Config{
		MaxConnections:    cfg.MaxConnections,
		OutboxCapacity:    cfg.OutboxCapacity,
		MaxRequestsPerSec: cfg.MaxRequestsPerSec,
	}, reg, log)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("failed to listen")
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx, ln) }()

	if cfg.WSGatewayAddr != "" {
		gw := wsgateway.New(st, cfg.WSGatewayAddr, log)
		go func() {
			if err := gw.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("websocket gateway stopped")
			}
		}()
	}

	log.Info().Str("addr", cfg.Addr).Msg("overseerd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	serveDone := false
	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-serveErrCh:
		serveDone = true
		if err != nil {
			logging.WithError(log, err, "server loop exited with error", nil)
		}
	}

	cancel()

	// Drain every in-flight connection and let the store loop finish
	// whatever command it is mid-processing before the storage file is
	// closed underneath either of them.
	if !serveDone {
		if err := <-serveErrCh; err != nil {
			logging.WithError(log, err, "server loop exited with error", nil)
		}
	}
	st.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := facade.Close(); err != nil {
		logging.WithError(log, err, "error closing storage file", map[string]interface{}{"storage_path": cfg.StoragePath()})
	}
	log.Info().Msg("overseerd stopped")
}
