// Command vellumd runs the vellum server: it wires configuration, the
// append-log-backed key/value and vector store, the transaction manager,
// an optional CAS-Paxos engine, and the TCP front end together, following
// the original's bring-up order (storage, then transactions, then
// replication, then the listener).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vellumdb/vellum/applog"
	"github.com/vellumdb/vellum/config"
	"github.com/vellumdb/vellum/kvstore"
	"github.com/vellumdb/vellum/logging"
	"github.com/vellumdb/vellum/paxos"
	"github.com/vellumdb/vellum/server"
	"github.com/vellumdb/vellum/txn"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Help {
		os.Exit(0)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogFormat, slog.LevelInfo)
	slog.SetDefault(logger.Logger)

	logger.Info("vellum starting",
		"port", cfg.Port,
		"log", cfg.LogPath,
		"dimension", cfg.Dimension,
		"metric", cfg.Metric,
		"paxos", cfg.Paxos,
	)

	registry := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr, registry, logger.Logger)
	}

	metric, err := config.ParseMetric(cfg.Metric)
	if err != nil {
		logger.Error("invalid metric", "error", err)
		os.Exit(1)
	}

	store, err := kvstore.Open(cfg.LogPath, kvstore.Options{
		Dimension:  cfg.Dimension,
		Metric:     metric,
		Registerer: registry,
		Logger:     logger.Logger,
	})
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.LogRecovery(context.Background(), store.Size(), nil)

	var txnOpts []func(*txn.Manager)
	if cfg.AuditLogPath != "" {
		audit, err := applog.OpenAudit(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", "error", err)
			os.Exit(1)
		}
		defer audit.Close()
		txnOpts = append(txnOpts, txn.WithAuditLog(audit))
		logger.Info("audit log enabled", "path", cfg.AuditLogPath)
	}
	txns := txn.New(store, logger.Logger, txnOpts...)

	var engine *paxos.Engine
	var peerServer *paxos.PeerServer
	if cfg.Paxos {
		engine = paxos.NewEngine(cfg.NodeID, cfg.Peers, paxos.NewTCPTransport(nil), logger.Logger)

		peerServer, err = paxos.NewPeerServer(fmt.Sprintf(":%d", peerPort(cfg.Port)), engine.Acceptor(), nil, logger.Logger)
		if err != nil {
			logger.Error("failed to start paxos peer listener", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := peerServer.Serve(); err != nil {
				logger.Debug("paxos peer listener stopped", "error", err)
			}
		}()
		logger.Info("cas-paxos enabled", "node_id", cfg.NodeID, "peers", cfg.Peers, "peer_addr", peerServer.Addr())
	}

	srv, err := server.New(cfg.Addr(), txns, server.Options{
		Paxos:      engine,
		Registerer: registry,
		Logger:     logger.Logger,
	})
	if err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	logger.Info("vellum ready", "addr", srv.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", "error", err)
	}
	if peerServer != nil {
		_ = peerServer.Close()
	}
}

// peerPort derives the CAS-Paxos peer-RPC listener's port from the client
// port, one above it, so a single --port flag is enough to stand up both
// listeners without a collision.
func peerPort(clientPort int) int {
	return clientPort + 1
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("starting metrics server", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}
