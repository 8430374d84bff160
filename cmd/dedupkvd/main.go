// Command dedupkvd runs the content-deduplicated key-value storage
// server described by spec.md: an HTTP/2 Request Adapter in front of
// the Dedup/Reference-Count Engine.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kvdedup/dedupkv/internal/batch"
	"github.com/kvdedup/dedupkv/internal/blob"
	"github.com/kvdedup/dedupkv/internal/config"
	"github.com/kvdedup/dedupkv/internal/engine"
	"github.com/kvdedup/dedupkv/internal/httpapi"
	"github.com/kvdedup/dedupkv/internal/metrics"
	"github.com/kvdedup/dedupkv/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	logger.Info("starting dedupkv",
		"db_path", cfg.DBPath,
		"host", cfg.Host,
		"port", cfg.Port,
		"ssl_port", cfg.SSLPort,
		"tls_enabled", cfg.TLSEnabled(),
		"compression_level", cfg.CompressionLevel,
		"cache_capacity_bytes", cfg.CacheCapacityBytes,
	)

	db, err := store.Open(store.Options{
		Path:               cfg.DBPath,
		CacheCapacityBytes: cfg.CacheCapacityBytes,
		FlushIntervalMs:    cfg.FlushIntervalMs,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	codec, err := blob.NewCodec(cfg.CompressionLevel)
	if err != nil {
		return fmt.Errorf("initializing compression codec: %w", err)
	}
	defer codec.Close()

	reg := metrics.New()
	eng := engine.New(db, codec, logger, reg)
	executor := batch.New(db, codec)

	handler := httpapi.New(eng, executor, reg, cfg.Token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers, err := startListeners(cfg, handler, logger)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// startListeners brings up the h2c listener on PORT and, if
// SSL_CERT/SSL_KEY are configured, the TLS (h2) listener on SSL_PORT,
// per spec.md §6. Both run concurrently.
func startListeners(cfg config.Config, handler http.Handler, logger *slog.Logger) ([]*http.Server, error) {
	var servers []*http.Server

	h2cHandler := h2c.NewHandler(handler, &http2.Server{})
	plainAddr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	plainSrv := &http.Server{Addr: plainAddr, Handler: h2cHandler}
	ln, err := net.Listen("tcp", plainAddr)
	if err != nil {
		return nil, fmt.Errorf("binding h2c listener on %s: %w", plainAddr, err)
	}
	go func() {
		logger.Info("h2c listener up", "addr", plainAddr)
		if err := plainSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("h2c server error", "err", err)
		}
	}()
	servers = append(servers, plainSrv)

	if cfg.TLSEnabled() {
		tlsSrv := &http.Server{
			Addr:      net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.SSLPort)),
			Handler:   handler,
			TLSConfig: &tls.Config{NextProtos: []string{"h2", "http/1.1"}},
		}
		if err := http2.ConfigureServer(tlsSrv, &http2.Server{}); err != nil {
			return nil, fmt.Errorf("configuring h2 server: %w", err)
		}
		tlsLn, err := net.Listen("tcp", tlsSrv.Addr)
		if err != nil {
			return nil, fmt.Errorf("binding h2 listener on %s: %w", tlsSrv.Addr, err)
		}
		go func() {
			logger.Info("h2 (TLS) listener up", "addr", tlsSrv.Addr)
			err := tlsSrv.ServeTLS(tlsLn, cfg.SSLCert, cfg.SSLKey)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("h2 server error", "err", err)
			}
		}()
		servers = append(servers, tlsSrv)
	}

	return servers, nil
}
