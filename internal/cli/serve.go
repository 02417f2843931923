// Copyright (c) 2025 PassChain Authors
//
// This file is part of go-passchain.
//
// go-passchain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@passchain.dev for commercial licensing options.

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/passchain/go-passchain/internal/config"
	"github.com/passchain/go-passchain/internal/relay"
	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/shamir"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		if envConfig := os.Getenv("PASSCHAIN_CONFIG"); envConfig != "" && configFile == "" {
			configFile = envConfig
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			handleError(err)
		}
		logger := logging.NewLogger(cfg.Debug(), cfg.Logging.Format)

		manager, err := shamir.NewKeyManager(shamir.DefaultPrime(), cfg.Shamir.GraceKeys, logger)
		if err != nil {
			handleError(err)
		}

		tlsConfig, err := cfg.TLS.LoadTLSConfig()
		if err != nil {
			handleError(err)
		}

		srv, err := relay.NewServer(manager, relay.Config{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			TLSConfig:    tlsConfig,
			RateLimit:    cfg.RateLimit,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}, logger)
		if err != nil {
			handleError(err)
		}

		shutdownCtx := setupSignalHandler(logger)

		if interval := cfg.Shamir.RotateInterval; interval > 0 {
			go rotateLoop(shutdownCtx, manager, interval, logger)
		}

		go func() {
			if err := srv.Start(); err != nil {
				logger.FatalError(err)
			}
		}()

		<-shutdownCtx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			handleError(err)
		}
		logger.Info("relay stopped")
	},
}

// setupSignalHandler returns a context cancelled on SIGINT/SIGTERM.
func setupSignalHandler(logger *logging.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		logger.Info("received shutdown signal")
		cancel()
	}()
	return ctx
}

// rotateLoop rotates the server keypair on the configured interval.
func rotateLoop(ctx context.Context, manager *shamir.KeyManager, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := manager.Rotate(); err != nil {
				logger.MaybeError(err)
				continue
			}
			logger.Info("server keypair rotated", "keyId", manager.CurrentKeyID())
		case <-ctx.Done():
			return
		}
	}
}
