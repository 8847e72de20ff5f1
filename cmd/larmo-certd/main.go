// Copyright (C) 2025 larmo-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larmo-project/larmo/config"
	"github.com/larmo-project/larmo/core/certexchange"
	"github.com/larmo-project/larmo/health"
	"github.com/larmo-project/larmo/internal/logger"
	"github.com/larmo-project/larmo/internal/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "larmo-certd",
	Short: "Larmo certificate exchange daemon",
	Long: `larmo-certd serves certificates to remote controllers over
password-authenticated SPEKE sessions. On first run it generates a
certificate authority and stores its key and root certificate on disk.`,
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (YAML or JSON)")
}

func runServe(cmd *cobra.Command, args []string) error {
	config.LoadEnvFile()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.GetDefaultLogger().SetLevel(logger.ParseLevel(cfg.Logging.Level))

	ca, err := loadOrCreateCA(cfg.CA)
	if err != nil {
		return err
	}

	srv, err := certexchange.NewServer(
		cfg.Exchange.Network, cfg.Exchange.Address, cfg.Exchange.Password, ca,
		certexchange.WithValidityDays(cfg.Exchange.ValidityDays),
		certexchange.WithMaxFrameSize(cfg.Exchange.MaxFrameSize),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	if cfg.Metrics.Enabled {
		checker := health.NewChecker(0)
		checker.Register("exchange-endpoint", func(ctx context.Context) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, cfg.Exchange.Network, srv.Addr().String())
			if err != nil {
				return err
			}
			return conn.Close()
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", checker.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				logger.ErrorMsg("metrics server failed", logger.Error(err))
			}
		}()
	}

	hash, err := ca.RootCertificate().GetHash()
	if err != nil {
		return err
	}
	logger.Info("serving certificate exchange",
		logger.String("root_hash", fmt.Sprintf("%x", hash)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", logger.String("signal", sig.String()))
	return nil
}
