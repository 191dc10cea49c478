//go:build linux && (amd64 || arm64)

/*
 *
 * Copyright 2025 ItJustWorksTM
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command fastipcd runs the fastipc tower: it binds the well-known local
// socket, serves channel handshakes until SIGINT/SIGTERM, and exits
// non-zero on fatal setup or accept errors.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ItJustWorksTM/fastipc/tower"
)

type config struct {
	// SocketPath is where the tower binds its handshake socket.
	SocketPath string `envconfig:"SOCKET_PATH" default:"fastipcd"`

	// MetricsAddr, when set, serves prometheus metrics on /metrics.
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Debug switches to a development logger at debug level.
	Debug bool `envconfig:"DEBUG"`
}

func main() {
	var cfg config
	if err := envconfig.Process("fastipc", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, "fastipcd: bad configuration:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fastipcd: failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	t, err := tower.Create(cfg.SocketPath, log)
	if err != nil {
		log.Fatal("failed to create tower", zap.Error(err))
	}
	log.Info("tower listening", zap.String("socket", cfg.SocketPath))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("shutting down", zap.String("signal", sig.String()))
		if err := t.Shutdown(); err != nil {
			log.Error("failed to shutdown tower", zap.Error(err))
		}
	}()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics listener failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	if err := t.Run(); err != nil {
		log.Fatal("tower terminated", zap.Error(err))
	}

	if err := t.Close(); err != nil {
		log.Warn("failed to release tower resources", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
