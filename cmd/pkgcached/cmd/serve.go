/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	syscall "golang.org/x/sys/unix"

	"github.com/pkgcached/pkgcached/cache"
	"github.com/pkgcached/pkgcached/config"
	"github.com/pkgcached/pkgcached/httpapi"
	"github.com/pkgcached/pkgcached/lookup"
	"github.com/pkgcached/pkgcached/membership"
	"github.com/pkgcached/pkgcached/multicast"
	"github.com/pkgcached/pkgcached/stats"
	"github.com/pkgcached/pkgcached/waiter"
)

var (
	serveConfigPath  string
	serveHTTPPort    int
	serveMetricsPort int
	serveCacheDirs   []string
)

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to a YAML config file")
	serveCmd.Flags().IntVar(&serveHTTPPort, "http-port", 0, "override the HTTP listen port")
	serveCmd.Flags().IntVar(&serveMetricsPort, "metrics-port", 0, "serve /metrics on a dedicated port")
	serveCmd.Flags().StringSliceVar(&serveCacheDirs, "cache-dir", nil, "override the cache directories, in probe order")
}

// prepareConfig loads the YAML config when given, then lays the CLI flag
// overrides on top.
func prepareConfig(cfgPath string, httpPort int, metricsPort int, cacheDirs []string) (*config.Config, error) {
	cfg := config.Default()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = config.ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if httpPort != 0 && httpPort != cfg.HTTPPort {
		warn("http_port")
		cfg.HTTPPort = httpPort
	}
	if metricsPort != 0 && metricsPort != cfg.MetricsPort {
		warn("metrics_port")
		cfg.MetricsPort = metricsPort
	}
	if len(cacheDirs) > 0 {
		warn("cache_dirs")
		cfg.CacheDirs = cacheDirs
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}

func setLogLevel(level string) error {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		return fmt.Errorf("unrecognized log level: %v", level)
	}
	return nil
}

func runServe(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	probe := cache.NewProbe(cfg.CacheDirs)
	members := membership.NewTable(cfg.PeerTTL())
	registry := waiter.NewRegistry()
	st := stats.New()

	endpoint, err := multicast.New(multicast.Config{
		Group:        cfg.GroupIP(),
		Port:         cfg.MulticastPort,
		TTL:          cfg.MulticastTTL,
		PongInterval: cfg.PongInterval(),
	}, probe, members, registry, st)
	if err != nil {
		return err
	}

	splitMetrics := cfg.MetricsPort != 0 && cfg.MetricsPort != cfg.HTTPPort
	api := &httpapi.Server{
		Lookup: &lookup.Orchestrator{
			Probe:        probe,
			Members:      members,
			Registry:     registry,
			Search:       endpoint,
			Stats:        st,
			Deadline:     cfg.LookupDeadline(),
			RedirectPort: cfg.HTTPPort,
		},
		Probe:        probe,
		Members:      members,
		Stats:        st,
		Port:         cfg.HTTPPort,
		PeerTTL:      cfg.PeerTTL(),
		ServeMetrics: !splitMetrics,
	}

	// Handle interrupt for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return endpoint.Run(ctx)
	})
	eg.Go(func() error {
		return api.Run(ctx)
	})
	if splitMetrics {
		eg.Go(func() error {
			return runMetrics(ctx, cfg.MetricsPort, st)
		})
	}
	return eg.Wait()
}

// runMetrics serves /metrics alone on its own port when the operator
// splits it away from the main HTTP surface.
func runMetrics(ctx context.Context, port int, st *stats.Stats) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", st.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Infof("Starting metrics server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the package cache sharing daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		cfg, err := prepareConfig(serveConfigPath, serveHTTPPort, serveMetricsPort, serveCacheDirs)
		if err != nil {
			log.Fatal(err)
		}
		if err := runServe(cfg); err != nil {
			log.Fatal(err)
		}
	},
}
