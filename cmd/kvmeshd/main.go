// Command kvmeshd runs a single replicating mesh node.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kvmesh/kvmesh/internal/config"
	"github.com/kvmesh/kvmesh/internal/metrics"
	"github.com/kvmesh/kvmesh/pkg/kvmesh"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/definition"
)

var (
	configPath  string
	metricsAddr string
	debug       bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kvmeshd",
		Short: "Run a kvmesh replicating node",
		RunE:  runDaemon,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, empty disables it")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	return cmd
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("kvmeshd: %w", err)
	}

	logrusLogger := logrus.New()
	if debug {
		logrusLogger.SetLevel(logrus.DebugLevel)
	}
	log := definition.NewLogrusLogger(logrusLogger, fmt.Sprintf("%d", cfg.Identifier))

	recorder := metrics.NewRecorder()

	node, err := kvmesh.New(cfg, kvmesh.WithLogger(log), kvmesh.WithMetrics(recorder))
	if err != nil {
		return fmt.Errorf("kvmeshd: build engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(recorder.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	log.Infof("kvmeshd starting as node %d, listening on %d", cfg.Identifier, cfg.ListenPort)
	return node.Run(ctx)
}
