package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lugma-dev/lugma/examples/chat"
	"github.com/lugma-dev/lugma/internal/config"
	"github.com/lugma-dev/lugma/internal/errors"
	"github.com/lugma-dev/lugma/pkg/middleware"
	"github.com/lugma-dev/lugma/pkg/server"
	"github.com/lugma-dev/lugma/pkg/transport"
)

func serveCmd() *cobra.Command {
	var (
		dir          string
		address      string
		requiredRole string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Chat example service",
		Long: `Serve the Chat example service using lugma.yaml.

Without lugma.yaml the defaults are used. Metrics and tracing are
enabled from the metrics and tracing sections.

Examples:
  lugma serve
  lugma serve --dir ./chat --address :9000
  lugma serve --require-role ""`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, dir)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			srv, shutdown, err := buildServer(cfg, chat.NewRoom(requiredRole))
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			out := cmd.OutOrStdout()
			printBanner(out)
			info(out, "serving %s on %s", nameOr(cfg.Name, "chat"), cfg.Server.Address)
			if cfg.Metrics.Enabled {
				info(out, "metrics at %s", cfg.Metrics.Path)
			}
			return srv.RunContext(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory containing lugma.yaml (default: search from the working directory)")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides lugma.yaml)")
	cmd.Flags().StringVar(&requiredRole, "require-role", "admin", "Role callers need to send messages (empty allows everyone)")

	return cmd
}

func loadServeConfig(cmd *cobra.Command, dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	root, err := config.FindProjectRoot(".")
	if err != nil {
		warn(cmd.ErrOrStderr(), "no %s found, using defaults", config.ConfigFileName)
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return config.Load(root)
}

// buildServer wires the router, observability and server from cfg. The
// returned shutdown flushes the tracer provider.
func buildServer(cfg *config.Config, svc chat.Service) (*server.Server, func(context.Context) error, error) {
	router := transport.NewRouter()
	sc := cfg.ServerConfig()
	shutdown := func(context.Context) error { return nil }

	if cfg.Tracing.Enabled {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(newLogExporter(slog.Default())),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		router.Use(middleware.OpenTelemetry(
			middleware.WithTracerProvider(tp),
			middleware.WithTracerName(cfg.Tracing.TracerName),
		))
		shutdown = tp.Shutdown
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, nil, errors.New("L103").Wrap(err)
		}
		if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, nil, errors.New("L103").Wrap(err)
		}
		m := middleware.NewMetrics(
			middleware.WithRegistry(reg),
			middleware.WithNamespace(cfg.Metrics.Namespace),
		)
		router.Use(m.Middleware())
		router.Apply(transport.WithStreamObserver(m))
		sc.MetricsGatherer = reg
	}

	chat.Bind(router, svc)
	return server.New(sc, router), shutdown, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
