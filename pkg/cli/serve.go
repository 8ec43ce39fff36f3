package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/fakemesh/pkg/config"
	"github.com/getmockd/fakemesh/pkg/engine"
	"github.com/getmockd/fakemesh/pkg/logging"
	"github.com/getmockd/fakemesh/pkg/mesh"
	"github.com/getmockd/fakemesh/pkg/metrics"
	"github.com/getmockd/fakemesh/pkg/trace"
)

// metricsShutdownTimeout bounds shutdown of the metrics listener.
const metricsShutdownTimeout = 5 * time.Second

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals configFlags

// serveCmd runs the server in the foreground until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fake MESH server (foreground)",
	Long: `Run the fake MESH mailbox server. Every connection must present a client
certificate signed by the configured CA. The server stops gracefully on
SIGINT or SIGTERM, letting in-flight requests finish.`,
	Example: `  # Start with defaults (certificates under ./certs)
  fakemesh serve

  # Bind to loopback on a custom port with its own data directory
  fakemesh serve -i 127.0.0.1 -p 9443 --dir ./mesh-data

  # Trace every request and response to stderr
  fakemesh serve --debug

  # Expose Prometheus metrics
  fakemesh serve --metrics-addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serveFlagVals.resolve(cmd.Flags(), os.LookupEnv)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, &cfg.ServerConfig, serveOptions{
			logOut:   cmd.ErrOrStderr(),
			traceOut: cmd.ErrOrStderr(),
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveFlagVals.register(serveCmd.Flags())
}

// serveOptions are the process-level collaborators of runServe.
type serveOptions struct {
	logOut   io.Writer
	traceOut io.Writer
	// ready, when set, is called once the listeners are bound. metricsAddr
	// is nil when metrics are disabled.
	ready func(addr, metricsAddr net.Addr)
}

// runServe runs the server until ctx is cancelled or serving fails.
func runServe(ctx context.Context, cfg *config.ServerConfig, opts serveOptions) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
		Output: opts.logOut,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	app, err := mesh.New(ctx, mesh.Config{
		DataDir:   cfg.DataDir,
		SharedKey: cfg.SharedKey,
		Password:  cfg.Password,
	}, mesh.WithLogger(log.With("component", "mesh")), mesh.WithMetrics(m))
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("failed to close mailbox store", "error", err)
		}
	}()

	srv, err := engine.New(cfg, app,
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithTraceSink(trace.NewSink(opts.traceOut)),
	)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	var (
		metricsSrv *http.Server
		metricsLn  net.Listener
		metricsAt  net.Addr
	)
	if cfg.MetricsAddr != "" {
		metricsLn, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			_ = srv.Stop(context.Background())
			return fmt.Errorf("failed to bind metrics listener %s: %w", cfg.MetricsAddr, err)
		}
		metricsAt = metricsLn.Addr()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Info("metrics listening", "addr", metricsAt.String())
	}

	if opts.ready != nil {
		opts.ready(srv.Addr(), metricsAt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.Serve(metricsLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(log, srv, metricsSrv)
	})

	return g.Wait()
}

// shutdown drains the server, then stops the metrics listener.
func shutdown(log *slog.Logger, srv *engine.Server, metricsSrv *http.Server) error {
	var errs []error
	if err := srv.Stop(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics listener: %w", err))
		}
	}
	if len(errs) == 0 {
		log.Info("shutdown complete")
	}
	return errors.Join(errs...)
}
