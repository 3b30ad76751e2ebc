// Command clinicflow serves the clinical workflow Action API and provides
// maintenance subcommands for the persisted state document.
//
// Usage:
//
//	clinicflow [serve|reset|dump]
//
// Configuration is read from CLINICFLOW_* environment variables. A .env file
// in the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"clinicflow/internal/api"
	"clinicflow/internal/blob"
	"clinicflow/internal/config"
	"clinicflow/internal/core"
	"clinicflow/internal/observability/metrics"
	"clinicflow/internal/persistence"
	"clinicflow/pkg/logging"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const usage = "usage: clinicflow [serve|reset|dump]"

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "load .env: %v\n", err)
		return 1
	}

	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}
	if len(args) > 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}
	log := logging.NewWithWriter(stderr, cfg.LogLevel, cfg.LogFormat).With("component", "clinicflow")

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log, stderr)
	case "reset":
		err = withStore(ctx, cfg, log, func(store *persistence.Store) error {
			if err := store.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "state reset")
			return nil
		})
	case "dump":
		err = withStore(ctx, cfg, log, func(store *persistence.Store) error {
			raw, err := store.Encode()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, string(raw))
			return err
		})
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return 0
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if err != nil {
		log.Error("command failed", "command", cmd, "error", err)
		return 1
	}
	return 0
}

func rulesEngine(cfg *config.Config) *core.RulesEngine {
	if cfg.StrictRules {
		return core.NewStrictRulesEngine()
	}
	return core.NewDefaultRulesEngine()
}

func withStore(ctx context.Context, cfg *config.Config, log *logging.Logger, fn func(*persistence.Store) error) error {
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer func() {
		if cerr := blob.Close(blobs); cerr != nil {
			log.Warn("close blob store", "error", cerr)
		}
	}()
	store, err := persistence.Open(ctx, blobs, rulesEngine(cfg),
		persistence.WithKey(cfg.StateKey),
		persistence.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	return fn(store)
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger, traceOut io.Writer) error {
	return withStore(ctx, cfg, log, func(store *persistence.Store) error {
		opts := []core.ServiceOption{core.WithLogger(log)}
		handlerOpts := api.Options{Logger: log}

		if cfg.MetricsEnabled {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			actionMetrics := metrics.NewActionMetrics(reg)
			actionMetrics.SetPatients(len(store.ListPatients()))
			opts = append(opts, core.WithMetricsRecorder(actionMetrics))
			handlerOpts.Metrics = actionMetrics
			handlerOpts.Gatherer = reg
		} else {
			opts = append(opts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")))
		}

		if cfg.TraceJSON {
			opts = append(opts, core.WithTracer(core.NewJSONTracer(traceOut)))
		} else {
			opts = append(opts, core.WithTracer(core.NewOtelTracer(nil)))
		}

		svc := core.NewService(store, opts...)
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewHandler(svc, handlerOpts).Routes(),
			ReadHeaderTimeout: cfg.ShutdownTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("http server listening", "addr", cfg.HTTPAddr, "driver", cfg.Blob.Driver, "strict_rules", cfg.StrictRules)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("http server stopped")
		return nil
	})
}
