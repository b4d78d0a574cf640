package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vladbarosan/oav-express/pkg/api"
	"github.com/vladbarosan/oav-express/pkg/config"
	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
	"github.com/vladbarosan/oav-express/pkg/ratelimit"
	"github.com/vladbarosan/oav-express/pkg/registry"
	"github.com/vladbarosan/oav-express/pkg/shutdown"
	"github.com/vladbarosan/oav-express/pkg/supervisor"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

// serveCmd runs the front door
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation front door",
	Long:  `Serve the HTTP API that admits validation sessions, fans live traffic out to their workers and returns flushed results.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "server", "front-door", os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	log.Printf("Starting oav-express %s", Version)
	logger.Info("Configuration loaded", map[string]interface{}{
		"port":           cfg.Server.Port,
		"environment":    cfg.Server.Environment,
		"isolation":      cfg.Sessions.Isolation,
		"store":          cfg.Store.Type,
		"max_sessions":   cfg.Sessions.MaxConcurrent,
		"max_duration_s": cfg.Sessions.MaxDurationSeconds,
	})

	// Sessions may take a full grace period each to drain, and they drain
	// concurrently
	shut := shutdown.New(2*cfg.Sessions.GracePeriod+15*time.Second, logger)

	results, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}
	shut.Register("results store", shutdown.CloseResource(results, "results store"))

	tracer, err := newTracer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shut.Register("tracer", tracer.Shutdown)

	reg := registry.New(cfg.Sessions.Retention, logger.WithField("component", "registry"))
	shut.Register("registry", func(ctx context.Context) error {
		reg.Close()
		return nil
	})

	spawner, err := newSpawner(cfg, results, logger, shut)
	if err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Config{
		MaxSessions:        cfg.Sessions.MaxConcurrent,
		MaxDurationSeconds: cfg.Sessions.MaxDurationSeconds,
		GracePeriod:        cfg.Sessions.GracePeriod,
		DefaultRepoURL:     cfg.Specs.DefaultRepoURL,
	}, reg, spawner, logger.WithField("component", "supervisor"))
	shut.Register("supervisor", sup.Shutdown)

	opts := api.RouterOptions{
		Monitor: metrics.NewHTTPMonitor(prometheus.DefaultRegisterer),
		Tracer:  tracer,
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, ratelimit.DefaultIdleTimeout)
		shut.Register("rate limiter", func(ctx context.Context) error {
			limiter.Close()
			return nil
		})
		opts.Limiter = limiter
	}

	doc, err := api.SwaggerDocument(cfg.IsProduction(), cfg.Server.SwaggerHost)
	if err != nil {
		return err
	}
	handler := api.NewHandler(sup, results, doc, logger.WithField("component", "api"))

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Port, metrics.NewCollector(reg, prometheus.DefaultGatherer))
		go func() {
			logger.Info("Metrics server listening", map[string]interface{}{"port": cfg.Metrics.Port})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
		shut.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics"))
	}

	srv := api.NewServer(api.ServerConfig{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, api.NewRouter(handler, opts))
	go func() {
		logger.Info("oav-express listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
			shut.Trigger()
		}
	}()
	shut.Register("http server", shutdown.StopHTTPServer(srv, "http"))

	shut.Wait()
	logger.Info("Shutting down gracefully...")
	if failed := shut.Shutdown(); failed > 0 {
		return fmt.Errorf("%d shutdown steps failed", failed)
	}
	return nil
}

// newSpawner picks the worker isolation mode
func newSpawner(cfg *config.Config, sink worker.ResultsSink, logger *logging.Logger, shut *shutdown.Manager) (supervisor.Spawner, error) {
	switch cfg.Sessions.Isolation {
	case config.IsolationProcess:
		args := []string{workerCmd.Name()}
		if cfgFile != "" {
			args = append(args, "--config", cfgFile)
		}
		return &supervisor.ProcessSpawner{
			Args:      args,
			InboxSize: cfg.Sessions.InboxSize,
			Logger:    logger.WithField("component", "spawner"),
		}, nil
	default:
		publisher, err := newPublisher(cfg, logger.WithField("component", "telemetry"))
		if err != nil {
			return nil, err
		}
		shut.Register("telemetry", shutdown.CloseResource(publisher, "telemetry"))
		return &supervisor.LocalSpawner{
			Factory:   newValidatorFactory(cfg, logger.WithField("component", "specs")),
			Sink:      sink,
			Publisher: publisher,
			Config:    workerConfig(cfg),
			Logger:    logger.WithField("component", "worker"),
		}, nil
	}
}
