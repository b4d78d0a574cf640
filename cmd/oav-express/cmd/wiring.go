package cmd

import (
	"fmt"
	"io"

	"github.com/vladbarosan/oav-express/pkg/config"
	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/specsource"
	"github.com/vladbarosan/oav-express/pkg/store"
	"github.com/vladbarosan/oav-express/pkg/telemetry"
	"github.com/vladbarosan/oav-express/pkg/tracing"
	"github.com/vladbarosan/oav-express/pkg/validator"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

// newLogger logs to console, and to <log.dir>/<component>/<sub>.log when a
// log directory is configured
func newLogger(cfg *config.Config, component, sub string, console io.Writer) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.Dir == "" {
		return logging.NewWriterLogger(console, level, cfg.Log.JSON), nil
	}
	return logging.NewFileLogger(cfg.Log.Dir, component, sub, level, cfg.Log.JSON, console)
}

func newStore(cfg *config.Config) (store.ResultsStore, error) {
	return store.NewStore(store.Config{
		Type:            cfg.Store.Type,
		DSN:             cfg.Store.DSN,
		Path:            cfg.Store.Path,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		Redis: store.RedisConfig{
			Address:     cfg.Store.Redis.Address,
			Password:    cfg.Store.Redis.Password,
			DB:          cfg.Store.Redis.DB,
			PoolSize:    cfg.Store.Redis.PoolSize,
			PoolTimeout: cfg.Store.Redis.PoolTimeout,
			KeyTTL:      cfg.Store.Redis.KeyTTL,
		},
	})
}

// newPublisher always logs trace records and ships them to Kafka when enabled
func newPublisher(cfg *config.Config, logger *logging.Logger) (telemetry.Publisher, error) {
	publishers := telemetry.MultiPublisher{telemetry.NewLogPublisher(logger)}
	if cfg.Telemetry.Kafka.Enabled {
		kafka, err := telemetry.NewKafkaPublisher(telemetry.KafkaConfig{
			Brokers:   cfg.Telemetry.Kafka.Brokers,
			Topic:     cfg.Telemetry.Kafka.Topic,
			QueueSize: cfg.Telemetry.Kafka.QueueSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start kafka telemetry: %w", err)
		}
		publishers = append(publishers, kafka)
	}
	return publishers, nil
}

func newTracer(cfg *config.Config, logger *logging.Logger) (*tracing.Provider, error) {
	return tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Server.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
}

func newValidatorFactory(cfg *config.Config, logger *logging.Logger) validator.Factory {
	git := specsource.NewGitSource(specsource.GitConfig{
		CacheDir:     cfg.Specs.CacheDir,
		CloneTimeout: cfg.Specs.CloneTimeout,
		GitBinary:    cfg.Specs.GitBinary,
	}, logger)
	return validator.NewLiveValidatorFactory(specsource.NewResolver(git), cfg.Specs.DefaultRepoURL, logger)
}

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		InboxSize:   cfg.Sessions.InboxSize,
		GracePeriod: cfg.Sessions.GracePeriod,
	}
}
