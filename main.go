package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-identity-verifier/attestation"
	"go-identity-verifier/biometric"
	"go-identity-verifier/document"
	"go-identity-verifier/images"
	"go-identity-verifier/logging"
	"go-identity-verifier/metrics"
	"go-identity-verifier/redis"
	"go-identity-verifier/verification"
)

const janitorInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	config, err := readConfigFile(*configPath)
	if err != nil {
		fatal("failed to read config file", err)
	}
	logging.InitLoggerWithFormat(config.LogLevel, config.LogFormat)
	slog.Info("Using config", "path", *configPath)

	engines, err := createEngines(&config)
	if err != nil {
		fatal("failed to instantiate recognition engines", err)
	}

	storage, err := createSnapshotStorage(&config)
	if err != nil {
		fatal("failed to instantiate snapshot storage", err)
	}

	attester, err := createAttester(config.Attestation)
	if err != nil {
		fatal("failed to instantiate attester", err)
	}

	m := metrics.New()
	pipeline := verification.Pipeline{
		Normalizer: images.NewNormalizer(config.Verification.MaxImageDimension, config.Verification.JpegQuality),
		Verifier:   document.NewVerifier(engines.Text),
		Extractor:  biometric.NewExtractor(engines.Face),
		Attester:   attester,
		Store:      storage,
		Recorder:   m,
	}

	sessions := verification.NewService(
		config.Verification.toSessionConfig(),
		pipeline,
		[]verification.Loader{engines.Face},
		engines.NewDevice,
		config.Capture.constraints(),
	)

	serverState := ServerState{
		sessions: sessions,
		metrics:  m.Handler(),
		health:   engines.healthChecks(),
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		fatal("failed to create server", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.RunJanitor(ctx, janitorInterval)
	go func() {
		<-ctx.Done()
		if err := server.Stop(); err != nil {
			slog.Error("failed to stop server", "error", err)
		}
	}()

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("failed to listen and serve", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessions.Shutdown(shutdownCtx)
	engines.Close()
	slog.Info("Recognition engines released")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func createSnapshotStorage(config *Config) (verification.SnapshotStore, error) {
	ttl := config.Verification.SessionTTL.Std()
	if config.StorageType == "redis" {
		slog.Info("Using redis snapshot storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSnapshotStorage(client, config.RedisConfig.Namespace, ttl), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel snapshot storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSnapshotStorage(client, config.RedisSentinelConfig.Namespace, ttl), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory snapshot storage")
		return NewInMemorySnapshotStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}

// createAttester returns nil when no signing key is configured; verified
// sessions then carry no attestation token.
func createAttester(config AttestationConfig) (verification.Attester, error) {
	if config.PrivateKeyPath == "" {
		slog.Warn("No attestation key configured, verified sessions will not be attested")
		return nil, nil
	}
	attester, err := attestation.NewJwtAttester(config.PrivateKeyPath, config.Issuer, config.Validity.Std())
	if err != nil {
		return nil, err
	}
	return attester, nil
}
