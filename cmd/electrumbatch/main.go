package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"electrumbatch/internal/batch"
	"electrumbatch/internal/cache"
	"electrumbatch/internal/config"
	"electrumbatch/internal/electrum"
	"electrumbatch/internal/loop"
	"electrumbatch/internal/metrics"
	"electrumbatch/internal/retry"
	"electrumbatch/internal/session"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.json", "path to config file")
	inputPath := flag.String("input", "scripthashes.json", "JSON array of scripthashes or addresses")
	outDir := flag.String("out", ".", "directory for the result files")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", *configPath).
		Str("server", cfg.Server).
		Str("mode", cfg.Mode).
		Int("batchLimit", cfg.BatchLimit).
		Msg("starting electrumbatch")

	targets, err := readTargets(*inputPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read input")
	}
	logger.Info().Int("scripthashes", len(targets)).Msg("input loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, targets, *outDir, logger); err != nil {
		logger.Error().Err(err).Msg("run failed")
		stop()
		os.Exit(1)
	}
}

// run wires the network, executes the lookups and writes the output files
func run(ctx context.Context, cfg *config.Config, targets []target, outDir string, logger zerolog.Logger) error {
	rpc, sess, err := buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}

	lp := loop.New(loop.Config{MaxConcurrent: cfg.LoopConcurrency}, logger)
	network, err := electrum.New(sess, lp, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := network.Close(); err != nil {
			logger.Warn().Err(err).Msg("error during shutdown")
		}
	}()

	if cfg.IsMetricsEnabled() {
		srv := startMetrics(cfg.Metrics.Listen, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := network.Start(ctx); err != nil {
		return fmt.Errorf("failed to start network: %w", err)
	}

	mode, err := batch.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	opts := batch.Options{
		BatchLimit: cfg.BatchLimit,
		RaiseError: cfg.RaiseError,
		MaxPending: cfg.MaxPending,
		Dispatcher: batch.NewDispatcher(mode, cfg.Threads, cfg.MaxInFlight),
	}
	if cfg.IsRetryEnabled() {
		opts.Retry = retry.NewBackoff(retry.Config{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.GetInitialIntervalDuration(),
			MaxInterval:     cfg.Retry.GetMaxIntervalDuration(),
			Multiplier:      cfg.Retry.Multiplier,
		}, logger)
	}

	client := batch.New(network, opts, logger)
	lookups := make([]*lookup, 0, len(targets))

	started := time.Now()
	runErr := client.Do(ctx, func(c *batch.Client) error {
		for _, t := range targets {
			l, err := queueLookup(c, t)
			if err != nil {
				return err
			}
			lookups = append(lookups, l)
		}
		return nil
	})

	stats := rpc.Stats()
	logger.Info().
		Int("requests", client.Results().Len()).
		Int("failedChunks", len(client.Failures())).
		Int64("wireBatches", stats.Batches).
		Int64("wireRequests", stats.Requests).
		Int64("reconnects", stats.Reconnects).
		Str("breaker", stats.Breaker).
		Dur("elapsed", time.Since(started)).
		Msg("lookups finished")

	// Whatever was resolved is written even when the run failed
	if err := writeOutputs(outDir, lookups, logger); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// buildSession creates the RPC session and the session the clients use, which
// wraps it in a caching session when enabled
func buildSession(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*session.RPCSession, session.Session, error) {
	opts := session.Options{
		Server:            cfg.Server,
		ClientName:        cfg.ClientName,
		ProtocolVersion:   cfg.ProtocolVersion,
		ConnectTimeout:    cfg.GetConnectTimeoutDuration(),
		RequestTimeout:    cfg.GetRequestTimeoutDuration(),
		MessageTimeout:    cfg.GetMessageTimeoutDuration(),
		PingInterval:      cfg.GetPingIntervalDuration(),
		ReconnectInterval: cfg.GetReconnectIntervalDuration(),
		Dial: session.Dialer{
			HandshakeTimeout:   cfg.GetConnectTimeoutDuration(),
			InsecureSkipVerify: !cfg.TLSVerify,
		}.Dial,
	}
	if cfg.IsCircuitBreakerEnabled() {
		opts.Breaker = session.BreakerConfig{
			Enabled:             true,
			FailureThreshold:    cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:     cfg.CircuitBreaker.GetRecoveryTimeoutDuration(),
			HalfOpenMaxRequests: cfg.CircuitBreaker.HalfOpenMaxRequests,
		}
	}

	rpc := session.NewRPCSession(opts, logger)
	if !cfg.IsCacheEnabled() {
		return rpc, rpc, nil
	}

	c, err := buildCache(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, nil, err
	}
	rules := cache.NewRules(cfg.Cache.IncludeVolatile, cfg.Cache.DisabledMethods)
	logger.Info().
		Str("backend", c.Name()).
		Bool("includeVolatile", cfg.Cache.IncludeVolatile).
		Msg("result cache enabled")
	return rpc, cache.NewCachingSession(rpc, c, rules, logger), nil
}

// buildCache creates the configured cache backend
func buildCache(ctx context.Context, cfg *config.CacheConfig, logger zerolog.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rc := cache.NewRedisCache(client, cfg.Prefix, cfg.GetTTLDuration(), logger)
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rc, nil
	default:
		mc, err := cache.NewMemoryCache(cfg.Size, cfg.GetTTLDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		return mc, nil
	}
}

// startMetrics serves the Prometheus endpoint in the background
func startMetrics(listen string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("listen", listen).Msg("metrics endpoint started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
	return srv
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
