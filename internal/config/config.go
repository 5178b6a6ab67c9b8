package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration JSON, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MessageTimeout == 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	// Negative intervals disable keepalive and reconnection
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}

	if cfg.Retry != nil {
		if cfg.Retry.MaxAttempts == 0 {
			cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
		}
		if cfg.Retry.InitialInterval == 0 {
			cfg.Retry.InitialInterval = DefaultRetryInitialInterval
		}
		if cfg.Retry.MaxInterval == 0 {
			cfg.Retry.MaxInterval = DefaultRetryMaxInterval
		}
		if cfg.Retry.Multiplier == 0 {
			cfg.Retry.Multiplier = DefaultRetryMultiplier
		}
	}

	if cfg.Cache != nil {
		if cfg.Cache.Backend == "" {
			cfg.Cache.Backend = DefaultCacheBackend
		}
		if cfg.Cache.TTL == 0 {
			cfg.Cache.TTL = DefaultCacheTTL
		}
		if cfg.Cache.Size == 0 {
			cfg.Cache.Size = DefaultCacheSize
		}
		if cfg.Cache.Prefix == "" {
			cfg.Cache.Prefix = DefaultCachePrefix
		}
	}

	if cfg.CircuitBreaker != nil {
		if cfg.CircuitBreaker.FailureThreshold == 0 {
			cfg.CircuitBreaker.FailureThreshold = DefaultCBFailureThreshold
		}
		if cfg.CircuitBreaker.RecoveryTimeout == 0 {
			cfg.CircuitBreaker.RecoveryTimeout = DefaultCBRecoveryTimeout
		}
		if cfg.CircuitBreaker.HalfOpenMaxRequests == 0 {
			cfg.CircuitBreaker.HalfOpenMaxRequests = DefaultCBHalfOpenMaxRequests
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Server == "" {
		return errors.New("server is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Mode {
	case ModeSequential, ModeThreaded, ModeAsync:
	default:
		return fmt.Errorf("mode must be one of: sequential, threaded, async")
	}

	if cfg.BatchLimit < 1 {
		return fmt.Errorf("batchLimit must be positive")
	}
	if cfg.ConnectTimeout < 0 || cfg.RequestTimeout < 0 || cfg.MessageTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	if cfg.Threads < 0 {
		return fmt.Errorf("threads must be non-negative")
	}
	if cfg.MaxInFlight < 0 {
		return fmt.Errorf("maxInFlight must be non-negative")
	}
	if cfg.MaxPending < 0 {
		return fmt.Errorf("maxPending must be non-negative")
	}
	if cfg.LoopConcurrency < 0 {
		return fmt.Errorf("loopConcurrency must be non-negative")
	}

	if cfg.IsRetryEnabled() {
		if cfg.Retry.MaxAttempts < 1 {
			return fmt.Errorf("retry.maxAttempts must be positive")
		}
		if cfg.Retry.Multiplier < 1 {
			return fmt.Errorf("retry.multiplier must be at least 1")
		}
	}

	if cfg.IsCacheEnabled() {
		switch cfg.Cache.Backend {
		case BackendMemory:
			if cfg.Cache.Size <= 0 {
				return fmt.Errorf("cache.size must be positive for the memory backend")
			}
		case BackendRedis:
			if cfg.Cache.RedisAddr == "" {
				return fmt.Errorf("cache.redisAddr is required for the redis backend")
			}
		default:
			return fmt.Errorf("cache.backend must be one of: memory, redis")
		}
		if cfg.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive when cache is enabled")
		}
	}

	if cfg.IsCircuitBreakerEnabled() && cfg.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuitBreaker.failureThreshold must be positive")
	}

	return nil
}
