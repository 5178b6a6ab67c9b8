package config

import "time"

// Dispatch modes
const (
	ModeSequential = "sequential"
	ModeThreaded   = "threaded"
	ModeAsync      = "async"
)

// Cache backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the main configuration structure
type Config struct {
	LogLevel        string `json:"logLevel"`
	Server          string `json:"server"` // tcp://, ssl://, ws://, wss:// or host:port:t|s
	ClientName      string `json:"clientName"`
	ProtocolVersion string `json:"protocolVersion"`
	TLSVerify       bool   `json:"tlsVerify"`

	ConnectTimeout    int `json:"connectTimeout"`    // ms
	RequestTimeout    int `json:"requestTimeout"`    // ms - per batch round trip
	MessageTimeout    int `json:"messageTimeout"`    // ms - idle read limit on the connection
	PingInterval      int `json:"pingInterval"`      // ms - negative disables keepalive
	ReconnectInterval int `json:"reconnectInterval"` // ms - negative disables reconnection

	BatchLimit      int    `json:"batchLimit"`
	Mode            string `json:"mode"`
	Threads         int    `json:"threads"`     // 0 means CPU count minus one
	MaxInFlight     int    `json:"maxInFlight"` // async mode; 0 means unbounded
	RaiseError      bool   `json:"raiseError"`
	MaxPending      int    `json:"maxPending"`      // 0 means unbounded
	LoopConcurrency int    `json:"loopConcurrency"` // 0 means unbounded

	Retry          *RetryConfig          `json:"retry,omitempty"`
	Cache          *CacheConfig          `json:"cache,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `json:"circuitBreaker,omitempty"`
	Metrics        *MetricsConfig        `json:"metrics,omitempty"`
}

// RetryConfig represents chunk retry configuration
type RetryConfig struct {
	Enabled         bool    `json:"enabled"`
	MaxAttempts     int     `json:"maxAttempts"`
	InitialInterval int     `json:"initialInterval"` // ms
	MaxInterval     int     `json:"maxInterval"`     // ms
	Multiplier      float64 `json:"multiplier"`
}

// CacheConfig represents result cache configuration
type CacheConfig struct {
	Enabled         bool     `json:"enabled"`
	Backend         string   `json:"backend"`
	RedisAddr       string   `json:"redisAddr"`
	RedisPassword   string   `json:"redisPassword"`
	RedisDB         int      `json:"redisDb"`
	Prefix          string   `json:"prefix"`
	TTL             int      `json:"ttl"`             // seconds
	Size            int      `json:"size"`            // number of entries, memory backend
	IncludeVolatile bool     `json:"includeVolatile"` // cache balances, utxos and mempool too
	DisabledMethods []string `json:"disabledMethods"` // methods to exclude from caching
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled"`
	FailureThreshold    int  `json:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests"`
}

// MetricsConfig represents the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// Default values
const (
	DefaultLogLevel          = "info"
	DefaultClientName        = "electrumbatch"
	DefaultProtocolVersion   = "1.4"
	DefaultConnectTimeout    = 10000 // ms
	DefaultRequestTimeout    = 30000 // ms
	DefaultMessageTimeout    = 60000 // ms
	DefaultPingInterval      = 30000 // ms
	DefaultReconnectInterval = 5000  // ms
	DefaultBatchLimit        = 50
	DefaultMode              = ModeThreaded

	DefaultRetryMaxAttempts     = 3
	DefaultRetryInitialInterval = 500   // ms
	DefaultRetryMaxInterval     = 10000 // ms
	DefaultRetryMultiplier      = 2.0

	DefaultCacheBackend = BackendMemory
	DefaultCacheTTL     = 60 // seconds
	DefaultCacheSize    = 100000
	DefaultCachePrefix  = "electrumbatch"

	DefaultCBFailureThreshold    = 5
	DefaultCBRecoveryTimeout     = 30000 // ms
	DefaultCBHalfOpenMaxRequests = 1

	DefaultMetricsListen = ":9102"
)

// GetConnectTimeoutDuration returns connect timeout as time.Duration
func (c *Config) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Millisecond
}

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetMessageTimeoutDuration returns message timeout as time.Duration
func (c *Config) GetMessageTimeoutDuration() time.Duration {
	return time.Duration(c.MessageTimeout) * time.Millisecond
}

// GetPingIntervalDuration returns ping interval as time.Duration, 0 when disabled
func (c *Config) GetPingIntervalDuration() time.Duration {
	if c.PingInterval < 0 {
		return 0
	}
	return time.Duration(c.PingInterval) * time.Millisecond
}

// GetReconnectIntervalDuration returns reconnect interval as time.Duration, 0 when disabled
func (c *Config) GetReconnectIntervalDuration() time.Duration {
	if c.ReconnectInterval < 0 {
		return 0
	}
	return time.Duration(c.ReconnectInterval) * time.Millisecond
}

// IsRetryEnabled returns true if chunk retries are configured and enabled
func (c *Config) IsRetryEnabled() bool {
	return c.Retry != nil && c.Retry.Enabled
}

// IsCacheEnabled returns true if cache is configured and enabled
func (c *Config) IsCacheEnabled() bool {
	return c.Cache != nil && c.Cache.Enabled
}

// IsCircuitBreakerEnabled returns true if the circuit breaker is configured and enabled
func (c *Config) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// IsMetricsEnabled returns true if the metrics endpoint is configured and enabled
func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// GetInitialIntervalDuration returns the first backoff as time.Duration
func (r *RetryConfig) GetInitialIntervalDuration() time.Duration {
	return time.Duration(r.InitialInterval) * time.Millisecond
}

// GetMaxIntervalDuration returns the backoff cap as time.Duration
func (r *RetryConfig) GetMaxIntervalDuration() time.Duration {
	return time.Duration(r.MaxInterval) * time.Millisecond
}

// GetTTLDuration returns cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetRecoveryTimeoutDuration returns recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}
