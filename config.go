package poolx

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/seasbee/go-validatorx"
	"gopkg.in/yaml.v3"
)

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	// Pool sizing
	Min int `yaml:"min" json:"min" validate:"gte:0"`
	Max int `yaml:"max" json:"max" validate:"min:1,max:10000"`

	// Timeout settings
	AcquireTimeout  time.Duration `yaml:"acquire_timeout" json:"acquire_timeout" validate:"gte:0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"gte:0"`
	CreateTimeout   time.Duration `yaml:"create_timeout" json:"create_timeout" validate:"gte:0"`
	DestroyTimeout  time.Duration `yaml:"destroy_timeout" json:"destroy_timeout" validate:"gte:0"`
	ValidateTimeout time.Duration `yaml:"validate_timeout" json:"validate_timeout" validate:"gte:0"`

	// Maintenance settings
	ReapInterval time.Duration `yaml:"reap_interval" json:"reap_interval" validate:"gte:0"`

	// Waiting queue settings
	MaxWaitingClients int `yaml:"max_waiting_clients" json:"max_waiting_clients" validate:"gte:0"`

	// Validation policies
	TestOnBorrow bool `yaml:"test_on_borrow" json:"test_on_borrow"`
	TestOnReturn bool `yaml:"test_on_return" json:"test_on_return"`
	TestOnIdle   bool `yaml:"test_on_idle" json:"test_on_idle"`

	// Probe cache settings: a successful liveness probe is remembered for
	// ProbeCacheTTL so borrow-time validation does not re-ping a connection
	// probed moments ago
	EnableProbeCache bool          `yaml:"enable_probe_cache" json:"enable_probe_cache"`
	ProbeCacheTTL    time.Duration `yaml:"probe_cache_ttl" json:"probe_cache_ttl" validate:"gte:0"`
}

// DefaultPoolConfig returns a default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Min:               2,
		Max:               10,
		AcquireTimeout:    30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		CreateTimeout:     10 * time.Second,
		DestroyTimeout:    5 * time.Second,
		ValidateTimeout:   3 * time.Second,
		ReapInterval:      1 * time.Minute,
		MaxWaitingClients: 50,
		TestOnBorrow:      true,
		TestOnReturn:      false,
		TestOnIdle:        true,
		EnableProbeCache:  true,
		ProbeCacheTTL:     5 * time.Second,
	}
}

// HighThroughputPoolConfig returns a configuration tuned for high request rates
func HighThroughputPoolConfig() *PoolConfig {
	return &PoolConfig{
		Min:               20,
		Max:               100,
		AcquireTimeout:    10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		CreateTimeout:     5 * time.Second,
		DestroyTimeout:    2 * time.Second,
		ValidateTimeout:   1 * time.Second,
		ReapInterval:      30 * time.Second,
		MaxWaitingClients: 500,
		TestOnBorrow:      false,
		TestOnReturn:      false,
		TestOnIdle:        true,
		EnableProbeCache:  true,
		ProbeCacheTTL:     10 * time.Second,
	}
}

// ProductionPoolConfig returns a production-ready configuration
func ProductionPoolConfig() *PoolConfig {
	return &PoolConfig{
		Min:               10,
		Max:               50,
		AcquireTimeout:    60 * time.Second,
		IdleTimeout:       10 * time.Minute,
		CreateTimeout:     15 * time.Second,
		DestroyTimeout:    10 * time.Second,
		ValidateTimeout:   5 * time.Second,
		ReapInterval:      2 * time.Minute,
		MaxWaitingClients: 200,
		TestOnBorrow:      true,
		TestOnReturn:      true,
		TestOnIdle:        true,
		EnableProbeCache:  true,
		ProbeCacheTTL:     5 * time.Second,
	}
}

// Validate validates the PoolConfig using go-validatorx
func (c *PoolConfig) Validate() *validatorx.ValidationResult {
	return validatorx.ValidateStruct(c)
}

// validatePoolConfig checks the cross-field rules struct tags cannot express
// and fills in defaults for optional settings
func validatePoolConfig(config *PoolConfig) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil: %w", ErrInvalidConfig)
	}

	if config.Min < 0 {
		return fmt.Errorf("min connections cannot be negative: %w", ErrInvalidConfig)
	}
	if config.Max <= 0 {
		return fmt.Errorf("max connections must be positive: %w", ErrInvalidConfig)
	}
	if config.Min > config.Max {
		return fmt.Errorf("min connections cannot exceed max connections: %w", ErrInvalidConfig)
	}
	if config.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive: %w", ErrInvalidConfig)
	}
	if config.MaxWaitingClients < 0 {
		return fmt.Errorf("max waiting clients cannot be negative: %w", ErrInvalidConfig)
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.CreateTimeout <= 0 {
		config.CreateTimeout = 10 * time.Second
	}
	if config.DestroyTimeout <= 0 {
		config.DestroyTimeout = 5 * time.Second
	}
	if config.ValidateTimeout <= 0 {
		config.ValidateTimeout = 3 * time.Second
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = 1 * time.Minute
	}
	if config.EnableProbeCache && config.ProbeCacheTTL <= 0 {
		config.ProbeCacheTTL = 5 * time.Second
	}

	return nil
}

// LoadPoolConfigFromFile loads a pool configuration from a YAML file
func LoadPoolConfigFromFile(filename string) (*PoolConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultPoolConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := validatePoolConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadPoolConfigFromEnvironment overrides configuration values from
// POOLX_* environment variables
func LoadPoolConfigFromEnvironment(config *PoolConfig) {
	if config == nil {
		return
	}

	if v := os.Getenv("POOLX_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Min = n
		}
	}
	if v := os.Getenv("POOLX_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Max = n
		}
	}
	if v := os.Getenv("POOLX_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.AcquireTimeout = d
		}
	}
	if v := os.Getenv("POOLX_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.IdleTimeout = d
		}
	}
	if v := os.Getenv("POOLX_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReapInterval = d
		}
	}
	if v := os.Getenv("POOLX_MAX_WAITING_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxWaitingClients = n
		}
	}
	if v := os.Getenv("POOLX_TEST_ON_BORROW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.TestOnBorrow = b
		}
	}
	if v := os.Getenv("POOLX_TEST_ON_RETURN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.TestOnReturn = b
		}
	}
	if v := os.Getenv("POOLX_TEST_ON_IDLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.TestOnIdle = b
		}
	}
}
