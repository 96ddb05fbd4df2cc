package poolx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePoolConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      *PoolConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "With_nil_config",
			config:      nil,
			expectError: true,
			errorMsg:    "configuration cannot be nil",
		},
		{
			name:        "With_default_config",
			config:      DefaultPoolConfig(),
			expectError: false,
		},
		{
			name:        "With_high_throughput_config",
			config:      HighThroughputPoolConfig(),
			expectError: false,
		},
		{
			name:        "With_production_config",
			config:      ProductionPoolConfig(),
			expectError: false,
		},
		{
			name: "With_negative_min",
			config: &PoolConfig{
				Min:            -1,
				Max:            10,
				AcquireTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "min connections cannot be negative",
		},
		{
			name: "With_zero_max",
			config: &PoolConfig{
				Min:            0,
				Max:            0,
				AcquireTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "max connections must be positive",
		},
		{
			name: "With_min_above_max",
			config: &PoolConfig{
				Min:            10,
				Max:            5,
				AcquireTimeout: time.Second,
			},
			expectError: true,
			errorMsg:    "min connections cannot exceed max connections",
		},
		{
			name: "With_zero_acquire_timeout",
			config: &PoolConfig{
				Min: 1,
				Max: 5,
			},
			expectError: true,
			errorMsg:    "acquire timeout must be positive",
		},
		{
			name: "With_negative_max_waiting_clients",
			config: &PoolConfig{
				Min:               1,
				Max:               5,
				AcquireTimeout:    time.Second,
				MaxWaitingClients: -1,
			},
			expectError: true,
			errorMsg:    "max waiting clients cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePoolConfig(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.True(t, IsInvalidConfig(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePoolConfig_FillsDefaults(t *testing.T) {
	config := &PoolConfig{
		Min:              1,
		Max:              5,
		AcquireTimeout:   time.Second,
		EnableProbeCache: true,
	}

	require.NoError(t, validatePoolConfig(config))
	assert.Equal(t, 5*time.Minute, config.IdleTimeout)
	assert.Equal(t, 10*time.Second, config.CreateTimeout)
	assert.Equal(t, 5*time.Second, config.DestroyTimeout)
	assert.Equal(t, 3*time.Second, config.ValidateTimeout)
	assert.Equal(t, 1*time.Minute, config.ReapInterval)
	assert.Equal(t, 5*time.Second, config.ProbeCacheTTL)
}

func TestPoolConfig_Validate(t *testing.T) {
	result := DefaultPoolConfig().Validate()
	require.NotNil(t, result)
	assert.True(t, result.Valid)
}

func TestLoadPoolConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	data := []byte(`min: 4
max: 20
acquire_timeout: 15s
idle_timeout: 90s
reap_interval: 45s
max_waiting_clients: 100
test_on_borrow: false
test_on_return: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	config, err := LoadPoolConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, config.Min)
	assert.Equal(t, 20, config.Max)
	assert.Equal(t, 15*time.Second, config.AcquireTimeout)
	assert.Equal(t, 90*time.Second, config.IdleTimeout)
	assert.Equal(t, 45*time.Second, config.ReapInterval)
	assert.Equal(t, 100, config.MaxWaitingClients)
	assert.False(t, config.TestOnBorrow)
	assert.True(t, config.TestOnReturn)

	// Settings absent from the file keep their defaults
	assert.Equal(t, 10*time.Second, config.CreateTimeout)
}

func TestLoadPoolConfigFromFile_MissingFile(t *testing.T) {
	_, err := LoadPoolConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadPoolConfigFromFile_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min: 50\nmax: 5\n"), 0o600))

	_, err := LoadPoolConfigFromFile(path)
	require.Error(t, err)
	assert.True(t, IsInvalidConfig(err))
}

func TestLoadPoolConfigFromEnvironment(t *testing.T) {
	t.Setenv("POOLX_MIN", "7")
	t.Setenv("POOLX_MAX", "70")
	t.Setenv("POOLX_ACQUIRE_TIMEOUT", "9s")
	t.Setenv("POOLX_IDLE_TIMEOUT", "3m")
	t.Setenv("POOLX_REAP_INTERVAL", "20s")
	t.Setenv("POOLX_MAX_WAITING_CLIENTS", "250")
	t.Setenv("POOLX_TEST_ON_BORROW", "false")
	t.Setenv("POOLX_TEST_ON_RETURN", "true")
	t.Setenv("POOLX_TEST_ON_IDLE", "false")

	config := DefaultPoolConfig()
	LoadPoolConfigFromEnvironment(config)

	assert.Equal(t, 7, config.Min)
	assert.Equal(t, 70, config.Max)
	assert.Equal(t, 9*time.Second, config.AcquireTimeout)
	assert.Equal(t, 3*time.Minute, config.IdleTimeout)
	assert.Equal(t, 20*time.Second, config.ReapInterval)
	assert.Equal(t, 250, config.MaxWaitingClients)
	assert.False(t, config.TestOnBorrow)
	assert.True(t, config.TestOnReturn)
	assert.False(t, config.TestOnIdle)
}

func TestLoadPoolConfigFromEnvironment_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("POOLX_MIN", "not-a-number")
	t.Setenv("POOLX_ACQUIRE_TIMEOUT", "soon")

	config := DefaultPoolConfig()
	LoadPoolConfigFromEnvironment(config)

	assert.Equal(t, 2, config.Min)
	assert.Equal(t, 30*time.Second, config.AcquireTimeout)
}
