package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/activecm/flowguard/logger"
	"github.com/activecm/flowguard/util"
	"github.com/go-playground/validator/v10"

	"github.com/hjson/hjson-go/v4"
	"github.com/spf13/afero"
)

var Version string

const DefaultConfigPath = "./config.hjson"

var errReadingConfigFile = errors.New("encountered an error while reading the config file")

type (
	Config struct {
		Env              Env              `json:"env" validate:"required"`
		Detection        Detection        `json:"detection" validate:"required"`
		Correlation      Correlation      `json:"correlation" validate:"required"`
		Validation       Validation       `json:"validation" validate:"required"`
		Resilience       Resilience       `json:"resilience" validate:"required"`
		CorrelationState CorrelationState `json:"correlation_state" validate:"required"`
		Publishing       Publishing       `json:"publishing" validate:"required"`
		MLClients        MLClients        `json:"ml_clients" validate:"required"`
		Pipeline         Pipeline         `json:"pipeline" validate:"required"`
		Database         Database         `json:"database" validate:"required"`
	}

	// Env holds values set from the process environment rather than the
	// config file.
	Env struct {
		DBConnection string `validate:"required,hostname_port"` // DB_ADDRESS
		DBUsername   string `json:"-"`
		DBPassword   string `json:"-"`
		LogLevel     int8   `validate:"min=0,max=6"` // LOG_LEVEL
	}

	// Detection tunes the five Tier 1 statistical detectors.
	Detection struct {
		PortScan     PortScanConfig     `json:"port_scan" validate:"required"`
		DDoS         DDoSConfig         `json:"ddos" validate:"required"`
		C2Beacon     C2BeaconConfig     `json:"c2_beacon" validate:"required"`
		CryptoMining CryptoMiningConfig `json:"crypto_mining" validate:"required"`
		TorUsage     TorUsageConfig     `json:"tor_usage" validate:"required"`
	}

	PortScanConfig struct {
		UniquePortThreshold int     `json:"unique_port_threshold" validate:"gte=1"`
		TimeWindowSeconds   int32   `json:"time_window_seconds" validate:"gte=1"`
		ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	}

	DDoSConfig struct {
		PacketRateThreshold float64 `json:"packet_rate_threshold" validate:"gt=0"`
		CriticalThreshold   float64 `json:"critical_threshold" validate:"gt=0"`
		HighThreshold       float64 `json:"high_threshold" validate:"gt=0"`
		ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	}

	C2BeaconConfig struct {
		CoefficientOfVarThreshold float64 `json:"coefficient_of_variation_threshold" validate:"gte=0,lte=100"`
		ConfidenceThreshold       float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	}

	CryptoMiningConfig struct {
		MinConnections      int     `json:"min_connections" validate:"gte=1"`
		DataThresholdBytes  uint64  `json:"data_threshold_bytes" validate:"gte=1"`
		ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	}

	TorUsageConfig struct {
		MinConnections      int     `json:"min_connections" validate:"gte=1"`
		ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	}

	// Correlation tunes Tier 3's multi-dimensional correlation engine.
	Correlation struct {
		EntityThreshold float64 `json:"entity_threshold" validate:"gte=0,lte=1"`
	}

	// Validation tunes Tier 4's four validation stages.
	Validation struct {
		WhitelistedIPs          []string      `json:"whitelisted_ips" validate:"omitempty,dive,ip"`
		WhitelistedSubnets      []util.Subnet `json:"whitelisted_subnets"`
		BusinessHoursStart      int           `json:"business_hours_start" validate:"gte=0,lte=23"`
		BusinessHoursEnd        int           `json:"business_hours_end" validate:"gte=0,lte=23,gtfield=BusinessHoursStart"`
		HistoricalFPRateCeiling float64       `json:"historical_fp_rate_ceiling" validate:"gte=0,lte=1"`
		PatternRepetitionCap    int           `json:"pattern_repetition_cap" validate:"gte=1"`
		PatternLookbackDays     int           `json:"pattern_lookback_days" validate:"gte=1"`
	}

	// Resilience configures the circuit breaker wrapping the publish bus
	// calls.
	Resilience struct {
		FailureThreshold   uint32 `json:"failure_threshold" validate:"gte=1"`
		RecoveryTimeoutSec int32  `json:"recovery_timeout_seconds" validate:"gte=1"`
		SuccessThreshold   uint32 `json:"success_threshold" validate:"gte=1"`
		CallTimeoutSec     int32  `json:"call_timeout_seconds" validate:"gte=1"`
	}

	// CorrelationState configures the cross-instance correlation state
	// store (pkg/corrstate).
	CorrelationState struct {
		RedisAddr           string `json:"redis_addr" validate:"omitempty,hostname_port"`
		TTLMinutes          int32  `json:"ttl_minutes" validate:"gte=1"`
		MaxHistory          int    `json:"max_history" validate:"gte=1"`
		CleanupIntervalMins int32  `json:"cleanup_interval_minutes" validate:"gte=1"`
	}

	// Publishing configures the event publisher (pkg/publish).
	Publishing struct {
		ProducerID          string  `json:"producer_id" validate:"required"`
		OutboxPath          string  `json:"outbox_path" validate:"required"`
		OutboxRatePerSecond float64 `json:"outbox_rate_per_second" validate:"gt=0"`
		PrimaryBusURL       string  `json:"primary_bus_url" validate:"omitempty,url"`
		FallbackBusURL      string  `json:"fallback_bus_url" validate:"omitempty,url"`
		BusTimeoutSec       int32   `json:"bus_timeout_seconds" validate:"gte=1"`
	}

	// MLModel is one Tier 2 model endpoint the manager dispatches to.
	MLModel struct {
		Name    string `json:"name" validate:"required"`
		BaseURL string `json:"base_url" validate:"required,url"`
	}

	// MLClients configures Tier 2's model client pool (pkg/mlclient).
	MLClients struct {
		Models                []MLModel `json:"models"`
		RequestTimeoutSec     int32     `json:"request_timeout_seconds" validate:"gte=1"`
		HealthCheckIntervalSec int32    `json:"health_check_interval_seconds" validate:"gte=1"`
		MaxErrorCount         int       `json:"max_error_count" validate:"gte=1"`
	}

	// Pipeline configures per-tier and overall batch deadlines (pkg/pipeline).
	Pipeline struct {
		Tier1TimeoutSec int32 `json:"tier1_timeout_seconds" validate:"gte=1"`
		Tier2TimeoutSec int32 `json:"tier2_timeout_seconds" validate:"gte=1"`
		Tier3TimeoutSec int32 `json:"tier3_timeout_seconds" validate:"gte=1"`
		Tier4TimeoutSec int32 `json:"tier4_timeout_seconds" validate:"gte=1"`
		BatchTimeoutSec int32 `json:"batch_timeout_seconds" validate:"gte=1"`
	}

	// Database configures the ClickHouse archive connection and BulkWriter.
	Database struct {
		BatchSize             int `json:"batch_size" validate:"gte=1"`
		MaxQueryExecutionTime int `json:"max_query_execution_time" validate:"gte=1"`
	}
)

// ReadFileConfig attempts to read the config file at the specified path and
// returns a config object.
func ReadFileConfig(afs afero.Fs, path string) (*Config, error) {
	contents, err := util.GetFileContents(afs, path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := unmarshal(contents, &cfg, nil); err != nil {
		return nil, fmt.Errorf("%w, located by default at '%s', please correct the issue in the config and try again:\n\t- %w", errReadingConfigFile, path, err)
	}
	return &cfg, nil
}

// ReadConfigFromMemory reads the config from bytes already read into memory,
// using the provided environment instead of the process environment.
func ReadConfigFromMemory(data []byte, env Env) (*Config, error) {
	var cfg Config
	if err := unmarshal(data, &cfg, &env); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setEnv() error {
	connection := os.Getenv("DB_ADDRESS")
	if connection == "" {
		return errors.New("environment variable DB_ADDRESS not set")
	}
	c.Env.DBConnection = connection

	dbUsername := os.Getenv("CLICKHOUSE_USERNAME")
	if dbUsername == "" {
		return errors.New("environment variable CLICKHOUSE_USERNAME not set")
	}
	c.Env.DBUsername = dbUsername
	// CLICKHOUSE_PASSWORD may legitimately be empty, so it isn't checked.
	c.Env.DBPassword = os.Getenv("CLICKHOUSE_PASSWORD")

	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		return errors.New("environment variable LOG_LEVEL not set")
	}
	logLevel, err := strconv.Atoi(logLevelStr)
	if err != nil {
		return fmt.Errorf("unable to convert LOG_LEVEL to int: %w", err)
	}
	c.Env.LogLevel = int8(logLevel)

	return nil
}

// unmarshal unmarshals the data into the config struct, sets the environment,
// and validates the values.
func unmarshal(data []byte, cfg *Config, env *Env) error {
	if err := hjson.Unmarshal(data, &cfg); err != nil {
		return err
	}

	if env == nil {
		if err := cfg.setEnv(); err != nil {
			return fmt.Errorf("unable to set environment: %w", err)
		}
	} else {
		cfg.Env = *env
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON overrides the default unmarshalling so that unset fields
// fall back to GetDefaultConfig's values instead of the zero value.
func (c *Config) UnmarshalJSON(bytes []byte) error {
	type tmpConfig Config
	defaultCfg := GetDefaultConfig()
	tmpCfg := tmpConfig(defaultCfg)

	if err := hjson.Unmarshal(bytes, &tmpCfg); err != nil {
		return err
	}

	cfg := Config(tmpCfg)
	cfg.Validation.WhitelistedSubnets = util.CompactSubnets(cfg.Validation.WhitelistedSubnets)

	*c = cfg
	return nil
}

// GetDefaultConfig returns a Config object with default values.
func GetDefaultConfig() Config {
	if Version == "" {
		Version = "dev"
	}
	return defaultConfig()
}

// Reset resets the config values to default. Env values are preserved.
func (cfg *Config) Reset() error {
	env := cfg.Env
	newConfig := GetDefaultConfig()
	*cfg = newConfig
	cfg.Env = env
	return cfg.Validate()
}

// Validate validates the config struct's values.
func (cfg *Config) Validate() error {
	zlog := logger.GetLogger()
	zlog.Debug().Interface("config", cfg).Msg("validating config")

	v, err := NewValidator()
	if err != nil {
		return err
	}
	return v.Struct(cfg)
}

// NewValidator creates a new validator; the config relies on the library's
// built-in tags and registers no custom rules.
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	return v, nil
}

// TierTimeouts converts Pipeline's second-granularity fields into durations.
func (p Pipeline) TierTimeouts() (tier1, tier2, tier3, tier4, batch time.Duration) {
	return time.Duration(p.Tier1TimeoutSec) * time.Second,
		time.Duration(p.Tier2TimeoutSec) * time.Second,
		time.Duration(p.Tier3TimeoutSec) * time.Second,
		time.Duration(p.Tier4TimeoutSec) * time.Second,
		time.Duration(p.BatchTimeoutSec) * time.Second
}

// defaultConfig returns a copy of the default config values, mirroring the
// documented thresholds each tier uses absent an override.
func defaultConfig() Config {
	return Config{
		Detection: Detection{
			PortScan: PortScanConfig{
				UniquePortThreshold: 20,
				TimeWindowSeconds:   60,
				ConfidenceThreshold: 0.8,
			},
			DDoS: DDoSConfig{
				PacketRateThreshold: 1000,
				CriticalThreshold:   5000,
				HighThreshold:       2000,
				ConfidenceThreshold: 0.8,
			},
			C2Beacon: C2BeaconConfig{
				CoefficientOfVarThreshold: 15.0,
				ConfidenceThreshold:       0.8,
			},
			CryptoMining: CryptoMiningConfig{
				MinConnections:      5,
				DataThresholdBytes:  1024 * 1024,
				ConfidenceThreshold: 0.8,
			},
			TorUsage: TorUsageConfig{
				MinConnections:      3,
				ConfidenceThreshold: 0.8,
			},
		},
		Correlation: Correlation{
			EntityThreshold: 0.7,
		},
		Validation: Validation{
			WhitelistedIPs:          []string{},
			WhitelistedSubnets:      []util.Subnet{},
			BusinessHoursStart:      8,
			BusinessHoursEnd:        18,
			HistoricalFPRateCeiling: 0.3,
			PatternRepetitionCap:    10,
			PatternLookbackDays:     30,
		},
		Resilience: Resilience{
			FailureThreshold:   5,
			RecoveryTimeoutSec: 60,
			SuccessThreshold:   3,
			CallTimeoutSec:     30,
		},
		CorrelationState: CorrelationState{
			RedisAddr:           "",
			TTLMinutes:          30,
			MaxHistory:          100,
			CleanupIntervalMins: 5,
		},
		Publishing: Publishing{
			ProducerID:          "flowguard",
			OutboxPath:          "./flowguard-outbox.jsonl",
			OutboxRatePerSecond: 50,
			BusTimeoutSec:       10,
		},
		MLClients: MLClients{
			Models:                 []MLModel{},
			RequestTimeoutSec:      30,
			HealthCheckIntervalSec: 300,
			MaxErrorCount:          5,
		},
		Pipeline: Pipeline{
			Tier1TimeoutSec: 30,
			Tier2TimeoutSec: 120,
			Tier3TimeoutSec: 180,
			Tier4TimeoutSec: 120,
			BatchTimeoutSec: 300,
		},
		Database: Database{
			BatchSize:             100000,
			MaxQueryExecutionTime: 600,
		},
	}
}

// SetTestEnv sets the environment variables tests rely on. Only call from tests.
func (c *Config) SetTestEnv() {
	_ = c.setEnv()
}

// ReadTestFileConfig is for TESTS only.
func ReadTestFileConfig(afs afero.Fs, path string) (*Config, error) {
	contents, err := util.GetFileContents(afs, path)
	if err != nil {
		return nil, err
	}

	var tmpCfg Config
	if err := tmpCfg.setEnv(); err != nil {
		return nil, fmt.Errorf("unable to set environment variables for TEST environment")
	}

	var cfg Config
	if err := unmarshal(contents, &cfg, &tmpCfg.Env); err != nil {
		return nil, fmt.Errorf("%w, located by default at '%s', please correct the issue in the config and try again:\n\t- %w", errReadingConfigFile, path, err)
	}
	return &cfg, nil
}
