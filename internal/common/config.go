package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Jobs        JobsConfig       `toml:"jobs"`
	Workers     WorkersConfig    `toml:"workers"`
	Chain       ChainConfig      `toml:"chain"`
	Prover      ProverConfig     `toml:"prover"`
	DA          DAConfig         `toml:"da"`
	Settlement  SettlementConfig `toml:"settlement"`
	Logging     LoggingConfig    `toml:"logging"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`                    // e.g. "1s" - how often consumers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"`               // e.g. "5m" - claimed message invisibility window
	MaxReceive        int    `toml:"max_receive" validate:"gte=1"`     // Deliveries before a message is dead-lettered
}

// JobsConfig bounds the retry policy per pipeline stage.
type JobsConfig struct {
	HandlerTimeout          string            `toml:"handler_timeout"`           // Context deadline for a single handler call
	MaxProcessAttempts      map[string]uint64 `toml:"max_process_attempts"`      // Per job type, keyed by type name
	MaxVerificationAttempts map[string]uint64 `toml:"max_verification_attempts"` // Per job type, keyed by type name
	VerificationPollDelay   map[string]string `toml:"verification_poll_delay"`   // Per job type, e.g. "30s"
}

// WorkersConfig drives the periodic discovery workers.
type WorkersConfig struct {
	Schedule                 string `toml:"schedule"`                   // Cron schedule shared by the discovery workers
	SnosBatchSize            int    `toml:"snos_batch_size"`            // Max blocks scheduled per SNOS tick (0 = unlimited)
	ProofRegistrationEnabled bool   `toml:"proof_registration_enabled"` // Some deployments settle without on-chain registration
}

type ChainConfig struct {
	RPCURL         string  `toml:"rpc_url" validate:"required,url"`
	RequestTimeout string  `toml:"request_timeout"` // e.g. "30s"
	RateLimit      float64 `toml:"rate_limit"`      // Requests per second against the RPC (0 = unlimited)
	RateBurst      int     `toml:"rate_burst"`
}

type ProverConfig struct {
	GatewayURL     string `toml:"gateway_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout string `toml:"request_timeout"`
}

type DAConfig struct {
	GatewayURL      string `toml:"gateway_url" validate:"required,url"`
	RequestTimeout  string `toml:"request_timeout"`
	MaxBlobPerTxn   int    `toml:"max_blob_per_txn" validate:"gte=1"`
	MaxBytesPerBlob int    `toml:"max_bytes_per_blob" validate:"gte=1"`
}

type SettlementConfig struct {
	RelayURL            string `toml:"relay_url" validate:"required,url"`
	CoreContractAddress string `toml:"core_contract_address"`
	RequestTimeout      string `toml:"request_timeout"`
	UseKZG              bool   `toml:"use_kzg"` // Blob-DA settlement variant (update_state_kzg)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig returns the built-in defaults. Values here are overridden
// by config files, then environment variables, then CLI flags.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/conductor",
				ResetOnStartup: false,
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
		},
		Jobs: JobsConfig{
			HandlerTimeout: "10m",
			MaxProcessAttempts: map[string]uint64{
				"SnosRun":           2,
				"ProofCreation":     2,
				"ProofRegistration": 2,
				"DataSubmission":    2,
				"StateTransition":   2,
			},
			MaxVerificationAttempts: map[string]uint64{
				"SnosRun":           10,
				"ProofCreation":     300,
				"ProofRegistration": 300,
				"DataSubmission":    120,
				"StateTransition":   60,
			},
			VerificationPollDelay: map[string]string{
				"SnosRun":           "10s",
				"ProofCreation":     "60s",
				"ProofRegistration": "60s",
				"DataSubmission":    "30s",
				"StateTransition":   "30s",
			},
		},
		Workers: WorkersConfig{
			Schedule:                 "@every 1m",
			SnosBatchSize:            64,
			ProofRegistrationEnabled: false,
		},
		Chain: ChainConfig{
			RPCURL:         "http://localhost:9944",
			RequestTimeout: "30s",
			RateLimit:      10,
			RateBurst:      5,
		},
		Prover: ProverConfig{
			GatewayURL:     "http://localhost:6300",
			RequestTimeout: "30s",
		},
		DA: DAConfig{
			GatewayURL:      "http://localhost:26658",
			RequestTimeout:  "30s",
			MaxBlobPerTxn:   6,
			MaxBytesPerBlob: 131072,
		},
		Settlement: SettlementConfig{
			RelayURL:       "http://localhost:8545",
			RequestTimeout: "30s",
			UseKZG:         false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2
// -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CONDUCTOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if badgerPath := os.Getenv("CONDUCTOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if pollInterval := os.Getenv("CONDUCTOR_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if visibilityTimeout := os.Getenv("CONDUCTOR_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("CONDUCTOR_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}

	if rpcURL := os.Getenv("CONDUCTOR_CHAIN_RPC_URL"); rpcURL != "" {
		config.Chain.RPCURL = rpcURL
	}
	if proverURL := os.Getenv("CONDUCTOR_PROVER_GATEWAY_URL"); proverURL != "" {
		config.Prover.GatewayURL = proverURL
	}
	if proverKey := os.Getenv("CONDUCTOR_PROVER_API_KEY"); proverKey != "" {
		config.Prover.APIKey = proverKey
	}
	if daURL := os.Getenv("CONDUCTOR_DA_GATEWAY_URL"); daURL != "" {
		config.DA.GatewayURL = daURL
	}
	if relayURL := os.Getenv("CONDUCTOR_SETTLEMENT_RELAY_URL"); relayURL != "" {
		config.Settlement.RelayURL = relayURL
	}

	if level := os.Getenv("CONDUCTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ParseDuration parses a config duration string, falling back to the given
// default on empty or malformed values.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
