package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultConcurrentProcessingTasks = 10
	DefaultChannelBufferSize         = 50
	DefaultHTTP2PingIntervalSecs     = 60
	DefaultHTTP2PingTimeoutSecs      = 10
	DefaultReconnectionTimeoutSecs   = 5
	DefaultResponseItemTimeoutSecs   = 60
)

type Mode string

const (
	ModeDefault  Mode = "default"
	ModeBackfill Mode = "backfill"
	ModeTesting  Mode = "testing"
)

type TransactionStreamConfig struct {
	DataServiceURL          string  `yaml:"data_service_url"`
	AuthToken               string  `yaml:"auth_token"`
	RequestNameHeader       string  `yaml:"request_name_header"`
	StartingVersion         *uint64 `yaml:"starting_version"`
	EndingVersion           *uint64 `yaml:"ending_version"`
	HTTP2PingIntervalSecs   uint64  `yaml:"http2_ping_interval_secs"`
	HTTP2PingTimeoutSecs    uint64  `yaml:"http2_ping_timeout_secs"`
	ReconnectionTimeoutSecs uint64  `yaml:"reconnection_timeout_secs"`
	ResponseItemTimeoutSecs uint64  `yaml:"response_item_timeout_secs"`
}

func (c *TransactionStreamConfig) HTTP2PingInterval() time.Duration {
	return time.Duration(c.HTTP2PingIntervalSecs) * time.Second
}

func (c *TransactionStreamConfig) HTTP2PingTimeout() time.Duration {
	return time.Duration(c.HTTP2PingTimeoutSecs) * time.Second
}

func (c *TransactionStreamConfig) ReconnectionTimeout() time.Duration {
	return time.Duration(c.ReconnectionTimeoutSecs) * time.Second
}

func (c *TransactionStreamConfig) ResponseItemTimeout() time.Duration {
	return time.Duration(c.ResponseItemTimeoutSecs) * time.Second
}

type DispatcherConfig struct {
	NumberConcurrentProcessingTasks uint `yaml:"number_concurrent_processing_tasks"`
	ChannelBufferSize               uint `yaml:"channel_buffer_size"`
	EnableVerboseLogging            bool `yaml:"enable_verbose_logging"`
}

type ProcessorConfig struct {
	Type string `yaml:"type"`
}

type BootstrapConfig struct {
	InitialStartingVersion uint64 `yaml:"initial_starting_version"`
}

type BackfillConfig struct {
	BackfillID             string `yaml:"backfill_id"`
	InitialStartingVersion uint64 `yaml:"initial_starting_version"`
	EndingVersion          uint64 `yaml:"ending_version"`
	OverwriteCheckpoint    bool   `yaml:"overwrite_checkpoint"`
}

type TestingConfig struct {
	OverrideStartingVersion uint64  `yaml:"override_starting_version"`
	EndingVersion           *uint64 `yaml:"ending_version"`
}

type ModeConfig struct {
	Type      Mode             `yaml:"type"`
	Bootstrap *BootstrapConfig `yaml:"bootstrap"`
	Backfill  *BackfillConfig  `yaml:"backfill"`
	Testing   *TestingConfig   `yaml:"testing"`
}

type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     uint   `yaml:"port"`
	DB       string `yaml:"database"`
}

type Config struct {
	LogLevel          logrus.Level             `yaml:"-"`
	RawLogLevel       string                   `yaml:"log_level"`
	MetricsHost       string                   `yaml:"metrics_host"`
	DBConfig          *DBConfig                `yaml:"postgres"`
	TransactionStream *TransactionStreamConfig `yaml:"transaction_stream"`
	Dispatcher        *DispatcherConfig        `yaml:"dispatcher"`
	Processor         *ProcessorConfig         `yaml:"processor"`
	Mode              *ModeConfig              `yaml:"mode"`
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file: %w", err)
	}
	return ReadConfig(blob)
}

func ReadConfig(blob []byte) (*Config, error) {
	blob = []byte(os.ExpandEnv(string(blob)))

	cfg := new(Config)
	if err := parseYaml(cfg, blob); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.RawLogLevel == "" {
		cfg.RawLogLevel = "info"
	}
	if cfg.MetricsHost == "" {
		cfg.MetricsHost = ":2112"
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = &DispatcherConfig{}
	}
	if cfg.Dispatcher.NumberConcurrentProcessingTasks == 0 {
		cfg.Dispatcher.NumberConcurrentProcessingTasks = DefaultConcurrentProcessingTasks
	}
	if cfg.Dispatcher.ChannelBufferSize == 0 {
		cfg.Dispatcher.ChannelBufferSize = DefaultChannelBufferSize
	}
	if cfg.Mode == nil {
		cfg.Mode = &ModeConfig{Type: ModeDefault}
	}
	if cfg.Mode.Type == "" {
		cfg.Mode.Type = ModeDefault
	}
	if ts := cfg.TransactionStream; ts != nil {
		if ts.HTTP2PingIntervalSecs == 0 {
			ts.HTTP2PingIntervalSecs = DefaultHTTP2PingIntervalSecs
		}
		if ts.HTTP2PingTimeoutSecs == 0 {
			ts.HTTP2PingTimeoutSecs = DefaultHTTP2PingTimeoutSecs
		}
		if ts.ReconnectionTimeoutSecs == 0 {
			ts.ReconnectionTimeoutSecs = DefaultReconnectionTimeoutSecs
		}
		if ts.ResponseItemTimeoutSecs == 0 {
			ts.ResponseItemTimeoutSecs = DefaultResponseItemTimeoutSecs
		}
	}
}

func (cfg *Config) Validate() error {
	level, err := logrus.ParseLevel(cfg.RawLogLevel)
	if err != nil {
		return fmt.Errorf("unknown log_level %q: %w", cfg.RawLogLevel, err)
	}
	cfg.LogLevel = level

	if cfg.DBConfig == nil {
		return fmt.Errorf("postgres section is required")
	}
	if cfg.TransactionStream == nil {
		return fmt.Errorf("transaction_stream section is required")
	}
	if cfg.TransactionStream.DataServiceURL == "" {
		return fmt.Errorf("transaction_stream.data_service_url is required")
	}
	if cfg.TransactionStream.RequestNameHeader == "" {
		return fmt.Errorf("transaction_stream.request_name_header is required")
	}
	if cfg.Processor == nil || cfg.Processor.Type == "" {
		return fmt.Errorf("processor.type is required")
	}

	switch cfg.Mode.Type {
	case ModeDefault:
	case ModeBackfill:
		if cfg.Mode.Backfill == nil {
			return fmt.Errorf("mode.backfill section is required in backfill mode")
		}
		if cfg.Mode.Backfill.BackfillID == "" {
			return fmt.Errorf("mode.backfill.backfill_id is required")
		}
		if cfg.Mode.Backfill.EndingVersion < cfg.Mode.Backfill.InitialStartingVersion {
			return fmt.Errorf("mode.backfill.ending_version %d is below initial_starting_version %d",
				cfg.Mode.Backfill.EndingVersion, cfg.Mode.Backfill.InitialStartingVersion)
		}
	case ModeTesting:
		if cfg.Mode.Testing == nil {
			return fmt.Errorf("mode.testing section is required in testing mode")
		}
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode.Type)
	}
	return nil
}

// InitialStartingVersion returns the configured lower bound for ingestion in
// the current mode, before the durable checkpoint is taken into account.
func (cfg *Config) InitialStartingVersion() uint64 {
	switch cfg.Mode.Type {
	case ModeBackfill:
		return cfg.Mode.Backfill.InitialStartingVersion
	case ModeTesting:
		return cfg.Mode.Testing.OverrideStartingVersion
	default:
		if cfg.Mode.Bootstrap != nil {
			return cfg.Mode.Bootstrap.InitialStartingVersion
		}
		if cfg.TransactionStream.StartingVersion != nil {
			return *cfg.TransactionStream.StartingVersion
		}
		return 0
	}
}

// EndingVersion returns the configured upper bound, or nil for tip-following.
func (cfg *Config) EndingVersion() *uint64 {
	switch cfg.Mode.Type {
	case ModeBackfill:
		v := cfg.Mode.Backfill.EndingVersion
		return &v
	case ModeTesting:
		return cfg.Mode.Testing.EndingVersion
	default:
		return cfg.TransactionStream.EndingVersion
	}
}
