package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		Burst               int           `yaml:"burst"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
	} `yaml:"relay"`

	Sync struct {
		CorrectionThreshold    float64       `yaml:"correction_threshold"`     // seconds of drift
		HardResyncThreshold    float64       `yaml:"hard_resync_threshold"`    // seconds of drift
		LatencyCompensationCap time.Duration `yaml:"latency_compensation_cap"` // cap on (now - serverTimestamp)
		BroadcastInterval      time.Duration `yaml:"broadcast_interval"`       // host position broadcast floor
		SeekCooldown           time.Duration `yaml:"seek_cooldown"`            // emit suppression after corrective seek
		QualityGoodBelow       float64       `yaml:"quality_good_below"`
		QualityFairBelow       float64       `yaml:"quality_fair_below"`
	} `yaml:"sync"`

	Peer struct {
		HealthSweepInterval time.Duration `yaml:"health_sweep_interval"`
		ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
		ResumeSettleDelay   time.Duration `yaml:"resume_settle_delay"`
		CandidatePoolSize   int           `yaml:"candidate_pool_size"`
		ICEServers          []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"peer"`

	Capture struct {
		Width            int  `yaml:"width"`
		Height           int  `yaml:"height"`
		EchoCancellation bool `yaml:"echo_cancellation"`
		NoiseSuppression bool `yaml:"noise_suppression"`
	} `yaml:"capture"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.MessagesPerSecond <= 0 {
		return fmt.Errorf("relay.messages_per_second must be > 0")
	}
	if c.Relay.Burst <= 0 {
		return fmt.Errorf("relay.burst must be > 0")
	}
	if c.Relay.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be >= 0")
	}

	if c.Sync.CorrectionThreshold <= 0 {
		return fmt.Errorf("sync.correction_threshold must be > 0")
	}
	if c.Sync.HardResyncThreshold < c.Sync.CorrectionThreshold {
		return fmt.Errorf("sync.hard_resync_threshold must be >= sync.correction_threshold")
	}
	if c.Sync.LatencyCompensationCap <= 0 {
		return fmt.Errorf("sync.latency_compensation_cap must be > 0")
	}
	if c.Sync.BroadcastInterval <= 0 {
		return fmt.Errorf("sync.broadcast_interval must be > 0")
	}
	if c.Sync.SeekCooldown < 0 {
		return fmt.Errorf("sync.seek_cooldown must be >= 0")
	}
	if c.Sync.QualityGoodBelow <= 0 || c.Sync.QualityFairBelow <= c.Sync.QualityGoodBelow {
		return fmt.Errorf("sync quality thresholds must satisfy 0 < good_below < fair_below")
	}

	if c.Peer.HealthSweepInterval <= 0 {
		return fmt.Errorf("peer.health_sweep_interval must be > 0")
	}
	if c.Peer.ReconnectDelay <= 0 {
		return fmt.Errorf("peer.reconnect_delay must be > 0")
	}
	if c.Peer.ResumeSettleDelay < 0 {
		return fmt.Errorf("peer.resume_settle_delay must be >= 0")
	}
	if c.Peer.CandidatePoolSize < 0 {
		return fmt.Errorf("peer.candidate_pool_size must be >= 0")
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("tracing.service_name must not be empty when tracing is enabled")
		}
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.MessagesPerSecond = 100
	cfg.Relay.Burst = 200
	cfg.Relay.MaxMessageSizeBytes = 64 * 1024

	cfg.Sync.CorrectionThreshold = 0.3
	cfg.Sync.HardResyncThreshold = 2.0
	cfg.Sync.LatencyCompensationCap = 2 * time.Second
	cfg.Sync.BroadcastInterval = 1500 * time.Millisecond
	cfg.Sync.SeekCooldown = time.Second
	cfg.Sync.QualityGoodBelow = 0.5
	cfg.Sync.QualityFairBelow = 1.5

	cfg.Peer.HealthSweepInterval = 3 * time.Second
	cfg.Peer.ReconnectDelay = 2 * time.Second
	cfg.Peer.ResumeSettleDelay = time.Second
	cfg.Peer.CandidatePoolSize = 2

	cfg.Capture.Width = 1280
	cfg.Capture.Height = 720
	cfg.Capture.EchoCancellation = true
	cfg.Capture.NoiseSuppression = true

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "watchsync"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("WATCHSYNC_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("WATCHSYNC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("WATCHSYNC_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
	}
}
