package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config represents the memstream configuration
type Config struct {
	// DataDir holds the PID file and the audit log.
	DataDir   string          `json:"data_dir" mapstructure:"data_dir"`
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	RPC       RPCConfig       `json:"rpc" mapstructure:"rpc"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
}

// TransportConfig holds the HTTP transport settings
type TransportConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
	// MaxLineBytes bounds undelimited data per connection; 0 disables the limit.
	MaxLineBytes int   `json:"max_line_bytes" mapstructure:"max_line_bytes"`
	MaxBodyBytes int64 `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	WriteTimeout int   `json:"write_timeout_ms" mapstructure:"write_timeout_ms"`
	// Heartbeat is a cron spec such as "@every 30s"; empty disables it.
	Heartbeat string `json:"heartbeat" mapstructure:"heartbeat"`
	WebSocket bool   `json:"websocket" mapstructure:"websocket"`
	// MaxPostsPerMin throttles POST input per client host; 0 disables it.
	MaxPostsPerMin int `json:"max_posts_per_min" mapstructure:"max_posts_per_min"`
}

// WriteTimeoutDuration returns WriteTimeout as a duration.
func (t TransportConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(t.WriteTimeout) * time.Millisecond
}

// RPCConfig holds the method router settings
type RPCConfig struct {
	// ReplayTTL caches responses to repeated request ids; 0 disables it.
	ReplayTTL int `json:"replay_ttl_ms" mapstructure:"replay_ttl_ms"`
}

// ReplayTTLDuration returns ReplayTTL as a duration.
func (r RPCConfig) ReplayTTLDuration() time.Duration {
	return time.Duration(r.ReplayTTL) * time.Millisecond
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig toggles OpenTelemetry spans
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Transport: TransportConfig{
			Host:         "127.0.0.1",
			Port:         3000,
			MaxLineBytes: 1 << 20,
			MaxBodyBytes: 4 << 20,
			WriteTimeout: 10000,
			Heartbeat:    "@every 30s",
			WebSocket:    true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "memstream",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "memstream")
	}
	return filepath.Join(home, ".memstream")
}

// PIDFile returns the daemon PID file path.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "memstream.pid")
}

// AuditFile returns the audit log path.
func (c *Config) AuditFile() string {
	return filepath.Join(c.DataDir, "audit.log")
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}
