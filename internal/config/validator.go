package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks every section and reports all problems at once.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	return errors.Join(
		v.ValidateDataDir(cfg.DataDir),
		v.ValidatePort(cfg.Transport.Port),
		v.ValidateLimits(cfg.Transport.MaxLineBytes, cfg.Transport.MaxBodyBytes),
		v.ValidateHeartbeat(cfg.Transport.Heartbeat),
		v.ValidateNonNegative("transport.write_timeout_ms", cfg.Transport.WriteTimeout),
		v.ValidateNonNegative("transport.max_posts_per_min", cfg.Transport.MaxPostsPerMin),
		v.ValidateNonNegative("rpc.replay_ttl_ms", cfg.RPC.ReplayTTL),
		v.ValidateLogLevel(cfg.Logging.Level),
		v.ValidateServiceName(cfg.Tracing),
	)
}

// ValidateDataDir requires a data directory.
func (v *Validator) ValidateDataDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}

// ValidatePort validates a listen port. 0 picks a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("transport.port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateLimits validates the framing and body limits.
func (v *Validator) ValidateLimits(maxLine int, maxBody int64) error {
	if maxLine < 0 {
		return fmt.Errorf("transport.max_line_bytes cannot be negative")
	}
	if maxBody <= 0 {
		return fmt.Errorf("transport.max_body_bytes must be positive")
	}
	return nil
}

// ValidateHeartbeat validates the heartbeat cron spec. Empty disables it.
func (v *Validator) ValidateHeartbeat(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := v.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid transport.heartbeat %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates a log level name.
func (v *Validator) ValidateLogLevel(level string) error {
	if level == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid logging.level %q", level)
	}
	return nil
}

// ValidateNonNegative rejects negative durations and counts.
func (v *Validator) ValidateNonNegative(key string, value int) error {
	if value < 0 {
		return fmt.Errorf("%s cannot be negative", key)
	}
	return nil
}

// ValidateServiceName requires a service name when tracing is on.
func (v *Validator) ValidateServiceName(tracing TracingConfig) error {
	if tracing.Enabled && tracing.ServiceName == "" {
		return fmt.Errorf("tracing.service_name is required when tracing is enabled")
	}
	return nil
}
