package config

import (
	"fmt"
	"strings"
)

// Validate reports every invalid setting at once.
func Validate(cfg *Config) error {
	var errs []string

	if len(cfg.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka: at least one broker is required")
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		errs = append(errs, "kafka: dead_letter_topic is required")
	}
	if cfg.RabbitMQ.URL == "" {
		errs = append(errs, "rabbitmq: url is required")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("smtp: port %d out of range", cfg.SMTP.Port))
	}
	if cfg.Email.Prefetch <= 0 {
		errs = append(errs, fmt.Sprintf("email: prefetch must be positive, got %d", cfg.Email.Prefetch))
	}
	if cfg.Email.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("email: max_attempts must not be negative, got %d", cfg.Email.MaxAttempts))
	}
	if cfg.Email.AttemptTTL <= 0 {
		errs = append(errs, "email: attempt_ttl must be positive")
	}
	if cfg.Dashboard.Retention < 0 {
		errs = append(errs, "dashboard: retention must not be negative")
	}
	if cfg.Dashboard.ViewerBuffer <= 0 {
		errs = append(errs, fmt.Sprintf("dashboard: viewer_buffer must be positive, got %d", cfg.Dashboard.ViewerBuffer))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
