package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeRunner runs the enrichment job runner.
	ServiceModeRunner ServiceMode = "runner"
	// ServiceModeSweeper runs the job sweeper for stale-job recovery and cleanup.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeRunner, ServiceModeSweeper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeRunner, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: runner, sweeper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// RunnerConfig contains enrichment job runner configuration.
type RunnerConfig struct {
	// Workers is the number of concurrent job runner loops.
	Workers int `env:"RUNNER_WORKERS" envDefault:"2"`

	// PollInterval is how long a runner sleeps when the queue is empty.
	PollInterval time.Duration `env:"RUNNER_POLL_INTERVAL" envDefault:"2s"`
}

// Sanitize applies guardrails to runner configuration values.
func (c *RunnerConfig) Sanitize() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// SweeperConfig contains job sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweep interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`

	// StaleRunningMaxAge is how long a running job may go without a
	// progress write before it is requeued.
	StaleRunningMaxAge time.Duration `env:"SWEEPER_STALE_RUNNING_MAX_AGE" envDefault:"30m"`

	// TerminalMaxAge is how long terminal jobs are retained.
	TerminalMaxAge time.Duration `env:"SWEEPER_TERMINAL_MAX_AGE" envDefault:"720h"`

	// BatchSize bounds rows touched per sweep.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (c *SweeperConfig) Sanitize() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleRunningMaxAge <= 0 {
		c.StaleRunningMaxAge = 30 * time.Minute
	}
	if c.TerminalMaxAge <= 0 {
		c.TerminalMaxAge = 720 * time.Hour
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
}
