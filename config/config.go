// Package config provides configuration loading and management for Taskpilot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/task"
)

// Config represents the complete Taskpilot configuration
type Config struct {
	Agents   AgentsConfig   `yaml:"agents"`
	Repo     RepoConfig     `yaml:"repo"`
	NATS     NATSConfig     `yaml:"nats"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

// AgentsConfig maps agent kinds to model endpoints
type AgentsConfig struct {
	// Endpoints maps an agent kind (primary, secondary) to its endpoint
	Endpoints map[string]agent.Endpoint `yaml:"endpoints"`
	// RequestsPerMinute limits agent invocations per kind (0 = unlimited)
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	// Burst is the rate limiter burst size
	Burst int `yaml:"burst"`
}

// RepoConfig configures the workspace settings
type RepoConfig struct {
	// Path is the checkout root path (auto-detected from git if empty)
	Path string `yaml:"path"`
	// DefaultBranch is the base branch for feature branches and PRs
	DefaultBranch string `yaml:"default_branch"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// WorkflowConfig configures the workflow engine and sweeper
type WorkflowConfig struct {
	// Policy holds the verification and testing policy. Nil uses defaults.
	Policy *engine.Policy `yaml:"policy,omitempty"`
	// AckWait is the processing window before an event is redelivered
	AckWait time.Duration `yaml:"ack_wait"`
	// MaxDeliver bounds redelivery attempts per event
	MaxDeliver int `yaml:"max_deliver"`
	// SweepInterval is how often stale input requests are scanned
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// RequestMaxAge is how long an input request may stay pending
	RequestMaxAge time.Duration `yaml:"request_max_age"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Endpoints: map[string]agent.Endpoint{
				string(task.AgentPrimary): {
					Provider: "ollama",
					URL:      "http://localhost:11434/v1",
					Model:    "qwen2.5-coder:32b",
				},
			},
			RequestsPerMinute: 30,
			Burst:             5,
		},
		Repo: RepoConfig{
			Path:          "", // Auto-detect
			DefaultBranch: "main",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Workflow: WorkflowConfig{
			Policy:        nil, // engine defaults
			AckWait:       5 * time.Minute,
			MaxDeliver:    5,
			SweepInterval: 5 * time.Minute,
			RequestMaxAge: 72 * time.Hour,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Agents.Endpoints) == 0 {
		return fmt.Errorf("agents.endpoints requires at least one entry")
	}
	for kind, ep := range c.Agents.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("agents.endpoints.%s: provider is required", kind)
		}
		if ep.Model == "" {
			return fmt.Errorf("agents.endpoints.%s: model is required", kind)
		}
	}
	if c.Agents.RequestsPerMinute < 0 {
		return fmt.Errorf("agents.requests_per_minute must not be negative")
	}
	if c.Workflow.MaxDeliver < 1 {
		return fmt.Errorf("workflow.max_deliver must be at least 1")
	}
	if c.Workflow.SweepInterval <= 0 {
		return fmt.Errorf("workflow.sweep_interval must be positive")
	}
	if c.Workflow.RequestMaxAge <= 0 {
		return fmt.Errorf("workflow.request_max_age must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Agents
	if len(other.Agents.Endpoints) > 0 {
		if c.Agents.Endpoints == nil {
			c.Agents.Endpoints = make(map[string]agent.Endpoint)
		}
		for kind, ep := range other.Agents.Endpoints {
			c.Agents.Endpoints[kind] = ep
		}
	}
	if other.Agents.RequestsPerMinute != 0 {
		c.Agents.RequestsPerMinute = other.Agents.RequestsPerMinute
	}
	if other.Agents.Burst != 0 {
		c.Agents.Burst = other.Agents.Burst
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}
	if other.Repo.DefaultBranch != "" {
		c.Repo.DefaultBranch = other.Repo.DefaultBranch
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Workflow
	if other.Workflow.Policy != nil {
		c.Workflow.Policy = other.Workflow.Policy
	}
	if other.Workflow.AckWait != 0 {
		c.Workflow.AckWait = other.Workflow.AckWait
	}
	if other.Workflow.MaxDeliver != 0 {
		c.Workflow.MaxDeliver = other.Workflow.MaxDeliver
	}
	if other.Workflow.SweepInterval != 0 {
		c.Workflow.SweepInterval = other.Workflow.SweepInterval
	}
	if other.Workflow.RequestMaxAge != 0 {
		c.Workflow.RequestMaxAge = other.Workflow.RequestMaxAge
	}
}
