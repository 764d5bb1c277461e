// Package config loads and validates the daemon configuration from YAML
// or JSON5 files, with $include resolution and environment expansion.
package config

import (
	"time"

	"github.com/loopwork/beacon/internal/protocol"
)

// Config is the root daemon configuration.
type Config struct {
	// Socket overrides the resolved control socket path.
	Socket string `yaml:"socket"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// Timezone is the IANA zone used by context injectors.
	Timezone string `yaml:"timezone"`

	Channels []ChannelConfig `yaml:"channels"`
	Agents   AgentsConfig    `yaml:"agents"`
	Pulse    PulseConfig     `yaml:"pulse"`
	Skills   SkillsConfig    `yaml:"skills"`
	Cron     CronConfig      `yaml:"cron"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// ChannelConfig describes one channel instance.
type ChannelConfig struct {
	ID      string `yaml:"id"`
	Adapter string `yaml:"adapter"`

	// Telegram adapter settings. PollingTimeout is in seconds.
	Token          string   `yaml:"token"`
	BaseURL        string   `yaml:"baseUrl"`
	PollingTimeout int      `yaml:"pollingTimeout"`
	AllowedUsers   []string `yaml:"allowedUsers"`
	AllowedUpdates []string `yaml:"allowedUpdates"`
}

// AgentsConfig describes how sessions are spawned.
type AgentsConfig struct {
	// DefaultAdapter names the adapter used when spawn omits one.
	DefaultAdapter string `yaml:"defaultAdapter"`
	// AdapterConfig is passed to the adapter factory verbatim.
	AdapterConfig map[string]any `yaml:"adapterConfig"`
	// GuidancePath points at the workspace guidance file.
	GuidancePath string `yaml:"guidancePath"`
	// SystemPrompt is prepended before injector contributions.
	SystemPrompt string `yaml:"systemPrompt"`
}

// PulseConfig drives the pulse injector and the pulse cron binding.
type PulseConfig struct {
	PromptPath string `yaml:"promptPath"`
	Silent     bool   `yaml:"silent"`
}

// SkillsConfig drives skill discovery.
type SkillsConfig struct {
	Dirs []string `yaml:"dirs"`
}

// CronConfig holds the scheduled jobs.
type CronConfig struct {
	Jobs []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig describes one named job.
type CronJobConfig struct {
	Name     string         `yaml:"name"`
	Schedule string         `yaml:"schedule"`
	Disabled bool           `yaml:"disabled"`
	Metadata map[string]any `yaml:"metadata"`
}

// MetricsConfig controls the optional prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

var knownAdapters = map[string]bool{
	"telegram": true,
	"mock":     true,
}

var knownLogLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks cross-field constraints. Every violation is
// CONFIG_INVALID with the offending path in the message.
func (c *Config) Validate() error {
	if !knownLogLevels[c.LogLevel] {
		return protocol.Errorf(protocol.CodeConfigInvalid, "logLevel: unknown level %q", c.LogLevel)
	}
	if c.Timezone != "" {
		if err := checkTimezone(c.Timezone); err != nil {
			return protocol.Errorf(protocol.CodeConfigInvalid, "timezone: %v", err)
		}
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" {
			return protocol.Errorf(protocol.CodeConfigInvalid, "channels[%d]: id is required", i)
		}
		if seen[ch.ID] {
			return protocol.Errorf(protocol.CodeConfigInvalid, "channels[%d]: duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
		if !knownAdapters[ch.Adapter] {
			return protocol.Errorf(protocol.CodeConfigInvalid, "channels[%d]: unknown adapter %q", i, ch.Adapter)
		}
		if ch.Adapter == "telegram" && ch.Token == "" {
			return protocol.Errorf(protocol.CodeConfigInvalid, "channels[%d]: telegram requires a token", i)
		}
		if ch.PollingTimeout < 0 {
			return protocol.Errorf(protocol.CodeConfigInvalid, "channels[%d]: pollingTimeout must not be negative", i)
		}
	}

	jobNames := make(map[string]bool, len(c.Cron.Jobs))
	for i, job := range c.Cron.Jobs {
		if job.Name == "" {
			return protocol.Errorf(protocol.CodeConfigInvalid, "cron.jobs[%d]: name is required", i)
		}
		if jobNames[job.Name] {
			return protocol.Errorf(protocol.CodeConfigInvalid, "cron.jobs[%d]: duplicate name %q", i, job.Name)
		}
		jobNames[job.Name] = true
		if job.Schedule == "" {
			return protocol.Errorf(protocol.CodeConfigInvalid, "cron.jobs[%d]: schedule is required", i)
		}
	}
	return nil
}

func checkTimezone(name string) error {
	_, err := time.LoadLocation(name)
	return err
}
