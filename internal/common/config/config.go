// Package config loads daemon configuration from environment variables,
// an optional config file, and defaults, via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration sections.
type Config struct {
	StateDir  string          `mapstructure:"stateDir"`
	Listen    ListenConfig    `mapstructure:"listen"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	AgentHost AgentHostConfig `mapstructure:"agentHost"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Exec      ExecConfig      `mapstructure:"exec"`
}

// ExecConfig bounds the executor's external-process fan-out.
type ExecConfig struct {
	MaxSubprocesses int64 `mapstructure:"maxSubprocesses"` // default 16
}

// ListenConfig controls the IPC transport (Unix socket, or loopback
// TCP with a bearer token).
type ListenConfig struct {
	TCPAddr     string `mapstructure:"tcpAddr"`     // empty => Unix socket only
	BearerToken string `mapstructure:"bearerToken"` // required when TCPAddr is set
}

// LoggingConfig mirrors logger.Config's mapstructure tags.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// LivenessConfig tunes the supervision monitor's timers.
type LivenessConfig struct {
	IntervalSeconds     int `mapstructure:"intervalSeconds"`     // default 5
	ExitGraceSeconds    int `mapstructure:"exitGraceSeconds"`    // default 5
	MaxStepVisits       int `mapstructure:"maxStepVisits"`       // default 5, circuit breaker
	SpawnHealthAttempts int `mapstructure:"spawnHealthAttempts"` // default 200
	SpawnHealthDelayMs  int `mapstructure:"spawnHealthDelayMs"`  // default 50
}

// SnapshotConfig selects the periodic-snapshot backend.
type SnapshotConfig struct {
	Backend         string `mapstructure:"backend"` // "file" (default) or "sqlite"
	IntervalSeconds int    `mapstructure:"intervalSeconds"`
}

// AgentHostConfig configures the client side of the agent host bridge:
// the pre-existing program this daemon spawns and speaks Unix-socket
// HTTP+WebSocket to, one socket per agent under
// <state_dir>/agents/<agent-id>/coop.sock.
type AgentHostConfig struct {
	BinaryPath         string `mapstructure:"binaryPath"` // path to the agent host executable
	HealthPollAttempts int    `mapstructure:"healthPollAttempts"`
	HealthPollDelayMs  int    `mapstructure:"healthPollDelayMs"`
}

// DockerConfig configures the docker-runtime agent provisioner.
type DockerConfig struct {
	Host    string `mapstructure:"host"`
	Enabled bool   `mapstructure:"enabled"`
}

// TimeoutsConfig names the per-collaborator timeout budgets every
// subprocess the executor launches runs under.
type TimeoutsConfig struct {
	ShellSeconds       int `mapstructure:"shellSeconds"`
	GitSeconds         int `mapstructure:"gitSeconds"`
	GateSeconds        int `mapstructure:"gateSeconds"`
	QueuePollSeconds   int `mapstructure:"queuePollSeconds"`
	WorkspaceOpSeconds int `mapstructure:"workspaceOpSeconds"`
}

// Duration looks up a named budget, falling back to dflt when unset.
func (t TimeoutsConfig) Duration(name string, dflt time.Duration) time.Duration {
	var secs int
	switch name {
	case "shell":
		secs = t.ShellSeconds
	case "git":
		secs = t.GitSeconds
	case "gate":
		secs = t.GateSeconds
	case "queue_poll":
		secs = t.QueuePollSeconds
	case "workspace_op":
		secs = t.WorkspaceOpSeconds
	}
	if secs <= 0 {
		return dflt
	}
	return time.Duration(secs) * time.Second
}

// Load reads configuration from OJD_* environment variables, an optional
// file at $OJD_CONFIG (or ./ojd.toml), and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OJD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if cfgFile := os.Getenv("OJD_CONFIG"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ojd")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.StateDir == "" {
		home, _ := os.UserHomeDir()
		cfg.StateDir = filepath.Join(home, ".local", "state", "ojd")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stderr")
	v.SetDefault("liveness.intervalSeconds", 5)
	v.SetDefault("liveness.exitGraceSeconds", 5)
	v.SetDefault("liveness.maxStepVisits", 5)
	v.SetDefault("liveness.spawnHealthAttempts", 200)
	v.SetDefault("liveness.spawnHealthDelayMs", 50)
	v.SetDefault("snapshot.backend", "file")
	v.SetDefault("snapshot.intervalSeconds", 60)
	v.SetDefault("agentHost.healthPollAttempts", 200)
	v.SetDefault("agentHost.healthPollDelayMs", 50)
	v.SetDefault("agentHost.binaryPath", "agent-host")
	v.SetDefault("docker.enabled", true)
	v.SetDefault("timeouts.shellSeconds", 900)
	v.SetDefault("timeouts.gitSeconds", 120)
	v.SetDefault("timeouts.gateSeconds", 60)
	v.SetDefault("timeouts.queuePollSeconds", 30)
	v.SetDefault("timeouts.workspaceOpSeconds", 120)
	v.SetDefault("exec.maxSubprocesses", 16)
}

// LivenessInterval returns the configured liveness poll interval.
func (c LivenessConfig) LivenessInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ExitGrace returns the configured exit-deferred grace period.
func (c LivenessConfig) ExitGrace() time.Duration {
	return time.Duration(c.ExitGraceSeconds) * time.Second
}
