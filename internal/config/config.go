// Package config provides client configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Registration policies.
const (
	PolicyEphemeral = "ephemeral"
	PolicyDurable   = "durable"
)

// Config holds automation-client configuration.
type Config struct {
	// Identity
	AutomationName    string   `envconfig:"AUTOMATION_NAME"`
	AutomationVersion string   `envconfig:"AUTOMATION_VERSION" default:"0.1.0"`
	Policy            string   `envconfig:"AUTOMATION_POLICY" default:"ephemeral"`
	WorkspaceIDs      []string `envconfig:"WORKSPACE_IDS"`
	Groups            []string `envconfig:"GROUPS"`
	APIKey            string   `envconfig:"API_KEY"`

	// Orchestration service
	RegistrationURL string        `envconfig:"REGISTRATION_URL" default:"https://automation.atomist.com/registration"`
	GraphURL        string        `envconfig:"GRAPH_URL" default:"https://automation.atomist.com/graphql/team"`
	GraphCacheTTL   time.Duration `envconfig:"GRAPH_CACHE_TTL" default:"1m"`

	// Session
	WSCompress        bool          `envconfig:"WS_COMPRESS" default:"false"`
	WSTimeout         time.Duration `envconfig:"WS_TIMEOUT" default:"30s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"5s"`
	BackoffFactor     float64       `envconfig:"BACKOFF_FACTOR" default:"2"`
	BackoffMin        time.Duration `envconfig:"BACKOFF_MIN" default:"500ms"`
	BackoffMax        time.Duration `envconfig:"BACKOFF_MAX" default:"5s"`
	BackoffRetries    int           `envconfig:"BACKOFF_RETRIES" default:"100"`

	// Shutdown
	GracefulShutdown    bool          `envconfig:"GRACEFUL_SHUTDOWN" default:"true"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"60s"`
	ShutdownCeiling     time.Duration `envconfig:"SHUTDOWN_CEILING" default:"120s"`

	// Invocations (0 = no deadline)
	InvocationTimeout time.Duration `envconfig:"INVOCATION_TIMEOUT" default:"0s"`

	// Worker pool: local workers in this process, remote workers served over COMMS.
	Workers       int      `envconfig:"WORKERS" default:"0"`
	RemoteWorkers []string `envconfig:"REMOTE_WORKERS"`
	WorkerID      string   `envconfig:"WORKER_ID"`

	// COMMS: optional, enables lifecycle publishing and remote workers.
	COMMSURL               string `envconfig:"COMMS_URL"`
	COMMSName              string `envconfig:"SERVICE_NAME" default:"automation-client"`
	LifecycleSubjectPrefix string `envconfig:"LIFECYCLE_SUBJECT_PREFIX" default:"automation.lifecycle"`

	// Database: optional invocation audit store
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH"`

	// Fallback resolvers
	SecretEnvPrefix string `envconfig:"SECRET_ENV_PREFIX" default:"AUTOMATION_SECRET_"`
	MappedEnvPrefix string `envconfig:"MAPPED_PARAMETER_ENV_PREFIX" default:"AUTOMATION_MAPPED_"`

	// HTTP health endpoint
	HTTPPort       int `envconfig:"HTTP_PORT" default:"8080"`
	EventStoreSize int `envconfig:"EVENT_STORE_SIZE" default:"1000"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForDescribe checks what is needed to build the registration payload.
func (c *Config) ValidateForDescribe() error {
	if c.AutomationName == "" {
		return fmt.Errorf("%s - AUTOMATION_NAME is required", logPrefix)
	}
	if _, err := semver.StrictNewVersion(c.AutomationVersion); err != nil {
		return fmt.Errorf("%s - AUTOMATION_VERSION %q is not a semantic version: %w", logPrefix, c.AutomationVersion, err)
	}
	if c.Policy != PolicyEphemeral && c.Policy != PolicyDurable {
		return fmt.Errorf("%s - AUTOMATION_POLICY must be %s or %s, got %q", logPrefix, PolicyEphemeral, PolicyDurable, c.Policy)
	}
	return nil
}

// ValidateForRun checks required config when connecting to the orchestration service.
func (c *Config) ValidateForRun() error {
	if err := c.ValidateForDescribe(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("%s - API_KEY is required", logPrefix)
	}
	if len(c.WorkspaceIDs) == 0 {
		return fmt.Errorf("%s - WORKSPACE_IDS must name at least one workspace", logPrefix)
	}
	if c.RegistrationURL == "" {
		return fmt.Errorf("%s - REGISTRATION_URL is required", logPrefix)
	}
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"WS_TIMEOUT", c.WSTimeout},
		{"HEARTBEAT_INTERVAL", c.HeartbeatInterval},
		{"BACKOFF_MIN", c.BackoffMin},
		{"BACKOFF_MAX", c.BackoffMax},
		{"SHUTDOWN_GRACE_PERIOD", c.ShutdownGracePeriod},
		{"SHUTDOWN_CEILING", c.ShutdownCeiling},
		{"GRAPH_CACHE_TTL", c.GraphCacheTTL},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, p.name)
		}
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("%s - BACKOFF_MAX must not be below BACKOFF_MIN", logPrefix)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("%s - BACKOFF_FACTOR must be at least 1", logPrefix)
	}
	if c.BackoffRetries < 0 {
		return fmt.Errorf("%s - BACKOFF_RETRIES must not be negative", logPrefix)
	}
	if c.InvocationTimeout < 0 {
		return fmt.Errorf("%s - INVOCATION_TIMEOUT must not be negative", logPrefix)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%s - WORKERS must not be negative", logPrefix)
	}
	if len(c.RemoteWorkers) > 0 && c.COMMSURL == "" {
		return fmt.Errorf("%s - REMOTE_WORKERS requires COMMS_URL", logPrefix)
	}
	if c.EventStoreSize <= 0 {
		return fmt.Errorf("%s - EVENT_STORE_SIZE must be positive", logPrefix)
	}
	return nil
}

// ValidateForWorker checks required config when serving as a remote worker.
func (c *Config) ValidateForWorker() error {
	if err := c.ValidateForDescribe(); err != nil {
		return err
	}
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for worker", logPrefix)
	}
	if c.WorkerID == "" {
		return fmt.Errorf("%s - WORKER_ID is required for worker", logPrefix)
	}
	if c.InvocationTimeout < 0 {
		return fmt.Errorf("%s - INVOCATION_TIMEOUT must not be negative", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
