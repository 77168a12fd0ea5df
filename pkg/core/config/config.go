// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfigVersion error is returned when the configuration does not specify
// config format version.
var ErrNoConfigVersion = errors.New("config format version not specified")

// ErrUnsupportedVersion is an error, which is returned when the config file
// uses an incompatible version format.
var ErrUnsupportedVersion = errors.New("unsupported config format version")

// ConfigFormatVersion represents the supported config format version.
const ConfigFormatVersion = "v1alpha1"

// DefaultQueueName is the name of the default asynq queue.
const DefaultQueueName = "default"

const (
	// DefaultLockTimeout is the age after which a named lock is considered
	// stale and may be reclaimed by another holder.
	DefaultLockTimeout = 5 * time.Minute

	// DefaultLeaseTimeout is the age after which a leased work item may be
	// claimed again by another node.
	DefaultLeaseTimeout = 10 * time.Minute

	// DefaultBatchSize is the default number of work items claimed at once.
	DefaultBatchSize = 32

	// DefaultPollInterval is the default interval between claim cycles.
	DefaultPollInterval = 5 * time.Second

	// DefaultStatusUpdateInterval is the default node heartbeat interval.
	DefaultStatusUpdateInterval = time.Minute

	// DefaultHunterPollInterval is the default interval at which hunt
	// managers check their hunts for readiness.
	DefaultHunterPollInterval = time.Second

	// DefaultHunterReloadInterval is the default interval at which hunt
	// managers look for modified hunt definitions.
	DefaultHunterReloadInterval = 30 * time.Second

	// DefaultWorkloadType is the default type of work items produced by
	// hunts and pulled by the distributor.
	DefaultWorkloadType = "ace"
)

// Config represents the ACE configuration.
type Config struct {
	// Version is the version of the config file.
	Version string `yaml:"version"`

	// Debug configures debug mode, if set to true.
	Debug bool `yaml:"debug"`

	// Logging represents the logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Redis represents the Redis configuration
	Redis RedisConfig `yaml:"redis"`

	// Database represents the database configuration.
	Database DatabaseConfig `yaml:"database"`

	// Worker represents the worker configuration.
	Worker WorkerConfig `yaml:"worker"`

	// Scheduler represents the periodic task scheduler configuration.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Dashboard represents the dashboard configuration.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Metrics represents the metrics server configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Node represents the identity and capabilities of this node.
	Node NodeConfig `yaml:"node"`

	// Locks represents the named lock configuration.
	Locks LocksConfig `yaml:"locks"`

	// Distributor represents the work distribution configuration.
	Distributor DistributorConfig `yaml:"distributor"`

	// Hunter represents the hunt scheduling configuration.
	Hunter HunterConfig `yaml:"hunter"`

	// API represents the node API configuration.
	API APIConfig `yaml:"api"`

	// Vault represents the Vault configuration.
	Vault VaultConfig `yaml:"vault"`
}

// LoggingConfig provides logging specific configuration settings.
type LoggingConfig struct {
	// Level specifies the log level. One of info, warn, error or debug.
	Level string `yaml:"level"`

	// Format specifies the format of log events. One of text or json.
	Format string `yaml:"format"`

	// AddSource adds the source code position to log events, if set.
	AddSource bool `yaml:"add_source"`

	// Attributes specifies additional attributes added to each log event.
	Attributes map[string]string `yaml:"attributes"`
}

// RedisConfig provides Redis specific configuration settings.
type RedisConfig struct {
	// Endpoint is the endpoint of the Redis service.
	Endpoint string `yaml:"endpoint"`
}

// DatabaseConfig provides database specific configuration settings.
type DatabaseConfig struct {
	// DSN is the Data Source Name to connect to.
	DSN string `yaml:"dsn"`

	// MigrationDirectory specifies an alternate location with migration
	// files.
	MigrationDirectory string `yaml:"migration_dir"`
}

// WorkerConfig provides worker specific configuration settings.
type WorkerConfig struct {
	// Concurrency specifies the concurrency level for workers.
	Concurrency int `yaml:"concurrency"`

	// Queues specifies the queues and their priorities processed by the
	// workers.
	Queues map[string]int `yaml:"queues"`

	// StrictPriority specifies whether queue priorities are strict.
	StrictPriority bool `yaml:"strict_priority"`
}

// SchedulerConfig provides scheduler specific configuration settings.
type SchedulerConfig struct {
	// DefaultQueue specifies the queue to which periodic tasks are
	// enqueued, when not explicitly set for a job.
	DefaultQueue string `yaml:"default_queue"`

	// Jobs specifies the periodic jobs to register.
	Jobs []*PeriodicJob `yaml:"jobs"`
}

// PeriodicJob represents a task which is enqueued periodically.
type PeriodicJob struct {
	// Name specifies the task name.
	Name string `yaml:"name"`

	// Spec is the cron spec of the job.
	Spec string `yaml:"spec"`

	// Desc is an optional human readable description.
	Desc string `yaml:"desc"`

	// Payload is an optional payload passed to the task.
	Payload string `yaml:"payload"`

	// Queue optionally overrides the default queue.
	Queue string `yaml:"queue"`
}

// DashboardConfig provides dashboard specific configuration settings.
type DashboardConfig struct {
	// Address specifies the address on which the dashboard listens.
	Address string `yaml:"address"`

	// ReadOnly sets the dashboard UI in read-only mode.
	ReadOnly bool `yaml:"read_only"`

	// PrometheusEndpoint specifies the Prometheus endpoint for queue
	// metrics.
	PrometheusEndpoint string `yaml:"prometheus_endpoint"`
}

// MetricsConfig provides the metrics server configuration.
type MetricsConfig struct {
	// Address specifies the address on which metrics are served. Metrics
	// are not served, if empty.
	Address string `yaml:"address"`

	// Path specifies the HTTP path for metrics.
	Path string `yaml:"path"`
}

// NodeConfig provides the identity and capabilities of this node.
type NodeConfig struct {
	// Name is the name of the node. Defaults to the hostname.
	Name string `yaml:"name"`

	// Location is the API endpoint of this node, through which remote
	// nodes submit work to it.
	Location string `yaml:"location"`

	// CompanyID is the tenant this node belongs to.
	CompanyID int64 `yaml:"company_id"`

	// AnalysisModes lists the analysis modes this node accepts. An empty
	// list means the node accepts any mode.
	AnalysisModes []string `yaml:"analysis_modes"`

	// ExcludedAnalysisModes lists the analysis modes this node refuses.
	ExcludedAnalysisModes []string `yaml:"excluded_analysis_modes"`

	// StatusUpdateInterval specifies how often the node heartbeat is
	// written.
	StatusUpdateInterval time.Duration `yaml:"status_update_interval"`

	// Translation rewrites node locations. Keys are source locations and
	// values are the target locations to use instead.
	Translation map[string]string `yaml:"translation"`
}

// LocksConfig provides the named lock configuration.
type LocksConfig struct {
	// Timeout specifies the age after which a lock may be reclaimed.
	Timeout time.Duration `yaml:"timeout"`
}

// DistributorConfig provides the work distribution configuration.
type DistributorConfig struct {
	// WorkloadType is the type of work items pulled by this node.
	WorkloadType string `yaml:"workload_type"`

	// Groups specifies the distribution groups.
	Groups []DistributionGroupConfig `yaml:"groups"`
}

// DistributionGroupConfig represents one pool of interchangeable nodes.
type DistributionGroupConfig struct {
	// Name is the unique name of the group.
	Name string `yaml:"name"`

	// Enabled specifies whether the group is processed by this node.
	Enabled bool `yaml:"enabled"`

	// BatchSize is the maximum number of items claimed per cycle.
	BatchSize int `yaml:"batch_size"`

	// PollInterval specifies the interval between claim cycles.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LeaseTimeout specifies the age after which claimed items may be
	// claimed again.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`

	// TargetNodes restricts the nodes to which work is submitted. The
	// special value LOCAL refers to the current node. All nodes of the
	// company are targeted when empty.
	TargetNodes []string `yaml:"target_nodes"`

	// NodeTimeout specifies the age of the last heartbeat after which a
	// remote node no longer receives work. Defaults to twice the node
	// status update interval.
	NodeTimeout time.Duration `yaml:"node_timeout"`
}

// HunterConfig provides the hunt scheduling configuration.
type HunterConfig struct {
	// PersistenceDir is the directory in which per-hunt execution state is
	// stored.
	PersistenceDir string `yaml:"persistence_dir"`

	// PollInterval specifies how often hunts are checked for readiness.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReloadInterval specifies how often hunt definitions are checked for
	// modifications.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// WorkloadType is the type of work items produced by hunts.
	WorkloadType string `yaml:"workload_type"`

	// Types specifies the configured hunt types.
	Types []HuntTypeConfig `yaml:"types"`
}

// HuntTypeConfig represents the configuration of a single hunt type.
type HuntTypeConfig struct {
	// Type is the name of the hunt type.
	Type string `yaml:"type"`

	// Kind is the hunt kind, which executes the hunts of the type.
	// Defaults to the type.
	Kind string `yaml:"kind"`

	// RuleDirs lists the directories from which hunt definitions are
	// loaded.
	RuleDirs []string `yaml:"rule_dirs"`

	// ConcurrencyLimit limits the number of simultaneous executions of
	// hunts of this type. Zero means no limit.
	ConcurrencyLimit int `yaml:"concurrency_limit"`
}

// APIConfig provides the node API configuration.
type APIConfig struct {
	// Address specifies the address on which the API listens.
	Address string `yaml:"address"`

	// Key is the shared API key used to authenticate node requests.
	Key string `yaml:"key"`

	// KeyFromVault specifies a Vault secret from which the API key is
	// read, when Key is empty.
	KeyFromVault *VaultSecretConfig `yaml:"key_from_vault"`

	// Timeout specifies the timeout for requests to remote nodes.
	Timeout time.Duration `yaml:"timeout"`

	// RetryMax specifies the number of retries for requests to remote
	// nodes.
	RetryMax int `yaml:"retry_max"`
}

// VaultSecretConfig references a field of a KV v2 secret in Vault.
type VaultSecretConfig struct {
	// Server is the name of the Vault server from [VaultConfig].
	Server string `yaml:"server"`

	// Mount is the mount path of the KV v2 secrets engine.
	Mount string `yaml:"mount"`

	// Path is the path of the secret.
	Path string `yaml:"path"`

	// Field is the name of the field within the secret.
	Field string `yaml:"field"`
}

// VaultConfig provides the Vault configuration.
type VaultConfig struct {
	// IsEnabled specifies whether Vault is enabled.
	IsEnabled bool `yaml:"is_enabled"`

	// Servers specifies the Vault servers keyed by name.
	Servers map[string]VaultServerConfig `yaml:"servers"`
}

// VaultServerConfig provides the configuration of a single Vault server.
type VaultServerConfig struct {
	// Endpoint is the address of the Vault server.
	Endpoint string `yaml:"endpoint"`

	// TLSServerName is the server name used for TLS verification.
	TLSServerName string `yaml:"tls_server_name"`

	// CACert is the path to a CA certificate file.
	CACert string `yaml:"ca_cert"`

	// AuthMethod is the auth method to use. One of token or jwt.
	AuthMethod string `yaml:"auth_method"`

	// AuthMount is the mount path of the auth method.
	AuthMount string `yaml:"auth_mount"`

	// AuthRole is the role of the auth method.
	AuthRole string `yaml:"auth_role"`

	// TokenPath is the path to the JWT token used for authentication.
	TokenPath string `yaml:"token_path"`

	// TokenEnv is the environment variable holding the JWT token. Used
	// when TokenPath is empty.
	TokenEnv string `yaml:"token_env"`
}

// Parse parses the config from the given path.
func Parse(path string) (*Config, error) {
	var conf Config
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, err
	}

	if conf.Version == "" {
		return nil, ErrNoConfigVersion
	}

	if conf.Version != ConfigFormatVersion {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, conf.Version)
	}

	conf.setDefaults()

	return &conf, nil
}

// MustParse parses the config from the given path, or panics in case of errors.
func MustParse(path string) *Config {
	config, err := Parse(path)
	if err != nil {
		panic(err)
	}

	return config
}

// setDefaults fills in the settings which were not specified.
func (c *Config) setDefaults() {
	if c.Scheduler.DefaultQueue == "" {
		c.Scheduler.DefaultQueue = DefaultQueueName
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Locks.Timeout <= 0 {
		c.Locks.Timeout = DefaultLockTimeout
	}

	if c.Node.StatusUpdateInterval <= 0 {
		c.Node.StatusUpdateInterval = DefaultStatusUpdateInterval
	}

	if c.Hunter.PollInterval <= 0 {
		c.Hunter.PollInterval = DefaultHunterPollInterval
	}

	if c.Hunter.ReloadInterval <= 0 {
		c.Hunter.ReloadInterval = DefaultHunterReloadInterval
	}

	if c.Distributor.WorkloadType == "" {
		c.Distributor.WorkloadType = DefaultWorkloadType
	}

	if c.Hunter.WorkloadType == "" {
		c.Hunter.WorkloadType = c.Distributor.WorkloadType
	}

	for i := range c.Distributor.Groups {
		group := &c.Distributor.Groups[i]
		if group.BatchSize <= 0 {
			group.BatchSize = DefaultBatchSize
		}
		if group.PollInterval <= 0 {
			group.PollInterval = DefaultPollInterval
		}
		if group.LeaseTimeout <= 0 {
			group.LeaseTimeout = DefaultLeaseTimeout
		}
		if group.NodeTimeout <= 0 {
			group.NodeTimeout = 2 * c.Node.StatusUpdateInterval
		}
	}

	if c.API.Timeout <= 0 {
		c.API.Timeout = 30 * time.Second
	}
}
