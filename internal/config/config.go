// Package config provides configuration types for access-gate.
//
// Configuration is read from access-gate.yaml and ACCESS_GATE_* environment
// variables. Durations are strings in time.ParseDuration form.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Audit outputs.
const (
	OutputMemory        = "memory"
	OutputFile          = "file"
	OutputElasticsearch = "elasticsearch"
	OutputStdout        = "stdout"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Engine configures decision evaluation.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Store selects and configures the policy store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Audit configures where decision and change records go.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Admin configures the admin API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// PolicyFile is an optional YAML file of policies seeded at boot when
	// the store is empty.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`

	// Policies are inline seed policies, applied after PolicyFile.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// DevMode enables debug logging and a relaxed store timeout.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	ReadTimeout     string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout    string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// EngineConfig configures the decision engine.
type EngineConfig struct {
	// DefaultAction applies when no policy matches. Defaults to deny.
	DefaultAction string `yaml:"default_action" mapstructure:"default_action" validate:"required,policy_action"`

	// AllowDefaultAllow must be true for DefaultAction to be allow.
	AllowDefaultAllow bool `yaml:"allow_default_allow" mapstructure:"allow_default_allow"`

	// StoreTimeout bounds each policy fetch. Defaults to 500ms.
	StoreTimeout string `yaml:"store_timeout" mapstructure:"store_timeout" validate:"omitempty,duration"`

	// Timezone is the IANA zone used by time_range conditions. Defaults to UTC.
	Timezone string `yaml:"timezone" mapstructure:"timezone" validate:"omitempty,timezone"`

	// CompileCacheSize bounds the compiled-policy cache. Defaults to 10000.
	CompileCacheSize int `yaml:"compile_cache_size" mapstructure:"compile_cache_size" validate:"omitempty,min=1"`
}

// StoreConfig selects the policy store.
type StoreConfig struct {
	// Driver is memory, sqlite, postgres or redis. Defaults to memory.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,store_driver"`

	// StatePath is where the memory driver persists policies.
	// Defaults to "./state.json".
	StatePath string `yaml:"state_path" mapstructure:"state_path"`

	// DSN is the connection string for sqlite and postgres.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AuditConfig configures audit output and the async writer.
type AuditConfig struct {
	// Output is memory, file, elasticsearch or stdout. Defaults to memory.
	Output string `yaml:"output" mapstructure:"output" validate:"required,oneof=memory file elasticsearch stdout"`

	// Dir holds JSON Lines files for the file output. Defaults to "./audit".
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is how long file output keeps daily files. Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"min=0"`

	// MaxFileSizeMB rotates a file within a day. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"min=0"`

	// BufferSize is the ring size for memory and stdout outputs. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"min=0"`

	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" mapstructure:"elasticsearch"`

	// ChannelSize is the async queue capacity. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"min=0"`

	// BatchSize is the number of records written per batch. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"min=0"`

	// FlushInterval defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long Record blocks on a full queue before
	// dropping. "0" drops immediately. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the queue fill percentage that triggers a warning.
	// Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"min=0,max=100"`
}

// ElasticsearchConfig configures the elasticsearch output.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses" mapstructure:"addresses" validate:"omitempty,dive,url"`
	// Index defaults to "access-decisions".
	Index    string `yaml:"index" mapstructure:"index"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// Enabled mounts the admin API under /admin/api. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// APIKeys authenticate admin callers. When empty, only loopback
	// callers are accepted.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`

	RateLimit AdminRateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// APIKeyConfig is one admin key. Generate KeyHash with "access-gate hash-key".
type APIKeyConfig struct {
	Name    string `yaml:"name" mapstructure:"name" validate:"required"`
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,argon2id_hash"`
}

// AdminRateLimitConfig limits remote admin callers per IP.
type AdminRateLimitConfig struct {
	// RequestsPerMinute defaults to 600.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"min=0"`
	// Burst defaults to 50.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"min=0"`
}

// PolicyConfig is a seed policy.
type PolicyConfig struct {
	// ID is kept when set; otherwise one is generated at seeding.
	ID          string            `yaml:"id,omitempty" mapstructure:"id"`
	Name        string            `yaml:"name" mapstructure:"name" validate:"required"`
	Description string            `yaml:"description,omitempty" mapstructure:"description"`
	Subject     string            `yaml:"subject" mapstructure:"subject" validate:"required"`
	Object      string            `yaml:"object" mapstructure:"object" validate:"required"`
	Conditions  map[string]string `yaml:"conditions,omitempty" mapstructure:"conditions"`
	Action      string            `yaml:"action" mapstructure:"action" validate:"required,policy_action"`
	Priority    int               `yaml:"priority" mapstructure:"priority"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
}

// ToPolicy converts a seed entry to a domain policy.
func (pc PolicyConfig) ToPolicy() policy.Policy {
	action, err := policy.ParseAction(pc.Action)
	if err != nil {
		action = policy.Action(pc.Action)
	}
	enabled := true
	if pc.Enabled != nil {
		enabled = *pc.Enabled
	}
	var conds map[string]string
	if len(pc.Conditions) > 0 {
		conds = make(map[string]string, len(pc.Conditions))
		for k, v := range pc.Conditions {
			conds[k] = v
		}
	}
	return policy.Policy{
		ID:          pc.ID,
		Name:        pc.Name,
		Description: pc.Description,
		Subject:     pc.Subject,
		Object:      pc.Object,
		Conditions:  conds,
		Action:      action,
		Priority:    pc.Priority,
		Enabled:     enabled,
	}
}

// SeedPolicies converts the inline policies.
func (c *Config) SeedPolicies() []policy.Policy {
	out := make([]policy.Policy, 0, len(c.Policies))
	for _, pc := range c.Policies {
		out = append(out, pc.ToPolicy())
	}
	return out
}

// SetDevDefaults relaxes settings for local development.
// Must run after SetDefaults, which it overrides.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	c.Engine.StoreTimeout = "5s"
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Engine.DefaultAction == "" {
		c.Engine.DefaultAction = string(policy.ActionDeny)
	}
	if c.Engine.StoreTimeout == "" {
		c.Engine.StoreTimeout = "500ms"
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "UTC"
	}
	if c.Engine.CompileCacheSize == 0 {
		c.Engine.CompileCacheSize = 10000
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.StatePath == "" {
		c.Store.StatePath = "./state.json"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = OutputMemory
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = "./audit"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.Elasticsearch.Index == "" {
		c.Audit.Elasticsearch.Index = "access-decisions"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("admin.enabled") {
		c.Admin.Enabled = true
	}
	if c.Admin.RateLimit.RequestsPerMinute == 0 {
		c.Admin.RateLimit.RequestsPerMinute = 600
	}
	if c.Admin.RateLimit.Burst == 0 {
		c.Admin.RateLimit.Burst = 50
	}
}

// Location returns the engine timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration parses a duration field, falling back to def when empty or
// invalid. Validate rejects invalid values, so the fallback only matters
// for unvalidated configs.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// DefaultAction returns the engine default action. Call after Validate.
func (c *Config) DefaultAction() policy.Action {
	a, err := policy.ParseAction(c.Engine.DefaultAction)
	if err != nil {
		return policy.ActionDeny
	}
	return a
}

// String summarizes the effective configuration for logs, without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("addr=%s store=%s audit=%s default_action=%s timezone=%s admin_keys=%d",
		c.Server.HTTPAddr, c.Store.Driver, c.Audit.Output, c.Engine.DefaultAction, c.Engine.Timezone, len(c.Admin.APIKeys))
}
