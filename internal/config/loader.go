package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper points viper at the configuration file and environment.
// If configFile is empty, access-gate.yaml/.yml is searched in standard
// locations. The search requires an explicit YAML extension so the binary
// itself is never picked up.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("access-gate")
		viper.SetConfigType("yaml")
	}

	// ACCESS_GATE_SERVER_HTTP_ADDR overrides server.http_addr.
	viper.SetEnvPrefix("ACCESS_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".access-gate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "access-gate"))
		}
	} else {
		paths = append(paths, "/etc/access-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first access-gate.yaml or .yml found
// in paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "access-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar keys so AutomaticEnv sees them during
// Unmarshal. Lists (admin.api_keys, policies) are file-only.
func bindNestedEnvKeys() {
	keys := []string{
		"server.http_addr",
		"server.log_level",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		"engine.default_action",
		"engine.allow_default_allow",
		"engine.store_timeout",
		"engine.timezone",
		"engine.compile_cache_size",

		"store.driver",
		"store.state_path",
		"store.dsn",
		"store.redis.addr",
		"store.redis.password",
		"store.redis.db",
		"store.redis.key_prefix",

		"audit.output",
		"audit.dir",
		"audit.retention_days",
		"audit.max_file_size_mb",
		"audit.buffer_size",
		"audit.elasticsearch.index",
		"audit.elasticsearch.username",
		"audit.elasticsearch.password",
		"audit.channel_size",
		"audit.batch_size",
		"audit.flush_interval",
		"audit.send_timeout",
		"audit.warning_threshold",

		"admin.enabled",
		"admin.rate_limit.requests_per_minute",
		"admin.rate_limit.burst",

		"policy_file",
		"dev_mode",
	}
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}
}

// LoadConfig reads the configuration, applies defaults and dev defaults,
// and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults, but does not
// apply dev defaults or validate. Use it when CLI flags may still change
// DevMode.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: environment only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded file, or "" in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
