package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/accessgate/internal/domain/auth"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// RegisterCustomValidators registers access-gate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"policy_action": validatePolicyAction,
		"timezone":      validateTimezone,
		"store_driver":  validateStoreDriver,
		"argon2id_hash": validateArgon2idHash,
		"duration":      validateDuration,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

func validatePolicyAction(fl validator.FieldLevel) bool {
	_, err := policy.ParseAction(fl.Field().String())
	return err == nil
}

func validateTimezone(fl validator.FieldLevel) bool {
	_, err := time.LoadLocation(fl.Field().String())
	return err == nil
}

func validateStoreDriver(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis:
		return true
	}
	return false
}

func validateArgon2idHash(fl validator.FieldLevel) bool {
	return auth.IsArgon2idHash(fl.Field().String())
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	checks := []func() error{
		c.validateDefaultAction,
		c.validateStore,
		c.validateAudit,
		c.validateAPIKeyNames,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// validateDefaultAction requires an explicit opt-in for default-allow.
func (c *Config) validateDefaultAction() error {
	if c.DefaultAction() == policy.ActionAllow && !c.Engine.AllowDefaultAllow {
		return errors.New("engine.default_action: allow requires engine.allow_default_allow: true")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis driver")
		}
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Output == OutputElasticsearch && len(c.Audit.Elasticsearch.Addresses) == 0 {
		return errors.New("audit.elasticsearch.addresses is required for the elasticsearch output")
	}
	if c.Audit.Output == OutputFile && strings.TrimSpace(c.Audit.Dir) == "" {
		return errors.New("audit.dir is required for the file output")
	}
	return nil
}

func (c *Config) validateAPIKeyNames() error {
	seen := make(map[string]struct{}, len(c.Admin.APIKeys))
	for i, k := range c.Admin.APIKeys {
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("admin.api_keys[%d]: duplicate name %q", i, k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "policy_action":
		return fmt.Sprintf("%s must be one of: allow, deny, require-step-up-auth, log-only, isolate, redirect", field)
	case "timezone":
		return fmt.Sprintf("%s must be an IANA timezone name such as Europe/Berlin", field)
	case "store_driver":
		return fmt.Sprintf("%s must be one of: memory, sqlite, postgres, redis", field)
	case "argon2id_hash":
		return fmt.Sprintf("%s must be an argon2id hash (generate one with 'access-gate hash-key')", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as 500ms or 2s", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
