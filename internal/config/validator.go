package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.jitter_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Loop period bounds. MaxIntervalSeconds also caps the jitter.
const (
	MinActiveIntervalSeconds  = 3
	MinPassiveIntervalSeconds = 5
	MaxIntervalSeconds        = 24 * 60 * 60
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStepTypes returns the welcome step types
func ValidStepTypes() []string {
	return []string{"text", "image", "link"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTaskStore()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateAutomation()...)
	errors = append(errors, c.validateWelcome()...)
	errors = append(errors, c.validatePassive()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// RequireTaskStore reports the settings a running engine needs but a plain
// config listing does not.
func (c *Config) RequireTaskStore() []ValidationError {
	var errors []ValidationError
	for field, value := range map[string]string{
		"taskstore.app_id":     c.TaskStore.AppID,
		"taskstore.app_secret": c.TaskStore.AppSecret,
		"taskstore.table_url":  c.TaskStore.TableURL,
	} {
		if strings.TrimSpace(value) == "" {
			errors = append(errors, ValidationError{Field: field, Value: "", Message: "is required"})
		}
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateTaskStore() []ValidationError {
	var errors []ValidationError
	ts := c.TaskStore

	if u, err := url.Parse(ts.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "taskstore.base_url",
			Value:   ts.BaseURL,
			Message: "must be an http(s) URL",
		})
	}
	if ts.ProxyURL != "" {
		if u, err := url.Parse(ts.ProxyURL); err != nil || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "taskstore.proxy_url",
				Value:   ts.ProxyURL,
				Message: "must be a URL with a host",
			})
		}
	}
	if ts.MinIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "taskstore.min_interval_ms",
			Value:   ts.MinIntervalMs,
			Message: "must be non-negative",
		})
	}
	if ts.MaxRetries < 0 || ts.MaxRetries > 10 {
		errors = append(errors, ValidationError{
			Field:   "taskstore.max_retries",
			Value:   ts.MaxRetries,
			Message: "must be between 0 and 10",
		})
	}
	if ts.BackoffBaseMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "taskstore.backoff_base_ms",
			Value:   ts.BackoffBaseMs,
			Message: "must be positive",
		})
	}
	if ts.BackoffMaxMs < ts.BackoffBaseMs {
		errors = append(errors, ValidationError{
			Field:   "taskstore.backoff_max_ms",
			Value:   ts.BackoffMaxMs,
			Message: "must be at least backoff_base_ms",
		})
	}
	if ts.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "taskstore.timeout_seconds",
			Value:   ts.TimeoutSeconds,
			Message: "must be positive",
		})
	}
	if ts.PageSize < 1 || ts.PageSize > 500 {
		errors = append(errors, ValidationError{
			Field:   "taskstore.page_size",
			Value:   ts.PageSize,
			Message: "must be between 1 and 500",
		})
	}

	fields := map[string]string{
		"taskstore.fields.contact_key":  ts.Fields.ContactKey,
		"taskstore.fields.display_name": ts.Fields.DisplayName,
		"taskstore.fields.status":       ts.Fields.Status,
	}
	for _, name := range sortedKeys(fields) {
		if strings.TrimSpace(fields[name]) == "" {
			errors = append(errors, ValidationError{Field: name, Value: "", Message: "must not be empty"})
		}
	}

	statuses := map[string]string{
		"taskstore.statuses.pending_add": ts.Statuses.PendingAdd,
		"taskstore.statuses.applied":     ts.Statuses.Applied,
		"taskstore.statuses.bound":       ts.Statuses.Bound,
		"taskstore.statuses.not_found":   ts.Statuses.NotFound,
		"taskstore.statuses.failed":      ts.Statuses.Failed,
	}
	seen := make(map[string]string)
	for _, name := range sortedKeys(statuses) {
		value := strings.TrimSpace(statuses[name])
		if value == "" {
			errors = append(errors, ValidationError{Field: name, Value: "", Message: "must not be empty"})
			continue
		}
		if other, dup := seen[value]; dup {
			errors = append(errors, ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("duplicates %s", other),
			})
			continue
		}
		seen[value] = name
	}

	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError
	e := c.Engine

	if e.ActiveIntervalSeconds < MinActiveIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "engine.active_interval_seconds",
			Value:   e.ActiveIntervalSeconds,
			Message: fmt.Sprintf("must be at least %d", MinActiveIntervalSeconds),
		})
	}
	if e.PassiveIntervalSeconds < MinPassiveIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "engine.passive_interval_seconds",
			Value:   e.PassiveIntervalSeconds,
			Message: fmt.Sprintf("must be at least %d", MinPassiveIntervalSeconds),
		})
	}
	if e.JitterSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.jitter_seconds",
			Value:   e.JitterSeconds,
			Message: "must be non-negative",
		})
	}
	for _, p := range []struct {
		field string
		value int
	}{
		{"engine.active_interval_seconds", e.ActiveIntervalSeconds},
		{"engine.passive_interval_seconds", e.PassiveIntervalSeconds},
		{"engine.jitter_seconds", e.JitterSeconds},
	} {
		if p.value > MaxIntervalSeconds {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: fmt.Sprintf("must be at most %d", MaxIntervalSeconds),
			})
		}
	}
	if e.StopTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "engine.stop_timeout_seconds",
			Value:   e.StopTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if e.MaxUnresolvedAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.max_unresolved_attempts",
			Value:   e.MaxUnresolvedAttempts,
			Message: "must be non-negative (0 means unlimited)",
		})
	}

	return errors
}

func (c *Config) validateAutomation() []ValidationError {
	var errors []ValidationError
	a := c.Automation

	if u, err := url.Parse(a.BridgeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "automation.bridge_url",
			Value:   a.BridgeURL,
			Message: "must be a ws:// or wss:// URL",
		})
	}

	positive := map[string]int{
		"automation.profile_timeout_seconds":      a.ProfileTimeoutSeconds,
		"automation.relationship_timeout_seconds": a.RelationshipTimeoutSeconds,
		"automation.button_timeout_seconds":       a.ButtonTimeoutSeconds,
		"automation.confirm_timeout_seconds":      a.ConfirmTimeoutSeconds,
		"automation.identifier_timeout_seconds":   a.IdentifierTimeoutSeconds,
		"automation.poll_interval_ms":             a.PollIntervalMs,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errors = append(errors, ValidationError{Field: name, Value: positive[name], Message: "must be positive"})
		}
	}

	if a.LaunchWaitSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "automation.launch_wait_seconds",
			Value:   a.LaunchWaitSeconds,
			Message: "must be non-negative",
		})
	}
	if a.DelayMinMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "automation.delay_min_ms",
			Value:   a.DelayMinMs,
			Message: "must be non-negative",
		})
	}
	if a.DelayMaxMs < a.DelayMinMs {
		errors = append(errors, ValidationError{
			Field:   "automation.delay_max_ms",
			Value:   a.DelayMaxMs,
			Message: "must be at least delay_min_ms",
		})
	}

	return errors
}

func (c *Config) validateWelcome() []ValidationError {
	var errors []ValidationError
	w := c.Welcome

	if w.StepDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "welcome.step_delay_ms",
			Value:   w.StepDelayMs,
			Message: "must be non-negative",
		})
	}
	if w.StepsFile != "" {
		if _, err := os.Stat(w.StepsFile); err != nil {
			errors = append(errors, ValidationError{
				Field:   "welcome.steps_file",
				Value:   w.StepsFile,
				Message: "file does not exist or is not accessible",
			})
		}
	}
	for i, step := range w.Steps {
		errors = append(errors, ValidateStep(fmt.Sprintf("welcome.steps[%d]", i), step)...)
	}

	return errors
}

// ValidateStep checks a single raw welcome step. field prefixes the
// reported field names.
func ValidateStep(field string, step StepConfig) []ValidationError {
	kind := strings.ToLower(strings.TrimSpace(step.Type))
	if kind == "" {
		kind = "text"
	}
	if !slices.Contains(ValidStepTypes(), kind) {
		return []ValidationError{{
			Field:   field + ".type",
			Value:   step.Type,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStepTypes(), ", ")),
		}}
	}
	if kind == "image" && strings.TrimSpace(step.Path) != "" {
		if _, err := os.Stat(step.Path); err != nil {
			return []ValidationError{{
				Field:   field + ".path",
				Value:   step.Path,
				Message: "image file does not exist or is not accessible",
			}}
		}
	}
	if kind == "link" && strings.TrimSpace(step.URL) != "" {
		if u, err := url.Parse(strings.TrimSpace(step.URL)); err != nil || u.Scheme == "" {
			return []ValidationError{{
				Field:   field + ".url",
				Value:   step.URL,
				Message: "must be an absolute URL",
			}}
		}
	}
	return nil
}

func (c *Config) validatePassive() []ValidationError {
	var errors []ValidationError
	for i, pattern := range c.Passive.IgnoreNames {
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("passive.ignore_names[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}
	return errors
}

func (c *Config) validateServer() []ValidationError {
	if !c.Server.Enabled || strings.TrimSpace(c.Server.Addr) != "" {
		return nil
	}
	return []ValidationError{{
		Field:   "server.addr",
		Value:   c.Server.Addr,
		Message: "is required when the server is enabled",
	}}
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
