package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fieldsOf(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"base url scheme", func(c *Config) { c.TaskStore.BaseURL = "ftp://x" }, "taskstore.base_url"},
		{"proxy without host", func(c *Config) { c.TaskStore.ProxyURL = "not a url" }, "taskstore.proxy_url"},
		{"negative spacing", func(c *Config) { c.TaskStore.MinIntervalMs = -1 }, "taskstore.min_interval_ms"},
		{"too many retries", func(c *Config) { c.TaskStore.MaxRetries = 11 }, "taskstore.max_retries"},
		{"backoff cap below base", func(c *Config) { c.TaskStore.BackoffMaxMs = 10 }, "taskstore.backoff_max_ms"},
		{"page size", func(c *Config) { c.TaskStore.PageSize = 501 }, "taskstore.page_size"},
		{"empty status field", func(c *Config) { c.TaskStore.Fields.Status = " " }, "taskstore.fields.status"},
		{"duplicate status label", func(c *Config) { c.TaskStore.Statuses.Failed = "未找到" }, "taskstore.statuses.not_found"},
		{"active interval floor", func(c *Config) { c.Engine.ActiveIntervalSeconds = 2 }, "engine.active_interval_seconds"},
		{"passive interval floor", func(c *Config) { c.Engine.PassiveIntervalSeconds = 4 }, "engine.passive_interval_seconds"},
		{"negative jitter", func(c *Config) { c.Engine.JitterSeconds = -1 }, "engine.jitter_seconds"},
		{"jitter cap", func(c *Config) { c.Engine.JitterSeconds = 5_000_000_000 }, "engine.jitter_seconds"},
		{"passive interval cap", func(c *Config) { c.Engine.PassiveIntervalSeconds = MaxIntervalSeconds + 1 }, "engine.passive_interval_seconds"},
		{"stop timeout", func(c *Config) { c.Engine.StopTimeoutSeconds = 0 }, "engine.stop_timeout_seconds"},
		{"unresolved attempts", func(c *Config) { c.Engine.MaxUnresolvedAttempts = -2 }, "engine.max_unresolved_attempts"},
		{"bridge scheme", func(c *Config) { c.Automation.BridgeURL = "http://localhost" }, "automation.bridge_url"},
		{"zero timeout", func(c *Config) { c.Automation.ConfirmTimeoutSeconds = 0 }, "automation.confirm_timeout_seconds"},
		{"delay bounds", func(c *Config) { c.Automation.DelayMaxMs = 100 }, "automation.delay_max_ms"},
		{"step delay", func(c *Config) { c.Welcome.StepDelayMs = -5 }, "welcome.step_delay_ms"},
		{"missing steps file", func(c *Config) { c.Welcome.StepsFile = "/nonexistent/steps.yaml" }, "welcome.steps_file"},
		{"bad step type", func(c *Config) { c.Welcome.Steps = []StepConfig{{Type: "video"}} }, "welcome.steps[0].type"},
		{"relative link", func(c *Config) { c.Welcome.Steps = []StepConfig{{Type: "link", URL: "example.com"}} }, "welcome.steps[0].url"},
		{"bad glob", func(c *Config) { c.Passive.IgnoreNames = []string{"[abc"} }, "passive.ignore_names[0]"},
		{"server addr", func(c *Config) { c.Server.Enabled = true; c.Server.Addr = "" }, "server.addr"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("expected exactly one error, got %v", fieldsOf(errs))
			}
			if errs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidateStep(t *testing.T) {
	img := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		step  StepConfig
		valid bool
	}{
		{"text", StepConfig{Type: "text", Content: "hi"}, true},
		{"untyped defaults to text", StepConfig{Content: "hi"}, true},
		{"case insensitive", StepConfig{Type: "IMAGE", Path: img}, true},
		{"missing image", StepConfig{Type: "image", Path: img + ".missing"}, false},
		{"link", StepConfig{Type: "link", URL: "https://example.com/a"}, true},
		{"empty link is dropped later", StepConfig{Type: "link"}, true},
		{"unknown", StepConfig{Type: "sticker"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateStep("s", tt.step)
			if (len(errs) == 0) != tt.valid {
				t.Errorf("ValidateStep(%+v) = %v, valid want %v", tt.step, errs, tt.valid)
			}
		})
	}
}

func TestRequireTaskStore(t *testing.T) {
	cfg := Default()
	errs := cfg.RequireTaskStore()
	if got := strings.Join(fieldsOf(errs), ","); got != "taskstore.app_id,taskstore.app_secret,taskstore.table_url" {
		t.Errorf("fields = %s", got)
	}

	cfg.TaskStore.AppID, cfg.TaskStore.AppSecret, cfg.TaskStore.TableURL = "a", "b", "https://x/y"
	if errs := cfg.RequireTaskStore(); len(errs) != 0 {
		t.Errorf("unexpected errors %v", errs)
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if one.Error() != "a: bad (got: 1)" {
		t.Errorf("single = %q", one.Error())
	}
	two := append(one, ValidationError{Field: "b", Value: 2, Message: "worse"})
	if !strings.HasPrefix(two.Error(), "2 validation errors:") {
		t.Errorf("multi = %q", two.Error())
	}
}
