package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete friendflow configuration
type Config struct {
	TaskStore  TaskStoreConfig  `mapstructure:"taskstore"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Automation AutomationConfig `mapstructure:"automation"`
	Welcome    WelcomeConfig    `mapstructure:"welcome"`
	Passive    PassiveConfig    `mapstructure:"passive"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// TaskStoreConfig controls the connection to the bitable task store
type TaskStoreConfig struct {
	// BaseURL is the open platform API root
	BaseURL string `mapstructure:"base_url"`
	// AppID and AppSecret are the tenant app credentials. They may also be
	// supplied through the credentials file.
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	// CredentialsFile is a TOML file with a [taskstore] section. Must be 0400.
	CredentialsFile string `mapstructure:"credentials_file"`
	// TableURL is a records API URL, a /base/ link or a /wiki/ link with a
	// table query parameter
	TableURL string `mapstructure:"table_url"`

	// MinIntervalMs is the minimum spacing between two HTTP requests
	MinIntervalMs int `mapstructure:"min_interval_ms"`
	// MaxRetries is the number of retries after the first attempt for
	// retryable failures (429, 502, 503, 504, connection errors)
	MaxRetries    int `mapstructure:"max_retries"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
	// TimeoutSeconds bounds a single HTTP request
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// PageSize is the number of records fetched per search page (max 500)
	PageSize int `mapstructure:"page_size"`

	// ProxyURL overrides the proxy for task store requests
	ProxyURL string `mapstructure:"proxy_url"`
	// UseSystemProxy honours HTTP(S)_PROXY when ProxyURL is empty
	UseSystemProxy bool `mapstructure:"use_system_proxy"`
	// VerifyTLS disables certificate verification when false
	VerifyTLS bool `mapstructure:"verify_tls"`

	Fields   FieldsConfig   `mapstructure:"fields"`
	Statuses StatusesConfig `mapstructure:"statuses"`
}

// FieldsConfig names the table columns the engine reads and writes
type FieldsConfig struct {
	ContactKey  string `mapstructure:"contact_key"`
	DisplayName string `mapstructure:"display_name"`
	Status      string `mapstructure:"status"`
	Nickname    string `mapstructure:"nickname"`
	// Remark receives the contact's remark from passive discovery. Empty
	// leaves remarks unwritten.
	Remark string `mapstructure:"remark"`
}

// StatusesConfig holds the cell values used for each binding status
type StatusesConfig struct {
	PendingAdd string `mapstructure:"pending_add"`
	Applied    string `mapstructure:"applied"`
	Bound      string `mapstructure:"bound"`
	NotFound   string `mapstructure:"not_found"`
	Failed     string `mapstructure:"failed"`
}

// EngineConfig controls loop scheduling
type EngineConfig struct {
	// ActiveIntervalSeconds is the active loop period (min 3)
	ActiveIntervalSeconds int `mapstructure:"active_interval_seconds"`
	// PassiveIntervalSeconds is the passive loop period (min 5)
	PassiveIntervalSeconds int `mapstructure:"passive_interval_seconds"`
	// JitterSeconds randomizes the passive period by ± this amount
	JitterSeconds int `mapstructure:"jitter_seconds"`
	// StopTimeoutSeconds bounds how long Stop waits for the loops
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
	// MaxUnresolvedAttempts moves a record to failed after this many
	// inconclusive attempts. 0 retries forever.
	MaxUnresolvedAttempts int `mapstructure:"max_unresolved_attempts"`
	// PassiveEnabled turns the passive discovery loop on
	PassiveEnabled bool `mapstructure:"passive_enabled"`
}

// AutomationConfig controls the desktop client driver
type AutomationConfig struct {
	// BridgeURL is the websocket endpoint of the accessibility helper
	BridgeURL string `mapstructure:"bridge_url"`
	// ExecPath launches the messaging client when its window is absent
	ExecPath          string `mapstructure:"exec_path"`
	LaunchWaitSeconds int    `mapstructure:"launch_wait_seconds"`

	ProfileTimeoutSeconds      int `mapstructure:"profile_timeout_seconds"`
	RelationshipTimeoutSeconds int `mapstructure:"relationship_timeout_seconds"`
	ButtonTimeoutSeconds       int `mapstructure:"button_timeout_seconds"`
	ConfirmTimeoutSeconds      int `mapstructure:"confirm_timeout_seconds"`
	IdentifierTimeoutSeconds   int `mapstructure:"identifier_timeout_seconds"`
	PollIntervalMs             int `mapstructure:"poll_interval_ms"`

	// DelayMinMs and DelayMaxMs bound the random pause between UI actions
	DelayMinMs int `mapstructure:"delay_min_ms"`
	DelayMaxMs int `mapstructure:"delay_max_ms"`
}

// WelcomeConfig controls the welcome package
type WelcomeConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Steps is the inline step list
	Steps []StepConfig `mapstructure:"steps"`
	// StepsFile is a YAML or JSON step list; it wins over Steps when set
	StepsFile string `mapstructure:"steps_file"`
	// WatchFile reloads StepsFile on change
	WatchFile bool `mapstructure:"watch_file"`
	// Text and ImagePaths ("|" separated) are the legacy single-message form
	Text        string `mapstructure:"text"`
	ImagePaths  string `mapstructure:"image_paths"`
	StepDelayMs int    `mapstructure:"step_delay_ms"`
}

// StepConfig is one raw welcome step
type StepConfig struct {
	Type    string `mapstructure:"type" yaml:"type" json:"type"`
	Content string `mapstructure:"content" yaml:"content,omitempty" json:"content,omitempty"`
	Path    string `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	URL     string `mapstructure:"url" yaml:"url,omitempty" json:"url,omitempty"`
	Title   string `mapstructure:"title" yaml:"title,omitempty" json:"title,omitempty"`
}

// PassiveConfig controls passive discovery
type PassiveConfig struct {
	// IgnoreNames are glob patterns of entry names never processed
	IgnoreNames []string `mapstructure:"ignore_names"`
}

// JournalConfig controls the local SQLite ledger
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path defaults to {DataDir}/journal.db
	Path string `mapstructure:"path"`
}

// ServerConfig controls the HTTP control and event stream endpoint
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir defaults to {DataDir}/logs
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		TaskStore: TaskStoreConfig{
			BaseURL:         "https://open.feishu.cn",
			CredentialsFile: filepath.Join(ConfigDir(), "credentials.toml"),
			MinIntervalMs:   300,
			MaxRetries:      3,
			BackoffBaseMs:   500,
			BackoffMaxMs:    8000,
			TimeoutSeconds:  15,
			PageSize:        100,
			UseSystemProxy:  true,
			VerifyTLS:       true,
			Fields: FieldsConfig{
				ContactKey:  "手机号",
				DisplayName: "姓名",
				Status:      "微信绑定状态",
				Nickname:    "昵称",
			},
			Statuses: StatusesConfig{
				PendingAdd: "待添加",
				Applied:    "已申请",
				Bound:      "已绑定",
				NotFound:   "未找到",
				Failed:     "添加失败",
			},
		},
		Engine: EngineConfig{
			ActiveIntervalSeconds:  5,
			PassiveIntervalSeconds: 30,
			JitterSeconds:          5,
			StopTimeoutSeconds:     2,
			MaxUnresolvedAttempts:  0,
			PassiveEnabled:         true,
		},
		Automation: AutomationConfig{
			BridgeURL:                  "ws://127.0.0.1:9339/rpc",
			LaunchWaitSeconds:          3,
			ProfileTimeoutSeconds:      4,
			RelationshipTimeoutSeconds: 6,
			ButtonTimeoutSeconds:       3,
			ConfirmTimeoutSeconds:      8,
			IdentifierTimeoutSeconds:   15,
			PollIntervalMs:             300,
			DelayMinMs:                 500,
			DelayMaxMs:                 1500,
		},
		Welcome: WelcomeConfig{
			Enabled:     true,
			WatchFile:   true,
			StepDelayMs: 1000,
		},
		Passive: PassiveConfig{
			IgnoreNames: []string{},
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Enabled:        false,
			Addr:           "127.0.0.1:8765",
			AllowedOrigins: []string{},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	d := Default()

	// Task store
	viper.SetDefault("taskstore.base_url", d.TaskStore.BaseURL)
	viper.SetDefault("taskstore.app_id", d.TaskStore.AppID)
	viper.SetDefault("taskstore.app_secret", d.TaskStore.AppSecret)
	viper.SetDefault("taskstore.credentials_file", d.TaskStore.CredentialsFile)
	viper.SetDefault("taskstore.table_url", d.TaskStore.TableURL)
	viper.SetDefault("taskstore.min_interval_ms", d.TaskStore.MinIntervalMs)
	viper.SetDefault("taskstore.max_retries", d.TaskStore.MaxRetries)
	viper.SetDefault("taskstore.backoff_base_ms", d.TaskStore.BackoffBaseMs)
	viper.SetDefault("taskstore.backoff_max_ms", d.TaskStore.BackoffMaxMs)
	viper.SetDefault("taskstore.timeout_seconds", d.TaskStore.TimeoutSeconds)
	viper.SetDefault("taskstore.page_size", d.TaskStore.PageSize)
	viper.SetDefault("taskstore.proxy_url", d.TaskStore.ProxyURL)
	viper.SetDefault("taskstore.use_system_proxy", d.TaskStore.UseSystemProxy)
	viper.SetDefault("taskstore.verify_tls", d.TaskStore.VerifyTLS)
	viper.SetDefault("taskstore.fields.contact_key", d.TaskStore.Fields.ContactKey)
	viper.SetDefault("taskstore.fields.display_name", d.TaskStore.Fields.DisplayName)
	viper.SetDefault("taskstore.fields.status", d.TaskStore.Fields.Status)
	viper.SetDefault("taskstore.fields.nickname", d.TaskStore.Fields.Nickname)
	viper.SetDefault("taskstore.fields.remark", d.TaskStore.Fields.Remark)
	viper.SetDefault("taskstore.statuses.pending_add", d.TaskStore.Statuses.PendingAdd)
	viper.SetDefault("taskstore.statuses.applied", d.TaskStore.Statuses.Applied)
	viper.SetDefault("taskstore.statuses.bound", d.TaskStore.Statuses.Bound)
	viper.SetDefault("taskstore.statuses.not_found", d.TaskStore.Statuses.NotFound)
	viper.SetDefault("taskstore.statuses.failed", d.TaskStore.Statuses.Failed)

	// Engine
	viper.SetDefault("engine.active_interval_seconds", d.Engine.ActiveIntervalSeconds)
	viper.SetDefault("engine.passive_interval_seconds", d.Engine.PassiveIntervalSeconds)
	viper.SetDefault("engine.jitter_seconds", d.Engine.JitterSeconds)
	viper.SetDefault("engine.stop_timeout_seconds", d.Engine.StopTimeoutSeconds)
	viper.SetDefault("engine.max_unresolved_attempts", d.Engine.MaxUnresolvedAttempts)
	viper.SetDefault("engine.passive_enabled", d.Engine.PassiveEnabled)

	// Automation
	viper.SetDefault("automation.bridge_url", d.Automation.BridgeURL)
	viper.SetDefault("automation.exec_path", d.Automation.ExecPath)
	viper.SetDefault("automation.launch_wait_seconds", d.Automation.LaunchWaitSeconds)
	viper.SetDefault("automation.profile_timeout_seconds", d.Automation.ProfileTimeoutSeconds)
	viper.SetDefault("automation.relationship_timeout_seconds", d.Automation.RelationshipTimeoutSeconds)
	viper.SetDefault("automation.button_timeout_seconds", d.Automation.ButtonTimeoutSeconds)
	viper.SetDefault("automation.confirm_timeout_seconds", d.Automation.ConfirmTimeoutSeconds)
	viper.SetDefault("automation.identifier_timeout_seconds", d.Automation.IdentifierTimeoutSeconds)
	viper.SetDefault("automation.poll_interval_ms", d.Automation.PollIntervalMs)
	viper.SetDefault("automation.delay_min_ms", d.Automation.DelayMinMs)
	viper.SetDefault("automation.delay_max_ms", d.Automation.DelayMaxMs)

	// Welcome
	viper.SetDefault("welcome.enabled", d.Welcome.Enabled)
	viper.SetDefault("welcome.steps", d.Welcome.Steps)
	viper.SetDefault("welcome.steps_file", d.Welcome.StepsFile)
	viper.SetDefault("welcome.watch_file", d.Welcome.WatchFile)
	viper.SetDefault("welcome.text", d.Welcome.Text)
	viper.SetDefault("welcome.image_paths", d.Welcome.ImagePaths)
	viper.SetDefault("welcome.step_delay_ms", d.Welcome.StepDelayMs)

	// Passive
	viper.SetDefault("passive.ignore_names", d.Passive.IgnoreNames)

	// Journal
	viper.SetDefault("journal.enabled", d.Journal.Enabled)
	viper.SetDefault("journal.path", d.Journal.Path)

	// Server
	viper.SetDefault("server.enabled", d.Server.Enabled)
	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	// Logging
	viper.SetDefault("logging.enabled", d.Logging.Enabled)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.dir", d.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.compress", d.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct, merges the
// credentials file and validates the result
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.TaskStore.applyCredentials(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// MinInterval returns the minimum request spacing
func (c *TaskStoreConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// Timeout returns the per-request timeout
func (c *TaskStoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffBase returns the first retry delay
func (c *TaskStoreConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap
func (c *TaskStoreConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// ActiveInterval returns the active loop period
func (c *EngineConfig) ActiveInterval() time.Duration {
	return time.Duration(c.ActiveIntervalSeconds) * time.Second
}

// PassiveInterval returns the passive loop period
func (c *EngineConfig) PassiveInterval() time.Duration {
	return time.Duration(c.PassiveIntervalSeconds) * time.Second
}

// Jitter returns the passive loop jitter
func (c *EngineConfig) Jitter() time.Duration {
	return time.Duration(c.JitterSeconds) * time.Second
}

// StopTimeout returns how long Stop waits for both loops
func (c *EngineConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// StepDelay returns the pause after each welcome step
func (c *WelcomeConfig) StepDelay() time.Duration {
	return time.Duration(c.StepDelayMs) * time.Millisecond
}

// JournalPath returns the configured journal path or the default location
func (c *JournalConfig) JournalPath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(DataDir(), "journal.db")
}

// LogDir returns the configured log directory or the default location
func (c *LoggingConfig) LogDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(DataDir(), "logs")
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "friendflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".friendflow"
	}
	return filepath.Join(home, ".config", "friendflow")
}

// DataDir returns the directory for the journal and logs
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "friendflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".friendflow"
	}
	return filepath.Join(home, ".local", "share", "friendflow")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
