package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/friendflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create the friendflow configuration",
	Long: `View or create the friendflow configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a commented config file at ~/.config/friendflow/config.yaml.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
}

// secretKeys are masked by config show.
var secretKeys = [][2]string{
	{"taskstore", "app_secret"},
}

func configSource() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "defaults (no config file)"
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# Config file: %s\n", configSource())

	settings := viper.AllSettings()
	delete(settings, "config")
	for _, key := range secretKeys {
		section, ok := settings[key[0]].(map[string]any)
		if !ok {
			continue
		}
		if v, _ := section[key[1]].(string); v != "" {
			section[key[1]] = "********"
		}
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprint(out, string(data))

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err == nil {
		if errs := cfg.Validate(); len(errs) > 0 {
			fmt.Fprintf(out, "\n# Problems:\n")
			for _, e := range errs {
				fmt.Fprintf(out, "#   %s\n", e.Error())
			}
		}
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintf(out, "Put the app credentials in %s (mode 0400) or set FRIENDFLOW_TASKSTORE_APP_ID and FRIENDFLOW_TASKSTORE_APP_SECRET.\n",
		filepath.Join(configDir, "credentials.toml"))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: FRIENDFLOW_* (e.g., FRIENDFLOW_ENGINE_ACTIVE_INTERVAL_SECONDS)")
	return nil
}

const configTemplate = `# Friendflow configuration

taskstore:
  # Link to the task table: a base, wiki or API URL with ?table=...
  table_url: ""
  # App credentials; prefer credentials.toml or the environment
  app_id: ""
  app_secret: ""
  # Minimum spacing between API requests
  min_interval_ms: 300
  max_retries: 3
  fields:
    contact_key: 手机号
    display_name: 姓名
    status: 微信绑定状态
    nickname: 昵称
    # Column for the remark read from new contacts (empty = not written)
    remark: ""
  statuses:
    pending_add: 待添加
    applied: 已申请
    bound: 已绑定
    not_found: 未找到
    failed: 添加失败

engine:
  # Seconds between task table polls (minimum 3)
  active_interval_seconds: 5
  # Seconds between new-contacts scans (minimum 5) and their random jitter
  passive_interval_seconds: 30
  jitter_seconds: 5
  passive_enabled: true
  # Give up on a record after this many unresolved attempts (0 = never)
  max_unresolved_attempts: 0

automation:
  # Websocket address of the accessibility helper
  bridge_url: ws://127.0.0.1:9339/rpc
  # Client executable launched when it is not running
  exec_path: ""
  launch_wait_seconds: 3

welcome:
  enabled: true
  # A YAML steps file wins over the inline steps and is reloaded on change
  steps_file: ""
  watch_file: true
  steps:
    - type: text
      content: 你好，很高兴认识你！
  step_delay_ms: 1000

passive:
  # Glob patterns of new-contact entries never processed
  ignore_names: []

journal:
  enabled: true

server:
  enabled: false
  addr: 127.0.0.1:8765
  allowed_origins: []

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
`
