package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file is readable
// by anyone but its owner.
var ErrInsecurePermissions = errors.New("credentials file has insecure permissions")

// Credentials is the content of credentials.toml:
//
//	[taskstore]
//	app_id = "cli_xxx"
//	app_secret = "..."
type Credentials struct {
	TaskStore struct {
		AppID     string `toml:"app_id"`
		AppSecret string `toml:"app_secret"`
	} `toml:"taskstore"`
}

// LoadCredentials reads a credentials file. On unix the file must be 0400.
func LoadCredentials(path string) (*Credentials, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode != 0o400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)", ErrInsecurePermissions, path, mode)
		}
	}

	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &creds, nil
}

// applyCredentials fills AppID/AppSecret from the credentials file when
// they were not set in the config or environment. A missing file is fine.
func (c *TaskStoreConfig) applyCredentials() error {
	if c.CredentialsFile == "" || (c.AppID != "" && c.AppSecret != "") {
		return nil
	}
	creds, err := LoadCredentials(c.CredentialsFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.AppID == "" {
		c.AppID = creds.TaskStore.AppID
	}
	if c.AppSecret == "" {
		c.AppSecret = creds.TaskStore.AppSecret
	}
	return nil
}
