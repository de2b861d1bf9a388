package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// configDirName is a directory in the user's config directory where jirasync configuration is stored
	configDirName string = "jirasync"
	// configFileName is the main configuration file inside the config directory
	configFileName string = "config.yaml"
)

// MustConfigDir returns the jirasync config directory and panics when the
// user config directory cannot be determined
func MustConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		panic(fmt.Errorf("cannot obtain user config dir: %w", err))
	}

	return filepath.Join(configDir, configDirName)
}

// DefaultConfigPath returns the path of the configuration file
func DefaultConfigPath() string {
	return filepath.Join(MustConfigDir(), configFileName)
}
