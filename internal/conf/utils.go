package conf

import (
	"os"
	"path/filepath"

	"github.com/dermascan/dermascan/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// When one of them already holds a config file only that one is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", "dermascan"),
		"/etc/dermascan",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// DefaultConfigFilePath is where `config init` writes when no path is given.
func DefaultConfigFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}
	return filepath.Join(homeDir, ".config", "dermascan", "config.yaml"), nil
}
