package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/mvdemo/rapidus/envconfig"
)

// LoadDotEnv loads environment variables from ~/.rapidus/.env and reloads the
// configuration. A missing file is not an error.
func LoadDotEnv() error {
	home, err := envconfig.Home()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	envPath := filepath.Join(home, ".env")
	if err := loadDotEnv(envPath); err != nil {
		return err
	}

	envconfig.LoadConfig()
	return nil
}

func loadDotEnv(envPath string) error {
	if _, err := os.Stat(envPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to check if .env file exists: %w", err)
	}

	// Variables already set in the environment take precedence
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("could not load %s: %w", envPath, err)
	}

	return nil
}
