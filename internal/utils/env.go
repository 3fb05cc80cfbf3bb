package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kelsos/media-import/internal/logger"
)

// LoadEnvironment loads environment variables from .env files
// It tries the current directory first and then the directory of the executable.
// Variables that are already set are never overridden.
func LoadEnvironment() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found in current directory or error loading it: %v", err)
	} else {
		logger.Info("Successfully loaded .env file from current directory")
	}

	execPath, err := os.Executable()
	if err != nil {
		logger.Debug("Could not determine executable path: %v", err)
		return
	}

	execDir := filepath.Dir(execPath)
	envPath := filepath.Join(execDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Debug("No .env file found in app directory (%s) or error loading it: %v", execDir, err)
	} else {
		logger.Info("Successfully loaded .env file from app directory: %s", execDir)
	}
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("Could not resolve home directory for %s: %v", path, err)
		return path
	}

	if path == "~" {
		return homeDir
	}
	return filepath.Join(homeDir, path[2:])
}
