package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelsos/media-import/internal/logger"
)

// GetDefaultBackupDir returns the default backup directory
func GetDefaultBackupDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, "backups"), nil
}

// CreateBackup zips the application data directory into backupDir and returns
// the path of the archive
func CreateBackup(dataDir, backupDir string) (string, error) {
	if dataDir == "" {
		return "", fmt.Errorf("data directory cannot be empty")
	}

	if info, err := os.Stat(dataDir); err != nil {
		return "", fmt.Errorf("failed to access data directory: %w", err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("data directory %s is not a directory", dataDir)
	}

	if backupDir == "" {
		var err error
		backupDir, err = GetDefaultBackupDir()
		if err != nil {
			return "", fmt.Errorf("failed to get default backup directory: %w", err)
		}
	}

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	backupFile := filepath.Join(backupDir, fmt.Sprintf("media-import_backup_%s.zip", timestamp))

	zipFile, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}

	zipWriter := zip.NewWriter(zipFile)

	err = filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		return AddToZip(path, info, err, dataDir, zipWriter)
	})

	if closeErr := zipWriter.Close(); err == nil {
		err = closeErr
	}
	if closeErr := zipFile.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(backupFile)
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	logger.Info("Backup created successfully: %s", backupFile)
	return backupFile, nil
}

func AddToZip(path string, info os.FileInfo, err error, dataDir string, zipWriter *zip.Writer) error {
	if err != nil {
		return err
	}

	if path == dataDir {
		return nil
	}

	relPath, err := filepath.Rel(dataDir, path)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}

	if !ShouldIncludeInBackup(relPath, info.IsDir()) {
		if info.IsDir() {
			logger.Debug("Skipping directory: %s", relPath)
			return filepath.SkipDir
		}
		logger.Debug("Skipping file: %s", relPath)
		return nil
	}

	name := filepath.ToSlash(relPath)
	if info.IsDir() {
		_, err = zipWriter.Create(name + "/")
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create file header: %w", err)
	}

	header.Name = name
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create file in zip: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	logger.Debug("Added file to backup: %s", relPath)
	return nil
}

// ShouldIncludeInBackup checks if a file or directory should be included in the backup
func ShouldIncludeInBackup(relPath string, isDir bool) bool {
	components := strings.Split(relPath, string(filepath.Separator))
	if len(components) == 0 {
		return false
	}

	switch components[0] {
	case "history.db", "history.db-wal", "history.db-shm", "config.toml":
		return len(components) == 1 && !isDir
	case "state":
		if len(components) == 1 {
			return isDir
		}
		// Watermarks are flat JSON files
		return len(components) == 2 && !isDir && strings.HasSuffix(components[1], ".json")
	default:
		return false
	}
}
