package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WatermarkData represents the structure of the per-source state file
type WatermarkData struct {
	Source       string `json:"source"`
	LastModified int64  `json:"last_modified"`
	UpdatedAt    int64  `json:"updated_at"`
}

// GetAppDataDir ensures the application data directory exists and returns it
func GetAppDataDir(dataDir string) (string, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".media-import")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create app data directory: %w", err)
	}

	return dataDir, nil
}

// GetWatermarkFilePath returns the path to the state file for a specific source
func GetWatermarkFilePath(stateDir, source string) string {
	sum := sha1.Sum([]byte(filepath.Clean(source)))
	return filepath.Join(stateDir, fmt.Sprintf("%s_state.json", hex.EncodeToString(sum[:8])))
}

// SaveWatermark stores the newest imported modification time of a source
func SaveWatermark(stateDir, source string, lastModified time.Time) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data := WatermarkData{
		Source:       source,
		LastModified: lastModified.UnixNano(),
		UpdatedAt:    time.Now().Unix(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal watermark data: %w", err)
	}

	if err := os.WriteFile(GetWatermarkFilePath(stateDir, source), jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write watermark file: %w", err)
	}

	return nil
}

// GetLastWatermark gets the stored watermark of a source, zero when none was saved
func GetLastWatermark(stateDir, source string) (time.Time, error) {
	filePath := GetWatermarkFilePath(stateDir, source)

	if _, statErr := os.Stat(filePath); os.IsNotExist(statErr) {
		return time.Time{}, nil
	}

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark file: %w", err)
	}

	var data WatermarkData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal watermark data: %w", err)
	}

	if data.LastModified == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, data.LastModified), nil
}
