package models

import "time"

// MediaFile is a file found on an import source
type MediaFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash"`
}

// ImportRecord is a history entry for a file that was copied to the destination
type ImportRecord struct {
	Hash       string    `json:"hash"`
	SourcePath string    `json:"source_path"`
	DestPath   string    `json:"dest_path"`
	Size       int64     `json:"size"`
	TaskID     string    `json:"task_id"`
	ImportedAt time.Time `json:"imported_at"`
}

// Progress is the payload of PROGRESS updates emitted by import tasks
type Progress struct {
	TaskID         string `json:"task_id"`
	Processed      int    `json:"processed"`
	Total          int    `json:"total"`
	ProcessedBytes int64  `json:"processed_bytes"`
	TotalBytes     int64  `json:"total_bytes"`
	Current        string `json:"current"`
}

// Fraction returns the processed share of bytes, falling back to file counts
func (p Progress) Fraction() float64 {
	if p.TotalBytes > 0 {
		return float64(p.ProcessedBytes) / float64(p.TotalBytes)
	}
	if p.Total > 0 {
		return float64(p.Processed) / float64(p.Total)
	}
	return 1
}

// ImportStats summarizes what an import task did
type ImportStats struct {
	Imported      int   `json:"imported"`
	Duplicates    int   `json:"duplicates"`
	Failed        int   `json:"failed"`
	Remaining     int   `json:"remaining"`
	BytesImported int64 `json:"bytes_imported"`
}

// Add accumulates other into s
func (s *ImportStats) Add(other ImportStats) {
	s.Imported += other.Imported
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
	s.Remaining += other.Remaining
	s.BytesImported += other.BytesImported
}
