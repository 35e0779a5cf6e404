package scanner

import "time"

// FileRecord is an immutable snapshot of one regular file at scan time
type FileRecord struct {
	Path     string    `json:"path" yaml:"path"`
	Size     int64     `json:"size" yaml:"size"`
	ModTime  time.Time `json:"mod_time" yaml:"mod_time"`
	Category string    `json:"category,omitempty" yaml:"category,omitempty"`
}

// WithCategory returns a copy of the record tagged with category
func (r FileRecord) WithCategory(category string) FileRecord {
	r.Category = category
	return r
}

// ScanResult is a fully materialized walk
type ScanResult struct {
	Files      []FileRecord
	TotalSize  int64
	TotalCount int
	Errors     []error
}

// Add appends a record and updates totals
func (r *ScanResult) Add(rec FileRecord) {
	r.Files = append(r.Files, rec)
	r.TotalSize += rec.Size
	r.TotalCount++
}

// GroupByCategory groups results by their category
func (r *ScanResult) GroupByCategory() map[string]*ScanResult {
	grouped := make(map[string]*ScanResult)

	for _, file := range r.Files {
		if _, ok := grouped[file.Category]; !ok {
			grouped[file.Category] = &ScanResult{Files: make([]FileRecord, 0)}
		}
		grouped[file.Category].Add(file)
	}

	return grouped
}

// Stats counts what a walk saw
type Stats struct {
	Files   int64
	Dirs    int64
	Skipped int64
	Errors  int64
}

// ProgressFunc is called every time the walk emits a record
type ProgressFunc func(filesFound int64, currentPath string)
