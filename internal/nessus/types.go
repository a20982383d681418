package nessus

import (
	"fmt"
	"time"
)

type ScanSummary struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

type ExportStatus string

const (
	StatusPending ExportStatus = "pending"
	StatusLoading ExportStatus = "loading"
	StatusReady   ExportStatus = "ready"
)

// ExportJob tracks one in-flight export. It lives only as long as the
// ExportScan call that created it.
type ExportJob struct {
	ScanID int
	FileID int
	Status ExportStatus
}

type ExportResult struct {
	ScanID          int       `json:"scan_id"`
	ScanName        string    `json:"scan_name"`
	FileID          int       `json:"file_id,omitempty"`
	Path            string    `json:"path,omitempty"`
	Bytes           int       `json:"bytes"`
	Polls           int       `json:"polls"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

func (r *ExportResult) OK() bool {
	return r.Error == ""
}

// APIError is returned for any non-success response from the scanner.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

type scanListResponse struct {
	Scans []ScanSummary `json:"scans"`
}

type exportRequest struct {
	Format string `json:"format"`
}

type exportResponse struct {
	File int `json:"file"`
}

type exportStatusResponse struct {
	Status ExportStatus `json:"status"`
}
