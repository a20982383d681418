// Package reports owns the on-disk handoff between the exporter and the
// importer: one .nessus file per scan in a shared directory.
package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const Ext = ".nessus"

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// FileName maps a scan name to its report file name.
func FileName(scanName string) string {
	return nameReplacer.Replace(scanName) + Ext
}

// Find returns the report files in dir, sorted by name.
func Find(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(entry.Name(), Ext) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Write stores data as the report for scanName under dir and returns the
// final path. The file is renamed into place so a concurrent reader never
// sees a partial report.
func Write(dir, scanName string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, FileName(scanName))

	tmpFile, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}
	tmpPath = ""

	return path, nil
}
