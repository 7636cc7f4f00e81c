/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics_writer.go
Description: Writes end-of-session summaries as timestamped JSON files so runs can be
compared after the fact. Ensures the directory exists before writing.
*/

package utils

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// SummaryTimeFormat is the timestamp layout used in summary file names
const SummaryTimeFormat = "2006-01-02_15-04-05"

// WriteSummary marshals result into dir as <timestamp>_<kind>_<session>.json and returns the path
func WriteSummary(fs afero.Fs, dir, kind, session string, at time.Time, result interface{}) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create summary directory: %w", err)
	}

	// 2024-06-11_01-30-00_greybox_3f2a.json
	name := fmt.Sprintf("%s_%s", at.Format(SummaryTimeFormat), kind)
	if session != "" {
		name += "_" + session
	}
	path := filepath.Join(dir, name+".json")

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return path, nil
}
