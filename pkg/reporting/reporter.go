// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package reporting renders the results of a run as JSON or text reports.
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReportFormat specifies the output format for reports
type ReportFormat string

const (
	// FormatJSON produces JSON-formatted reports
	FormatJSON ReportFormat = "json"
	// FormatText produces human-readable text reports
	FormatText ReportFormat = "text"
)

// ParseFormat accepts json or text.
func ParseFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(s); f {
	case FormatJSON, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Reporter generates test result reports in various formats
type Reporter struct {
	artifactDir string
	out         io.Writer
}

// NewReporter creates a new reporter instance. Summaries are printed to stdout.
func NewReporter(artifactDir string) *Reporter {
	return &Reporter{
		artifactDir: artifactDir,
		out:         os.Stdout,
	}
}

// GenerateReport generates a report in the specified format and returns it as a string
func (r *Reporter) GenerateReport(report *Report, format ReportFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(report)
	case FormatText:
		return formatText(report)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteReport generates a report and writes it under <artifactDir>/<runID>/.
// It returns the path of the written file.
func (r *Reporter) WriteReport(report *Report, format ReportFormat) (string, error) {
	content, err := r.GenerateReport(report, format)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	reportDir := r.reportDir(report)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	var filename string
	switch format {
	case FormatJSON:
		filename = "report.json"
	case FormatText:
		filename = "report.txt"
	}

	reportPath := filepath.Join(reportDir, filename)
	if err := os.WriteFile(reportPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return reportPath, nil
}

func (r *Reporter) reportDir(report *Report) string {
	return filepath.Join(r.artifactDir, report.RunID)
}

// PrintSummary prints a concise summary of test results
func (r *Reporter) PrintSummary(report *Report) error {
	summary, err := formatSummary(report, filepath.Join(r.reportDir(report), "report.txt"))
	if err != nil {
		return fmt.Errorf("failed to format summary: %w", err)
	}

	_, err = fmt.Fprintln(r.out, summary)
	return err
}
