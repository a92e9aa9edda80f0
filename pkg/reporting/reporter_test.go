//go:build unit

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

package reporting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/driver"
	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
	"github.com/alexandremahdhaoui/provcheck/pkg/orchestration"
	"github.com/alexandremahdhaoui/provcheck/pkg/scenario"
)

// Test fixtures

var startTime = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func passedConnection() *orchestration.TestResult {
	return &orchestration.TestResult{
		Scenario:   &scenario.TestScenario{Name: "test-connection", Tags: []string{"connection"}},
		Status:     orchestration.StatusPassed,
		StartTime:  startTime,
		EndTime:    startTime.Add(2 * time.Second),
		Duration:   2 * time.Second,
		Connection: &driver.FormValidation{Kind: driver.KindOK, Message: "Connection succeeded!"},
		Assertions: []orchestration.AssertionResult{
			{Type: scenario.AssertConnectionOK, Expected: "OK", Actual: "OK", Passed: true, Duration: time.Second},
		},
	}
}

func failedBuild() *orchestration.TestResult {
	return &orchestration.TestResult{
		Scenario:  &scenario.TestScenario{Name: "provision-ssh-agent", Description: "SSH agent"},
		JobName:   "provcheck-1a2b3c4d",
		Status:    orchestration.StatusFailed,
		StartTime: startTime.Add(2 * time.Second),
		EndTime:   startTime.Add(92 * time.Second),
		Duration:  90 * time.Second,
		Builds:    []jenkins.Build{{Number: 1, Result: "SUCCESS"}},
		Assertions: []orchestration.AssertionResult{
			{Type: scenario.AssertBuildSucceeded, Expected: "SUCCESS", Actual: "#1 SUCCESS", Passed: true},
			{
				Type:     scenario.AssertBuiltOnAgent,
				Expected: "an agent",
				Actual:   jenkins.ControllerNodeName,
				Message:  "build #1 ran on (built-in)",
			},
		},
		Teardown: &converge.Result{Value: "0", Attempts: 3, Elapsed: 10 * time.Second},
	}
}

func erroredBuild() *orchestration.TestResult {
	return &orchestration.TestResult{
		Scenario:  &scenario.TestScenario{Name: "provision-jnlp-agent"},
		Status:    orchestration.StatusError,
		StartTime: startTime.Add(92 * time.Second),
		EndTime:   startTime.Add(100 * time.Second),
		Duration:  8 * time.Second,
		Errors: []error{
			fmt.Errorf("%w: %w", orchestration.ErrActionFailed, converge.ErrNotConverged),
			fmt.Errorf("%w: %w", orchestration.ErrTeardownFailed, errors.New("boom")),
		},
	}
}

func skipped() *orchestration.TestResult {
	return &orchestration.TestResult{
		Scenario:    &scenario.TestScenario{Name: "ssh-agent-survives-restart"},
		Status:      orchestration.StatusSkipped,
		StartTime:   startTime,
		EndTime:     startTime,
		SkipReasons: []string{"This test requires a restartable Jenkins"},
	}
}

func TestNewReport(t *testing.T) {
	report := NewReport("run-1", "http://jenkins:8080/", []*orchestration.TestResult{
		passedConnection(), failedBuild(), erroredBuild(), skipped(),
	})

	assert.Equal(t, ReportVersion, report.Version)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, Stats{Total: 4, Passed: 1, Failed: 1, Errored: 1, Skipped: 1}, report.Summary)
	assert.Equal(t, 3, report.Assertions.Total)
	assert.Equal(t, 2, report.Assertions.Passed)
	assert.InDelta(t, 2.0/3.0, report.Assertions.PassRate, 1e-9)

	assert.Equal(t, orchestration.StatusError, report.Execution.Status)
	assert.Equal(t, 1, report.Execution.ExitCode)
	assert.Equal(t, startTime, report.Execution.StartTime)
	assert.InDelta(t, 100.0, report.Execution.Duration, 1e-9)

	build := report.Scenarios[1]
	assert.Equal(t, []BuildInfo{{Number: 1, Result: "SUCCESS", BuiltOn: jenkins.ControllerNodeName}}, build.Builds)
	assert.Equal(t, &TeardownInfo{Attempts: 3, Duration: 10}, build.Teardown)

	errored := report.Scenarios[2]
	require.Len(t, errored.Errors, 2)
	assert.Equal(t, "action", errored.Errors[0].Phase)
	assert.Equal(t, "teardown", errored.Errors[1].Phase)
}

func TestNewReport_Status(t *testing.T) {
	tests := []struct {
		name     string
		results  []*orchestration.TestResult
		status   string
		exitCode int
	}{
		{"all passed", []*orchestration.TestResult{passedConnection()}, orchestration.StatusPassed, 0},
		{"passed and skipped", []*orchestration.TestResult{passedConnection(), skipped()}, orchestration.StatusPassed, 0},
		{"all skipped", []*orchestration.TestResult{skipped()}, orchestration.StatusSkipped, 0},
		{"failed", []*orchestration.TestResult{passedConnection(), failedBuild()}, orchestration.StatusFailed, 1},
		{"no scenario", nil, orchestration.StatusSkipped, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewReport("run", "", tt.results)
			assert.Equal(t, tt.status, report.Execution.Status)
			assert.Equal(t, tt.exitCode, report.Execution.ExitCode)
		})
	}
}

func TestGenerateReport_JSON(t *testing.T) {
	report := NewReport("run-1", "", []*orchestration.TestResult{passedConnection(), failedBuild()})

	out, err := NewReporter(t.TempDir()).GenerateReport(report, FormatJSON)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	for _, field := range []string{"version", "runID", "execution", "scenarios", "summary", "assertions"} {
		assert.Contains(t, decoded, field)
	}
	assert.Contains(t, out, "\n  \"runID\": \"run-1\"")
	assert.Contains(t, out, `"builtOn": "(built-in)"`)
}

func TestGenerateReport_Text(t *testing.T) {
	report := NewReport("run-1", "http://jenkins:8080/", []*orchestration.TestResult{
		passedConnection(), failedBuild(), erroredBuild(), skipped(),
	})

	out, err := NewReporter(t.TempDir()).GenerateReport(report, FormatText)
	require.NoError(t, err)

	for _, section := range []string{
		"PROVISIONING ACCEPTANCE REPORT",
		"SUMMARY",
		"SCENARIO RESULTS",
		"ASSERTION SUMMARY",
		"FAILURES",
		"ERRORS",
		"TEST RESULT:",
	} {
		assert.Contains(t, out, section)
	}

	assert.Contains(t, out, "Controller: http://jenkins:8080/")
	assert.Contains(t, out, "[2/4] provision-ssh-agent")
	assert.Contains(t, out, "Job:        provcheck-1a2b3c4d")
	assert.Contains(t, out, "Build:      #1 SUCCESS on (built-in)")
	assert.Contains(t, out, "Teardown:   3 attempts in 10.00s")
	assert.Contains(t, out, "Assertions (1/2 passed)")
	assert.Contains(t, out, "[1] Scenario: provision-ssh-agent - Assertion: built_on_agent")
	assert.Contains(t, out, "This test requires a restartable Jenkins")
	assert.Contains(t, out, "provision-jnlp-agent ["+colorRed+"ACTION"+colorReset+"]")
	assert.Contains(t, out, colorRed)
}

func TestGenerateReport_Text_AllPass(t *testing.T) {
	report := NewReport("run-1", "", []*orchestration.TestResult{passedConnection()})

	out, err := NewReporter(t.TempDir()).GenerateReport(report, FormatText)
	require.NoError(t, err)

	assert.NotContains(t, out, "FAILURES")
	assert.NotContains(t, out, "ERRORS")
	assert.Contains(t, out, "Connection: OK Connection succeeded!")
	assert.Contains(t, out, "Passed:  1 (100.0%)")
}

func TestGenerateReport_UnsupportedFormat(t *testing.T) {
	_, err := NewReporter(t.TempDir()).GenerateReport(&Report{}, ReportFormat("xml"))
	assert.Error(t, err)

	_, err = ParseFormat("xml")
	assert.Error(t, err)

	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir)
	report := NewReport("run-1", "", []*orchestration.TestResult{passedConnection()})

	for format, file := range map[ReportFormat]string{FormatJSON: "report.json", FormatText: "report.txt"} {
		path, err := r.WriteReport(report, format)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "run-1", file), path)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEmpty(t, content)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter("/artifacts")
	r.out = &buf

	report := NewReport("run-1", "", []*orchestration.TestResult{failedBuild(), erroredBuild()})
	require.NoError(t, r.PrintSummary(report))

	out := buf.String()
	assert.Contains(t, out, "TEST SUMMARY")
	assert.Contains(t, out, "Quick Failure Summary")
	assert.Contains(t, out, "1. provision-ssh-agent: built_on_agent build #1 ran on (built-in)")
	assert.Contains(t, out, "provision-jnlp-agent: action failed")
	assert.Contains(t, out, "Full report: /artifacts/run-1/report.txt")
}

func TestFormatStatus(t *testing.T) {
	assert.Contains(t, formatStatus("passed"), "PASSED")
	assert.Contains(t, formatStatus("FAILED"), "FAILED")
	assert.Contains(t, formatStatus("error"), "ERROR")
	assert.Contains(t, formatStatus("skipped"), "SKIPPED")
	assert.Equal(t, "running", formatStatus("running"))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", wrapText("short", 4))

	long := strings.Repeat("word ", 30)
	wrapped := wrapText(long, 4)
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(strings.TrimLeft(line, " ")), 64)
	}
	assert.Contains(t, wrapped, "\n    word")
}

func TestFormatFailureGuidance(t *testing.T) {
	for _, typ := range []string{
		scenario.AssertConnectionOK,
		scenario.AssertBuildSucceeded,
		scenario.AssertBuiltOnAgent,
		scenario.AssertBuiltOnController,
		scenario.AssertNodeTemporarilyOffline,
		scenario.AssertSameNodeAfterRestart,
		scenario.AssertNodeTerminated,
		"unknown",
	} {
		t.Run(typ, func(t *testing.T) {
			g := formatFailureGuidance(typ)
			assert.Contains(t, g, "Possible Causes:")
			assert.Contains(t, g, "Next Steps:")
		})
	}
}
