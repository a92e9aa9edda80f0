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
	"fmt"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/provcheck/pkg/scenario"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// formatText generates a human-readable text report
func formatText(report *Report) (string, error) {
	var sb strings.Builder

	// Header
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	sb.WriteString("PROVISIONING ACCEPTANCE REPORT\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n\n")

	// Summary section
	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 7) + "\n")
	sb.WriteString(fmt.Sprintf("Run ID:     %s\n", report.RunID))
	if report.Controller != "" {
		sb.WriteString(fmt.Sprintf("Controller: %s\n", report.Controller))
	}
	sb.WriteString(fmt.Sprintf("Status:     %s\n", formatStatus(report.Execution.Status)))
	sb.WriteString(fmt.Sprintf("Duration:   %.2fs\n", report.Execution.Duration))
	sb.WriteString(fmt.Sprintf("Started:    %s\n", report.Execution.StartTime.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Completed:  %s\n", report.Execution.EndTime.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Scenarios:  %d total, %d passed, %d failed, %d errored, %d skipped\n\n",
		report.Summary.Total, report.Summary.Passed, report.Summary.Failed,
		report.Summary.Errored, report.Summary.Skipped))

	// Scenario results section
	sb.WriteString("SCENARIO RESULTS\n")
	sb.WriteString(strings.Repeat("-", 16) + "\n")
	for i, s := range report.Scenarios {
		sb.WriteString(fmt.Sprintf("[%d/%d] %s\n", i+1, len(report.Scenarios), s.Name))
		sb.WriteString(fmt.Sprintf("  Status:     %s\n", formatStatus(s.Status)))
		sb.WriteString(fmt.Sprintf("  Duration:   %.2fs\n", s.Duration))
		if len(s.Tags) > 0 {
			sb.WriteString(fmt.Sprintf("  Tags:       %s\n", strings.Join(s.Tags, ", ")))
		}

		if len(s.SkipReasons) > 0 {
			sb.WriteString("  Skipped because:\n")
			for _, reason := range s.SkipReasons {
				sb.WriteString(fmt.Sprintf("    %s- %s%s\n", colorGray, reason, colorReset))
			}
			sb.WriteString("\n")
			continue
		}

		if s.JobName != "" {
			sb.WriteString(fmt.Sprintf("  Job:        %s\n", s.JobName))
		}
		if s.Connection != nil {
			sb.WriteString(fmt.Sprintf("  Connection: %s %s\n", s.Connection.Kind, wrapText(s.Connection.Message, 14)))
		}
		for _, b := range s.Builds {
			sb.WriteString(fmt.Sprintf("  Build:      #%d %s on %s\n", b.Number, b.Result, b.BuiltOn))
		}
		if s.Teardown != nil {
			sb.WriteString(fmt.Sprintf("  Teardown:   %d attempts in %.2fs\n", s.Teardown.Attempts, s.Teardown.Duration))
		}
		sb.WriteString("\n")

		// Assertions
		if len(s.Assertions) > 0 {
			passedCount := 0
			for _, a := range s.Assertions {
				if a.Passed {
					passedCount++
				}
			}
			sb.WriteString(fmt.Sprintf("  Assertions (%d/%d passed):\n", passedCount, len(s.Assertions)))
			for _, assertion := range s.Assertions {
				symbol := "✓"
				statusColor := colorGreen
				if !assertion.Passed {
					symbol = "✗"
					statusColor = colorRed
				}
				sb.WriteString(fmt.Sprintf("    %s%s%s %s: %s (%.2fs)\n",
					statusColor, symbol, colorReset,
					assertion.Type, assertion.Description, assertion.Duration))

				if assertion.Expected != "" || assertion.Actual != "" {
					sb.WriteString(fmt.Sprintf("      Expected: %s\n", assertion.Expected))
					sb.WriteString(fmt.Sprintf("      Actual:   %s\n", assertion.Actual))
				}

				if !assertion.Passed && assertion.Message != "" {
					sb.WriteString(fmt.Sprintf("      Message:  %s\n", wrapText(assertion.Message, 16)))
				}
			}
			sb.WriteString("\n")
		}
	}

	// Assertion summary
	sb.WriteString("ASSERTION SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 17) + "\n")
	failRate := 0.0
	if report.Assertions.Total > 0 {
		failRate = 1 - report.Assertions.PassRate
	}
	sb.WriteString(fmt.Sprintf("Total:   %d\n", report.Assertions.Total))
	sb.WriteString(fmt.Sprintf("Passed:  %d (%.1f%%)\n", report.Assertions.Passed, report.Assertions.PassRate*100))
	sb.WriteString(fmt.Sprintf("Failed:  %d (%.1f%%)\n\n", report.Assertions.Failed, failRate*100))

	// Failures section (if any)
	if report.Assertions.Failed > 0 {
		sb.WriteString("FAILURES\n")
		sb.WriteString(strings.Repeat("-", 8) + "\n")
		failureNum := 1
		for _, s := range report.Scenarios {
			for _, assertion := range s.Assertions {
				if assertion.Passed {
					continue
				}
				sb.WriteString(fmt.Sprintf("[%d] Scenario: %s - Assertion: %s\n", failureNum, s.Name, assertion.Type))
				if assertion.Expected != "" {
					sb.WriteString(fmt.Sprintf("    Expected: %s\n", assertion.Expected))
				}
				if assertion.Actual != "" {
					sb.WriteString(fmt.Sprintf("    Actual:   %s\n", assertion.Actual))
				}
				if assertion.Message != "" {
					sb.WriteString(fmt.Sprintf("    Message:  %s\n", wrapText(assertion.Message, 14)))
				}
				sb.WriteString("\n")
				sb.WriteString(formatFailureGuidance(assertion.Type))
				sb.WriteString("\n")
				failureNum++
			}
		}
	}

	// Errors section (if any)
	errorNum := 1
	for _, s := range report.Scenarios {
		for _, e := range s.Errors {
			if errorNum == 1 {
				sb.WriteString("ERRORS\n")
				sb.WriteString(strings.Repeat("-", 6) + "\n")
			}
			phaseColor := colorRed
			if e.Phase == "teardown" {
				phaseColor = colorYellow
			}
			sb.WriteString(fmt.Sprintf("[%d] %s [%s%s%s]\n",
				errorNum, s.Name, phaseColor, strings.ToUpper(e.Phase), colorReset))
			sb.WriteString(fmt.Sprintf("    Message: %s\n\n", wrapText(e.Message, 13)))
			errorNum++
		}
	}

	// Footer
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	sb.WriteString(fmt.Sprintf("TEST RESULT: %s\n", formatStatus(report.Execution.Status)))
	sb.WriteString(strings.Repeat("=", 80) + "\n")

	return sb.String(), nil
}

// formatStatus formats status with color
func formatStatus(status string) string {
	switch strings.ToLower(status) {
	case "passed":
		return fmt.Sprintf("%s✓ PASSED%s", colorGreen, colorReset)
	case "failed":
		return fmt.Sprintf("%s✗ FAILED%s", colorRed, colorReset)
	case "error":
		return fmt.Sprintf("%s⚠ ERROR%s", colorYellow, colorReset)
	case "skipped":
		return fmt.Sprintf("%s○ SKIPPED%s", colorBlue, colorReset)
	default:
		return status
	}
}

// formatFailureGuidance provides troubleshooting guidance for failed assertions
func formatFailureGuidance(assertionType string) string {
	var guidance strings.Builder

	guidance.WriteString("    Possible Causes:\n")

	switch assertionType {
	case scenario.AssertConnectionOK:
		guidance.WriteString("    - The endpoint is not the keystone v3 URL of the cloud\n")
		guidance.WriteString("    - User, project or their domains are wrong\n")
		guidance.WriteString("    - The controller cannot reach the endpoint\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Check ENDPOINT, USER, PROJECT and CREDENTIAL\n")
		guidance.WriteString("    2. Try the endpoint from the controller host\n")

	case scenario.AssertBuildSucceeded:
		guidance.WriteString("    - A shell step failed on the agent\n")
		guidance.WriteString("    - The agent went away while building\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Read the console log of the build\n")
		guidance.WriteString("    2. Check the agent log of the node it ran on\n")

	case scenario.AssertBuiltOnAgent, scenario.AssertBuiltOnController:
		guidance.WriteString("    - The label expression of the job does not match the template\n")
		guidance.WriteString("    - The controller has executors left for the build\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Compare the job label expression with the template labels\n")
		guidance.WriteString("    2. Check the number of executors of the controller\n")

	case scenario.AssertNodeTemporarilyOffline:
		guidance.WriteString("    - The one-off build wrapper was not applied to the job\n")
		guidance.WriteString("    - The node was already removed\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Check the job configuration for the single use agent wrapper\n")
		guidance.WriteString("    2. Review the node list of the controller\n")

	case scenario.AssertSameNodeAfterRestart:
		guidance.WriteString("    - The agent was not reconnected after the restart\n")
		guidance.WriteString("    - A new server was provisioned for the second build\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Check the controller log for launcher errors after restart\n")
		guidance.WriteString("    2. Verify the SSH credential survived the restart\n")

	case scenario.AssertNodeTerminated:
		guidance.WriteString("    - The cloud is slow to delete the server\n")
		guidance.WriteString("    - The plugin failed to destroy the server\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Look for the server in the OpenStack project\n")
		guidance.WriteString("    2. Check the controller log for termination errors\n")

	default:
		guidance.WriteString("    - Check test logs for detailed error information\n\n")
		guidance.WriteString("    Next Steps:\n")
		guidance.WriteString("    1. Review the controller log\n")
		guidance.WriteString("    2. Re-run the scenario with debug logging\n")
	}

	return guidance.String()
}

// wrapText wraps text at word boundaries with indentation
func wrapText(text string, indent int) string {
	if len(text) <= 64 {
		return text
	}

	var result strings.Builder
	words := strings.Fields(text)
	lineLen := 0
	indentStr := strings.Repeat(" ", indent)

	for i, word := range words {
		if i > 0 && lineLen+len(word)+1 > 64 {
			result.WriteString("\n" + indentStr)
			lineLen = 0
		} else if i > 0 {
			result.WriteString(" ")
			lineLen++
		}
		result.WriteString(word)
		lineLen += len(word)
	}

	return result.String()
}

// formatSummary formats a concise summary for stdout
func formatSummary(report *Report, reportPath string) (string, error) {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	sb.WriteString("TEST SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	sb.WriteString(fmt.Sprintf("Run:      %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", formatStatus(report.Execution.Status)))
	sb.WriteString(fmt.Sprintf("Duration: %.2fs\n", report.Execution.Duration))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Scenarios:  %d total\n", report.Summary.Total))
	sb.WriteString(fmt.Sprintf("  Passed:   %d\n", report.Summary.Passed))
	sb.WriteString(fmt.Sprintf("  Failed:   %d\n", report.Summary.Failed))
	sb.WriteString(fmt.Sprintf("  Errored:  %d\n", report.Summary.Errored))
	sb.WriteString(fmt.Sprintf("  Skipped:  %d\n", report.Summary.Skipped))

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Assertions: %d total, %d passed, %d failed (%.1f%% pass rate)\n",
		report.Assertions.Total,
		report.Assertions.Passed,
		report.Assertions.Failed,
		report.Assertions.PassRate*100))

	if report.Summary.Failed+report.Summary.Errored > 0 {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%sQuick Failure Summary:%s\n", colorRed, colorReset))
		failureNum := 1
		for _, s := range report.Scenarios {
			for _, assertion := range s.Assertions {
				if !assertion.Passed {
					sb.WriteString(fmt.Sprintf("  %d. %s: %s %s\n",
						failureNum, s.Name, assertion.Type, assertion.Message))
					failureNum++
				}
			}
			for _, e := range s.Errors {
				sb.WriteString(fmt.Sprintf("  %d. %s: %s failed\n", failureNum, s.Name, e.Phase))
				failureNum++
			}
		}
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Full report: %s\n", reportPath))
	sb.WriteString(strings.Repeat("=", 60) + "\n")

	return sb.String(), nil
}
