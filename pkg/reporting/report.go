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
	"errors"
	"time"

	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
	"github.com/alexandremahdhaoui/provcheck/pkg/orchestration"
)

// ReportVersion is the version of the report schema.
const ReportVersion = "1.0.0"

// Report contains the results of every scenario of a run
type Report struct {
	Version    string           `json:"version"`
	RunID      string           `json:"runID"`
	Controller string           `json:"controller,omitempty"`
	Execution  ExecutionInfo    `json:"execution"`
	Scenarios  []ScenarioResult `json:"scenarios"`
	Summary    Stats            `json:"summary"`
	Assertions AssertionStats   `json:"assertions"`
}

// ExecutionInfo contains run execution metadata
type ExecutionInfo struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  float64   `json:"duration"` // seconds
	Status    string    `json:"status"`   // passed, failed, error, skipped
	ExitCode  int       `json:"exitCode"`
}

// ScenarioResult contains the outcome of one scenario
type ScenarioResult struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Status      string          `json:"status"`
	Duration    float64         `json:"duration"` // seconds
	SkipReasons []string        `json:"skipReasons,omitempty"`
	JobName     string          `json:"jobName,omitempty"`
	Connection  *ConnectionInfo `json:"connection,omitempty"`
	Builds      []BuildInfo     `json:"builds,omitempty"`
	Assertions  []AssertionInfo `json:"assertions,omitempty"`
	Teardown    *TeardownInfo   `json:"teardown,omitempty"`
	Errors      []ErrorInfo     `json:"errors,omitempty"`
}

// ConnectionInfo is the answer of a connection test
type ConnectionInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BuildInfo describes a finished build
type BuildInfo struct {
	Number  int64  `json:"number"`
	Result  string `json:"result"`
	BuiltOn string `json:"builtOn"`
	URL     string `json:"url,omitempty"`
}

// AssertionInfo contains assertion details
type AssertionInfo struct {
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Expected    string  `json:"expected,omitempty"`
	Actual      string  `json:"actual,omitempty"`
	Passed      bool    `json:"passed"`
	Duration    float64 `json:"duration"` // seconds
	Message     string  `json:"message,omitempty"`
}

// TeardownInfo describes the removal of provisioned nodes
type TeardownInfo struct {
	Attempts int     `json:"attempts"`
	Duration float64 `json:"duration"` // seconds
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Phase   string `json:"phase"` // activation, configure, action, teardown
	Message string `json:"message"`
}

// Stats counts scenarios by status
type Stats struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
}

// AssertionStats contains aggregated assertion statistics
type AssertionStats struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	PassRate float64 `json:"passRate"`
}

// NewReport builds the report of a run from the results of its scenarios.
func NewReport(runID, controller string, results []*orchestration.TestResult) *Report {
	r := &Report{
		Version:    ReportVersion,
		RunID:      runID,
		Controller: controller,
		Scenarios:  make([]ScenarioResult, 0, len(results)),
	}

	for _, res := range results {
		if r.Execution.StartTime.IsZero() || res.StartTime.Before(r.Execution.StartTime) {
			r.Execution.StartTime = res.StartTime
		}
		if res.EndTime.After(r.Execution.EndTime) {
			r.Execution.EndTime = res.EndTime
		}

		sr := newScenarioResult(res)
		r.Scenarios = append(r.Scenarios, sr)

		r.Summary.Total++
		switch sr.Status {
		case orchestration.StatusPassed:
			r.Summary.Passed++
		case orchestration.StatusFailed:
			r.Summary.Failed++
		case orchestration.StatusSkipped:
			r.Summary.Skipped++
		default:
			r.Summary.Errored++
		}

		for _, a := range sr.Assertions {
			r.Assertions.Total++
			if a.Passed {
				r.Assertions.Passed++
			} else {
				r.Assertions.Failed++
			}
		}
	}

	if r.Assertions.Total > 0 {
		r.Assertions.PassRate = float64(r.Assertions.Passed) / float64(r.Assertions.Total)
	}
	r.Execution.Duration = r.Execution.EndTime.Sub(r.Execution.StartTime).Seconds()
	r.Execution.Status = r.Summary.status()
	if r.Execution.Status == orchestration.StatusFailed || r.Execution.Status == orchestration.StatusError {
		r.Execution.ExitCode = 1
	}
	return r
}

// status: error takes precedence over failed, failed over passed. A run where
// every scenario was skipped is skipped.
func (s Stats) status() string {
	switch {
	case s.Errored > 0:
		return orchestration.StatusError
	case s.Failed > 0:
		return orchestration.StatusFailed
	case s.Passed > 0:
		return orchestration.StatusPassed
	default:
		return orchestration.StatusSkipped
	}
}

func newScenarioResult(res *orchestration.TestResult) ScenarioResult {
	sr := ScenarioResult{
		Status:      res.Status,
		Duration:    res.Duration.Seconds(),
		SkipReasons: res.SkipReasons,
		JobName:     res.JobName,
	}
	if s := res.Scenario; s != nil {
		sr.Name = s.Name
		sr.Description = s.Description
		sr.Tags = s.Tags
	}

	if fv := res.Connection; fv != nil {
		sr.Connection = &ConnectionInfo{Kind: string(fv.Kind), Message: fv.Message}
	}
	for _, b := range res.Builds {
		builtOn := b.BuiltOn
		if builtOn == "" {
			builtOn = jenkins.ControllerNodeName
		}
		sr.Builds = append(sr.Builds, BuildInfo{Number: b.Number, Result: b.Result, BuiltOn: builtOn, URL: b.URL})
	}
	for _, a := range res.Assertions {
		sr.Assertions = append(sr.Assertions, AssertionInfo{
			Type:        a.Type,
			Description: a.Description,
			Expected:    a.Expected,
			Actual:      a.Actual,
			Passed:      a.Passed,
			Duration:    a.Duration.Seconds(),
			Message:     a.Message,
		})
	}
	if td := res.Teardown; td != nil {
		sr.Teardown = &TeardownInfo{Attempts: td.Attempts, Duration: td.Elapsed.Seconds()}
	}
	for _, err := range res.Errors {
		sr.Errors = append(sr.Errors, ErrorInfo{Phase: phase(err), Message: err.Error()})
	}
	return sr
}

func phase(err error) string {
	switch {
	case errors.Is(err, orchestration.ErrActivationFailed):
		return "activation"
	case errors.Is(err, orchestration.ErrConfigureFailed):
		return "configure"
	case errors.Is(err, orchestration.ErrActionFailed):
		return "action"
	case errors.Is(err, orchestration.ErrTeardownFailed):
		return "teardown"
	default:
		return "unknown"
	}
}
