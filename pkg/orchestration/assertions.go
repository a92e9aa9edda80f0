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

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/driver"
	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
	"github.com/alexandremahdhaoui/provcheck/pkg/scenario"
)

// ConnectionSucceededPrefix starts the message of a successful connection test.
const ConnectionSucceededPrefix = "Connection succeeded!"

const (
	defaultNodeTerminationTimeout = 1000 * time.Second
	defaultOfflineTimeout         = time.Minute
)

// ErrNoBuild is returned by assertions that need a build when none ran.
var ErrNoBuild = errors.New("no build was run")

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Type        string
	Description string
	Expected    string
	Actual      string
	Passed      bool
	Message     string
	Duration    time.Duration
}

// RunState is what the action phase observed, handed to every assertion.
type RunState struct {
	Scenario *scenario.TestScenario
	JobName  string
	// Connection is set by the test_connection action.
	Connection *driver.FormValidation
	// Builds holds one build, or two when the controller was restarted in between.
	Builds []jenkins.Build
}

// LastBuild returns the most recent build.
func (s *RunState) LastBuild() (jenkins.Build, error) {
	if len(s.Builds) == 0 {
		return jenkins.Build{}, ErrNoBuild
	}
	return s.Builds[len(s.Builds)-1], nil
}

// AssertionValidator checks one assertion type.
// A returned error means the check could not be carried out.
type AssertionValidator interface {
	Validate(ctx context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error)
}

// AssertionFunc adapts a function to AssertionValidator.
type AssertionFunc func(ctx context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error)

// Validate implements AssertionValidator.
func (f AssertionFunc) Validate(ctx context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	return f(ctx, assertion, state)
}

func newResult(assertion scenario.AssertionSpec, expected string) *AssertionResult {
	return &AssertionResult{
		Type:        assertion.Type,
		Description: assertion.Description,
		Expected:    expected,
	}
}

// ValidatorOptions tunes the validators that poll the controller.
type ValidatorOptions struct {
	PollInterval           time.Duration
	OfflineTimeout         time.Duration
	NodeTerminationTimeout time.Duration
	Logger                 logr.Logger
	Metrics                *converge.Metrics
}

// NewValidators returns the validator of every assertion type.
func NewValidators(d driver.Driver, opts ValidatorOptions) map[string]AssertionValidator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = driver.DefaultPollInterval
	}
	if opts.OfflineTimeout <= 0 {
		opts.OfflineTimeout = defaultOfflineTimeout
	}
	if opts.NodeTerminationTimeout <= 0 {
		opts.NodeTerminationTimeout = defaultNodeTerminationTimeout
	}

	return map[string]AssertionValidator{
		scenario.AssertConnectionOK:           AssertionFunc(validateConnectionOK),
		scenario.AssertBuildSucceeded:         AssertionFunc(validateBuildSucceeded),
		scenario.AssertBuiltOnController:      &builtOnValidator{driver: d, onController: true},
		scenario.AssertBuiltOnAgent:           &builtOnValidator{driver: d},
		scenario.AssertNodeTemporarilyOffline: &nodeOfflineValidator{driver: d, opts: opts},
		scenario.AssertSameNodeAfterRestart:   AssertionFunc(validateSameNodeAfterRestart),
		scenario.AssertNodeTerminated:         &nodeTerminatedValidator{driver: d, opts: opts},
	}
}

func validateConnectionOK(_ context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	result := newResult(assertion, fmt.Sprintf("%s: %s...", driver.KindOK, ConnectionSucceededPrefix))
	if state.Connection == nil {
		return nil, errors.New("connection was not tested")
	}

	fv := *state.Connection
	result.Actual = fmt.Sprintf("%s: %s", fv.Kind, fv.Message)
	result.Passed = fv.Kind == driver.KindOK && strings.HasPrefix(fv.Message, ConnectionSucceededPrefix)
	if !result.Passed {
		result.Message = "test connection did not succeed"
	}
	return result, nil
}

func validateBuildSucceeded(_ context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	result := newResult(assertion, "SUCCESS")
	if len(state.Builds) == 0 {
		return nil, ErrNoBuild
	}

	results := make([]string, 0, len(state.Builds))
	result.Passed = true
	for _, b := range state.Builds {
		results = append(results, fmt.Sprintf("#%d %s", b.Number, b.Result))
		if b.Result != "SUCCESS" {
			result.Passed = false
		}
	}
	result.Actual = strings.Join(results, ", ")
	if !result.Passed {
		result.Message = fmt.Sprintf("job %s did not succeed", state.JobName)
	}
	return result, nil
}

type builtOnValidator struct {
	driver       driver.Driver
	onController bool
}

func (v *builtOnValidator) Validate(ctx context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	start := time.Now()
	expected := "an agent"
	if v.onController {
		expected = jenkins.ControllerNodeName
	}
	if assertion.Configuration != "" {
		expected = fmt.Sprintf("%s for configuration %s", expected, assertion.Configuration)
	}
	result := newResult(assertion, expected)

	b, err := state.LastBuild()
	if err != nil {
		return nil, err
	}
	if assertion.Configuration != "" {
		b, err = v.driver.Configuration(ctx, state.JobName, assertion.Configuration, b.Number)
		if err != nil {
			return nil, fmt.Errorf("fetching configuration %s: %w", assertion.Configuration, err)
		}
	}

	result.Actual = nodeName(b.BuiltOn)
	result.Passed = (b.BuiltOn == "") == v.onController
	if !result.Passed {
		result.Message = fmt.Sprintf("build #%d ran on %s", b.Number, result.Actual)
	}
	result.Duration = time.Since(start)
	return result, nil
}

type nodeOfflineValidator struct {
	driver driver.Driver
	opts   ValidatorOptions
}

// Validate waits for the node of the last build to be temporarily offline.
func (v *nodeOfflineValidator) Validate(ctx context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	result := newResult(assertion, "temporarily offline")

	b, err := state.LastBuild()
	if err != nil {
		return nil, err
	}
	if b.BuiltOn == "" {
		result.Actual = jenkins.ControllerNodeName
		result.Message = "the build did not run on an agent"
		return result, nil
	}

	query := func(ctx context.Context) (string, error) {
		offline, err := v.driver.NodeTemporarilyOffline(ctx, b.BuiltOn)
		return strconv.FormatBool(offline), err
	}

	res, err := converge.Await(ctx, query, "true", converge.Options{
		Name:     "node offline",
		Interval: v.opts.PollInterval,
		Timeout:  v.opts.OfflineTimeout,
		Logger:   v.opts.Logger,
		Metrics:  v.opts.Metrics,
	})
	result.Duration = res.Elapsed
	return settle(result, err, "online")
}

func validateSameNodeAfterRestart(_ context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	if len(state.Builds) < 2 {
		return nil, fmt.Errorf("need a build before and after the restart, got %d", len(state.Builds))
	}

	before, after := state.Builds[0], state.Builds[len(state.Builds)-1]
	result := newResult(assertion, nodeName(before.BuiltOn))
	result.Actual = nodeName(after.BuiltOn)
	result.Passed = before.BuiltOn != "" && before.BuiltOn == after.BuiltOn
	if !result.Passed {
		result.Message = fmt.Sprintf("build #%d ran on %s, build #%d on %s",
			before.Number, nodeName(before.BuiltOn), after.Number, nodeName(after.BuiltOn))
	}
	return result, nil
}

type nodeTerminatedValidator struct {
	driver driver.Driver
	opts   ValidatorOptions
}

// Validate schedules the termination of the node of the last build and waits for it to disappear.
func (v *nodeTerminatedValidator) Validate(ctx context.Context, assertion scenario.AssertionSpec, state *RunState) (*AssertionResult, error) {
	result := newResult(assertion, "node removed")

	b, err := state.LastBuild()
	if err != nil {
		return nil, err
	}
	if b.BuiltOn == "" {
		result.Actual = jenkins.ControllerNodeName
		result.Message = "the build did not run on an agent"
		return result, nil
	}

	if err := v.driver.ScheduleTermination(ctx, b.BuiltOn); err != nil {
		return nil, err
	}

	query := func(ctx context.Context) (string, error) {
		exists, err := v.driver.NodeExists(ctx, b.BuiltOn)
		return strconv.FormatBool(exists), err
	}

	timeout := state.Scenario.Timeouts.NodeTermination.OrDefault(v.opts.NodeTerminationTimeout)
	res, err := converge.Await(ctx, query, "false", converge.Options{
		Name:     "node terminated",
		Interval: v.opts.PollInterval,
		Timeout:  timeout,
		Logger:   v.opts.Logger,
		Metrics:  v.opts.Metrics,
	})
	result.Duration = res.Elapsed
	return settle(result, err, "still present")
}

// settle turns the outcome of a wait into an assertion result. Not converging
// fails the assertion; any other error is returned.
func settle(result *AssertionResult, err error, pending string) (*AssertionResult, error) {
	var nc *converge.NotConvergedError
	switch {
	case errors.As(err, &nc):
		result.Actual = pending
		result.Message = err.Error()
		return result, nil
	case err != nil:
		return nil, err
	}

	result.Actual = result.Expected
	result.Passed = true
	return result, nil
}

func nodeName(builtOn string) string {
	if builtOn == "" {
		return jenkins.ControllerNodeName
	}
	return builtOn
}
