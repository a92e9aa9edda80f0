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

package scenario

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a validation error with detailed context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validActions         = []string{ActionTestConnection, ActionBuild}
	validConnectionTypes = []string{"SSH", "JNLP"}
	validCredentialTypes = []string{"ssh_private_key", "username_password"}
	validJobKinds        = []string{"freestyle", "matrix"}
	validBuildWrappers   = []string{"per_build_instance", "one_off_agent"}
	validAssertionTypes  = []string{
		AssertConnectionOK,
		AssertBuildSucceeded,
		AssertBuiltOnController,
		AssertBuiltOnAgent,
		AssertNodeTemporarilyOffline,
		AssertSameNodeAfterRestart,
		AssertNodeTerminated,
	}
)

func invalid(field, what, v string, valid []string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid %s '%s', must be one of: %s", what, v, strings.Join(valid, ", ")),
	}
}

// Validate validates a TestScenario and returns detailed validation errors.
func Validate(scenario *TestScenario) error {
	var errs ValidationErrors

	if scenario.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}
	if scenario.Description == "" {
		errs = append(errs, ValidationError{Field: "description", Message: "description is required"})
	}

	action := scenario.ActionOrDefault()
	if !slices.Contains(validActions, action) {
		errs = append(errs, invalid("action", "action", action, validActions))
	}

	if scenario.Credential != nil {
		errs = append(errs, validateCredential(*scenario.Credential)...)
	}

	if action == ActionBuild {
		if scenario.CloudInit == "" {
			errs = append(errs, ValidationError{Field: "cloudInit", Message: "cloudInit is required to provision agents"})
		}
		if scenario.ConnectionType == "" {
			errs = append(errs, ValidationError{Field: "connectionType", Message: "connectionType is required to provision agents"})
		} else if !slices.Contains(validConnectionTypes, strings.ToUpper(scenario.ConnectionType)) {
			errs = append(errs, invalid("connectionType", "connection type", scenario.ConnectionType, validConnectionTypes))
		}
		if strings.EqualFold(scenario.ConnectionType, "SSH") && scenario.Credential == nil {
			errs = append(errs, ValidationError{Field: "credential", Message: "SSH agents need a credential"})
		}

		if scenario.Job == nil {
			errs = append(errs, ValidationError{Field: "job", Message: "job is required for the build action"})
		} else {
			errs = append(errs, validateJob(*scenario.Job)...)
		}
	} else {
		if scenario.Job != nil {
			errs = append(errs, ValidationError{Field: "job", Message: fmt.Sprintf("job is not allowed for the %s action", action)})
		}
		if scenario.Restart {
			errs = append(errs, ValidationError{Field: "restart", Message: "restart needs the build action"})
		}
	}

	if scenario.ControllerExecutors != nil && *scenario.ControllerExecutors < 0 {
		errs = append(errs, ValidationError{Field: "controllerExecutors", Message: "controllerExecutors must be >= 0"})
	}

	if scenario.Restart && !scenario.Restartable {
		errs = append(errs, ValidationError{Field: "restartable", Message: "scenarios that restart the controller must require a restartable controller"})
	}

	for i, key := range scenario.Requires {
		if key == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("requires[%d]", i), Message: "key must not be empty"})
		}
	}

	if len(scenario.Assertions) == 0 {
		errs = append(errs, ValidationError{Field: "assertions", Message: "at least one assertion is required"})
	}
	for i, assertion := range scenario.Assertions {
		errs = append(errs, validateAssertion(assertion, i, scenario)...)
	}

	errs = append(errs, validateTimeouts(scenario.Timeouts)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCredential(c CredentialSpec) ValidationErrors {
	var errs ValidationErrors

	if !slices.Contains(validCredentialTypes, c.Type) {
		errs = append(errs, invalid("credential.type", "credential type", c.Type, validCredentialTypes))
	}
	if c.Username == "" {
		errs = append(errs, ValidationError{Field: "credential.username", Message: "username is required"})
	}
	if c.Type == "username_password" && c.Password == "" {
		errs = append(errs, ValidationError{Field: "credential.password", Message: "password is required for username_password credentials"})
	}
	if c.Type == "ssh_private_key" && c.Password != "" {
		errs = append(errs, ValidationError{Field: "credential.password", Message: "password is not used by ssh_private_key credentials"})
	}

	return errs
}

func validateJob(job JobSpec) ValidationErrors {
	var errs ValidationErrors

	if job.Kind != "" && !slices.Contains(validJobKinds, job.Kind) {
		errs = append(errs, invalid("job.kind", "job kind", job.Kind, validJobKinds))
	}

	for i, w := range job.BuildWrappers {
		if !slices.Contains(validBuildWrappers, w) {
			errs = append(errs, invalid(fmt.Sprintf("job.buildWrappers[%d]", i), "build wrapper", w, validBuildWrappers))
		}
	}

	for i, step := range job.ShellSteps {
		if strings.TrimSpace(step) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("job.shellSteps[%d]", i), Message: "shell step must not be empty"})
		}
	}

	return errs
}

// validateAssertion validates a single assertion specification.
func validateAssertion(assertion AssertionSpec, index int, scenario *TestScenario) ValidationErrors {
	var errs ValidationErrors
	prefix := fmt.Sprintf("assertions[%d]", index)

	if assertion.Type == "" {
		return append(errs, ValidationError{Field: prefix + ".type", Message: "assertion type is required"})
	}
	if !slices.Contains(validAssertionTypes, assertion.Type) {
		return append(errs, invalid(prefix+".type", "assertion type", assertion.Type, validAssertionTypes))
	}

	action := scenario.ActionOrDefault()
	switch {
	case assertion.Type == AssertConnectionOK && action != ActionTestConnection:
		errs = append(errs, ValidationError{Field: prefix + ".type", Message: "connection_ok needs the test_connection action"})
	case assertion.Type != AssertConnectionOK && action == ActionTestConnection:
		errs = append(errs, ValidationError{Field: prefix + ".type", Message: fmt.Sprintf("%s needs the build action", assertion.Type)})
	case assertion.Type == AssertSameNodeAfterRestart && !scenario.Restart:
		errs = append(errs, ValidationError{Field: prefix + ".type", Message: "same_node_after_restart needs restart: true"})
	}

	if assertion.Configuration != "" {
		if assertion.Type != AssertBuiltOnAgent && assertion.Type != AssertBuiltOnController {
			errs = append(errs, ValidationError{
				Field:   prefix + ".configuration",
				Message: fmt.Sprintf("configuration is not supported by %s", assertion.Type),
			})
		}
		if scenario.Job != nil && scenario.Job.Kind != "matrix" {
			errs = append(errs, ValidationError{Field: prefix + ".configuration", Message: "configuration needs a matrix job"})
		}
	}

	return errs
}

// validateTimeouts validates timeout specifications.
func validateTimeouts(timeouts TimeoutSpec) ValidationErrors {
	var errs ValidationErrors

	validateTimeout := func(field string, duration DurationString) {
		if duration == "" {
			return
		}
		d, err := duration.Duration()
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "timeouts." + field,
				Message: fmt.Sprintf("invalid duration format: %v", err),
			})
			return
		}
		if d <= 0 {
			errs = append(errs, ValidationError{Field: "timeouts." + field, Message: "duration must be > 0"})
		}
	}

	validateTimeout("provisioning", timeouts.Provisioning)
	validateTimeout("restart", timeouts.Restart)
	validateTimeout("nodeTermination", timeouts.NodeTermination)
	validateTimeout("poll", timeouts.Poll)

	return errs
}
