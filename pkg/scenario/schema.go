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

import "time"

// Actions a scenario can perform once the cloud is configured.
const (
	// ActionTestConnection only checks the controller can reach the cloud.
	ActionTestConnection = "test_connection"
	// ActionBuild provisions an agent by building a job on it.
	ActionBuild = "build"
)

// Assertion types.
const (
	AssertConnectionOK           = "connection_ok"
	AssertBuildSucceeded         = "build_succeeded"
	AssertBuiltOnController      = "built_on_controller"
	AssertBuiltOnAgent           = "built_on_agent"
	AssertNodeTemporarilyOffline = "node_temporarily_offline"
	AssertSameNodeAfterRestart   = "same_node_after_restart"
	AssertNodeTerminated         = "node_terminated"
)

// TestScenario is a provisioning scenario loaded from YAML.
type TestScenario struct {
	// Name identifies the scenario, e.g. on the command line.
	Name string `yaml:"name"`

	// Description provides detailed information about what this scenario validates
	Description string `yaml:"description"`

	// Tags are labels for categorizing and filtering scenarios
	Tags []string `yaml:"tags,omitempty"`

	// Requires lists configuration keys that must be set for the scenario to run.
	Requires []string `yaml:"requires,omitempty"`

	// Plugins lists plugins that must be installed on the controller.
	Plugins []string `yaml:"plugins,omitempty"`

	// Restartable requires a controller that can be restarted.
	Restartable bool `yaml:"restartable,omitempty"`

	// Action is test_connection or build. Defaults to build.
	Action string `yaml:"action,omitempty"`

	// Credential is registered before the cloud is configured.
	Credential *CredentialSpec `yaml:"credential,omitempty"`

	// CloudInit names the user data payload stored on the controller.
	CloudInit string `yaml:"cloudInit,omitempty"`

	// ConnectionType is SSH or JNLP.
	ConnectionType string `yaml:"connectionType,omitempty"`

	// Labels of the agent template.
	Labels string `yaml:"labels,omitempty"`

	// ControllerExecutors overrides the number of executors of the controller.
	ControllerExecutors *int `yaml:"controllerExecutors,omitempty"`

	// Job is built when the action is build.
	Job *JobSpec `yaml:"job,omitempty"`

	// Restart restarts the controller after the first build and builds again.
	Restart bool `yaml:"restart,omitempty"`

	// Assertions contains the checks run once the action is done.
	Assertions []AssertionSpec `yaml:"assertions"`

	// Timeouts contains timeout configurations for various operations
	Timeouts TimeoutSpec `yaml:"timeouts,omitempty"`
}

// CredentialSpec describes the machine credential used by SSH agents.
type CredentialSpec struct {
	// Type is ssh_private_key or username_password.
	Type     string `yaml:"type"`
	Username string `yaml:"username"`
	// Password is required for username_password credentials. SSH keys are
	// generated for every run.
	Password string `yaml:"password,omitempty"`
}

// JobSpec describes the job built by the scenario.
type JobSpec struct {
	// Kind is freestyle or matrix. Defaults to freestyle.
	Kind string `yaml:"kind,omitempty"`

	LabelExpression string   `yaml:"labelExpression,omitempty"`
	ShellSteps      []string `yaml:"shellSteps,omitempty"`

	// BuildWrappers are per_build_instance or one_off_agent.
	BuildWrappers []string `yaml:"buildWrappers,omitempty"`
}

// AssertionSpec defines a check run after the action.
type AssertionSpec struct {
	// Type is the assertion type (connection_ok, build_succeeded, etc.)
	Type string `yaml:"type"`

	// Configuration selects a matrix run, for built_on_agent and built_on_controller.
	Configuration string `yaml:"configuration,omitempty"`

	// Description is a human-readable assertion description
	Description string `yaml:"description,omitempty"`
}

// TimeoutSpec defines timeout configurations.
type TimeoutSpec struct {
	// Provisioning is the max wait for a build, including agent provisioning.
	Provisioning DurationString `yaml:"provisioning,omitempty"`

	// Restart is the max wait for the controller to come back.
	Restart DurationString `yaml:"restart,omitempty"`

	// NodeTermination is the max wait for a node to disappear.
	NodeTermination DurationString `yaml:"nodeTermination,omitempty"`

	// Poll is the poll interval of every wait.
	Poll DurationString `yaml:"poll,omitempty"`
}

// DurationString is a wrapper for time.Duration that supports YAML unmarshaling.
type DurationString string

// Duration parses the DurationString into a time.Duration.
func (d DurationString) Duration() (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	return time.ParseDuration(string(d))
}

// OrDefault returns the parsed duration, or def when unset.
func (d DurationString) OrDefault(def time.Duration) time.Duration {
	v, err := d.Duration()
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ActionOrDefault returns the action, defaulting to build.
func (s *TestScenario) ActionOrDefault() string {
	if s.Action == "" {
		return ActionBuild
	}
	return s.Action
}

// HasAssertion reports whether the scenario declares an assertion of type t.
func (s *TestScenario) HasAssertion(t string) bool {
	for _, a := range s.Assertions {
		if a.Type == t {
			return true
		}
	}
	return false
}
