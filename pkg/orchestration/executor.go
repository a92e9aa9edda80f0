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

// Package orchestration runs provisioning scenarios against a controller and
// tears provisioned nodes down afterwards.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/ptr"

	"github.com/alexandremahdhaoui/provcheck/pkg/activation"
	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/credentials"
	"github.com/alexandremahdhaoui/provcheck/pkg/driver"
	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
	"github.com/alexandremahdhaoui/provcheck/pkg/resource"
	"github.com/alexandremahdhaoui/provcheck/pkg/scenario"
)

// Scenario statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// teardownGrace bounds the remote calls of the teardown on top of its own wait.
const teardownGrace = time.Minute

var (
	// ErrActivationFailed indicates the requirements of a scenario could not be checked.
	ErrActivationFailed = errors.New("activation check failed")
	// ErrConfigureFailed indicates the controller could not be configured.
	ErrConfigureFailed = errors.New("configuration failed")
	// ErrActionFailed indicates the action of the scenario did not complete.
	ErrActionFailed = errors.New("action failed")
	// ErrTeardownFailed indicates provisioned nodes could not be removed.
	ErrTeardownFailed = errors.New("teardown failed")
)

// GlobalRequirements gate every scenario.
var GlobalRequirements = []string{config.KeyEndpoint, config.KeyCredential}

// RequiredPlugin is the plugin under test.
const RequiredPlugin = "openstack-cloud"

// TestResult represents the complete test execution result
type TestResult struct {
	Scenario  *scenario.TestScenario
	JobName   string
	Status    string // passed, failed, error, skipped
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// SkipReasons lists the unmet requirements of a skipped scenario.
	SkipReasons []string
	Assertions  []AssertionResult
	Connection  *driver.FormValidation
	Builds      []jenkins.Build
	// Teardown is set when provisioned nodes were torn down.
	Teardown *converge.Result
	Errors   []error
}

// Options configures an Executor.
type Options struct {
	Logger          logr.Logger
	Metrics         *Metrics
	ConvergeMetrics *converge.Metrics
	// PollInterval is used by the assertions unless a scenario overrides it.
	PollInterval time.Duration
}

// Executor runs scenarios one after the other against a single controller.
type Executor struct {
	driver   driver.Driver
	cfg      *config.Config
	locator  resource.Locator
	log      logr.Logger
	metrics  *Metrics
	teardown TeardownOptions
	opts     Options
}

// NewExecutor creates a new test executor
func NewExecutor(d driver.Driver, cfg *config.Config, locator resource.Locator, opts Options) *Executor {
	teardown := TeardownOptionsFrom(cfg.Teardown)
	teardown.Logger = opts.Logger
	teardown.Metrics = opts.ConvergeMetrics

	if opts.PollInterval <= 0 {
		opts.PollInterval = driver.DefaultPollInterval
	}

	return &Executor{
		driver:   d,
		cfg:      cfg,
		locator:  locator,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		teardown: teardown,
		opts:     opts,
	}
}

// environment checks requirements against the configuration and the controller.
type environment struct {
	cloud  *config.CloudConfig
	driver driver.Driver
}

func (e environment) Lookup(key string) (string, bool) { return e.cloud.Lookup(key) }

func (e environment) InstalledPlugins(ctx context.Context) ([]string, error) {
	return e.driver.InstalledPlugins(ctx)
}

func (e environment) CanRestart(ctx context.Context) (bool, error) { return e.driver.CanRestart(ctx) }

// Requirements returns every requirement of s, the global ones included.
func Requirements(s *scenario.TestScenario) []activation.Requirement {
	keys := append(append([]string{}, GlobalRequirements...), s.Requires...)
	reqs := []activation.Requirement{
		activation.RequireConfig(keys...),
		activation.RequirePlugins(append([]string{RequiredPlugin}, s.Plugins...)...),
	}
	if s.Restartable {
		reqs = append(reqs, activation.RequireRestartable())
	}
	return reqs
}

// Check returns the unmet requirements of s. It returns no reason when s can run.
func (e *Executor) Check(ctx context.Context, s *scenario.TestScenario) ([]string, error) {
	env := environment{cloud: &e.cfg.Cloud, driver: e.driver}
	err := activation.Evaluate(ctx, env, Requirements(s)...)
	var notActivated *activation.NotActivatedError
	if errors.As(err, &notActivated) {
		return notActivated.Reasons, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	return nil, nil
}

// RunAll executes scenarios in order. It stops early when ctx is done.
// The returned error joins the errors of every scenario.
func (e *Executor) RunAll(ctx context.Context, scenarios []*scenario.TestScenario) ([]*TestResult, error) {
	results := make([]*TestResult, 0, len(scenarios))
	var errs []error
	for _, s := range scenarios {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := e.Execute(ctx, s)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", s.Name, err))
		}
	}
	return results, errors.Join(errs...)
}

// Execute runs a scenario:
// activation -> configuration -> action -> assertions -> teardown.
// A scenario whose requirements are unmet is skipped and returns no error.
func (e *Executor) Execute(ctx context.Context, s *scenario.TestScenario) (*TestResult, error) {
	log := e.log.WithValues("scenario", s.Name)
	result := &TestResult{
		Scenario:  s,
		Status:    "running",
		StartTime: time.Now(),
	}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		e.metrics.observe(s.Name, result.Status, result.Duration)
		log.Info("scenario done", "status", result.Status, "duration", result.Duration.String())
	}()

	// Step 1: Check requirements
	reasons, err := e.Check(ctx, s)
	if err != nil {
		result.Status = StatusError
		result.Errors = append(result.Errors, err)
		return result, errors.Join(result.Errors...)
	}
	if len(reasons) > 0 {
		log.Info("scenario skipped", "reasons", reasons)
		result.Status = StatusSkipped
		result.SkipReasons = reasons
		return result, nil
	}

	state := &RunState{Scenario: s}

	// Step 2: Configure the controller, then run the action
	configured, err := e.run(ctx, log, s, state)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.JobName = state.JobName
	result.Connection = state.Connection
	result.Builds = state.Builds

	// Step 3: Validate assertions
	if err == nil {
		result.Assertions = e.validateAssertions(ctx, s, state)
	}

	// Step 4: Tear provisioned nodes down, even when ctx is cancelled
	if configured {
		res, err := e.tearDown(ctx, log)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%w: %w", ErrTeardownFailed, err))
		} else {
			result.Teardown = &res
		}
	}

	result.Status = determineStatus(result)
	if len(result.Errors) > 0 {
		return result, errors.Join(result.Errors...)
	}
	return result, nil
}

// run configures the controller and performs the action. configured reports
// whether the cloud may have been registered, in which case nodes must be torn down.
func (e *Executor) run(ctx context.Context, log logr.Logger, s *scenario.TestScenario, state *RunState) (configured bool, err error) {
	if s.ActionOrDefault() == scenario.ActionTestConnection {
		log.Info("testing connection")
		fv, err := e.driver.TestConnection(ctx, e.cfg.Cloud.Provisioning())
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrActionFailed, err)
		}
		state.Connection = &fv
		return false, nil
	}

	p, err := e.provisioning(s)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}
	configured, err = e.configure(ctx, log, s, p)
	if err != nil {
		return configured, fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}

	if err := e.build(ctx, log, s, p, state); err != nil {
		return configured, fmt.Errorf("%w: %w", ErrActionFailed, err)
	}
	return configured, nil
}

func (e *Executor) provisioning(s *scenario.TestScenario) (config.Provisioning, error) {
	conn, err := config.ParseConnectionType(s.ConnectionType)
	if err != nil {
		return config.Provisioning{}, err
	}
	p := e.cfg.Cloud.Provisioning().WithTemplate(conn, s.Labels, config.DefaultSSHCredentialID)
	if err := p.Validate(); err != nil {
		return config.Provisioning{}, err
	}
	return p, nil
}

// machineCredential returns the credential of the scenario, generating a key
// pair for ssh_private_key credentials. It returns false when there is none.
func machineCredential(s *scenario.TestScenario) (credentials.Credential, bool, error) {
	if s.Credential == nil {
		return credentials.Credential{}, false, nil
	}

	spec := s.Credential
	switch credentials.Type(spec.Type) {
	case credentials.SSHPrivateKey:
		kp, err := credentials.GenerateKeyPair("provcheck")
		if err != nil {
			return credentials.Credential{}, false, err
		}
		return credentials.NewSSHKey(config.DefaultSSHCredentialID, spec.Username, kp), true, nil
	case credentials.UsernamePassword:
		return credentials.NewPassword(config.DefaultSSHCredentialID, spec.Username, spec.Password), true, nil
	default:
		return credentials.Credential{}, false, fmt.Errorf("%w: %q", credentials.ErrUnknownType, spec.Type)
	}
}

func (e *Executor) configure(ctx context.Context, log logr.Logger, s *scenario.TestScenario, p config.Provisioning) (bool, error) {
	login := resource.Login{User: config.DefaultMachineUsername}

	cred, ok, err := machineCredential(s)
	if err != nil {
		return false, err
	}
	if ok {
		if err := e.driver.AddCredential(ctx, cred); err != nil {
			return false, err
		}
		login = resource.Login{User: cred.Username, AuthorizedKey: cred.AuthorizedKey}
		if cred.Type == credentials.UsernamePassword {
			login.Password = cred.Password
		}
	}

	userData, err := resource.CloudInit(e.locator, s.CloudInit, login)
	if err != nil {
		return false, err
	}
	if err := e.driver.ConfigureUserData(ctx, p.Template.UserDataID, userData); err != nil {
		return false, err
	}

	log.Info("configuring cloud", "connection", p.Template.ConnectionType, "labels", p.Template.Labels)
	if err := e.driver.ConfigureCloud(ctx, p); err != nil {
		return true, err
	}

	if s.ControllerExecutors != nil {
		if err := e.driver.SetControllerExecutors(ctx, ptr.Deref(s.ControllerExecutors, 0)); err != nil {
			return true, err
		}
	}
	return true, nil
}

func jobSpec(s *scenario.TestScenario, p config.Provisioning) jenkins.JobSpec {
	spec := jenkins.JobSpec{
		Kind:            jenkins.JobKind(s.Job.Kind),
		LabelExpression: s.Job.LabelExpression,
		ShellSteps:      s.Job.ShellSteps,
		Cloud:           p.CloudName,
		Template:        p.Template.Name,
		InstanceCount:   1,
	}
	for _, w := range s.Job.BuildWrappers {
		spec.Wrappers = append(spec.Wrappers, jenkins.BuildWrapper(w))
	}
	return spec
}

func (e *Executor) build(ctx context.Context, log logr.Logger, s *scenario.TestScenario, p config.Provisioning, state *RunState) error {
	state.JobName = "provcheck-" + uuid.NewString()[:8]
	if err := e.driver.CreateJob(ctx, state.JobName, jobSpec(s, p)); err != nil {
		return err
	}

	if err := e.buildOnce(ctx, log, s, state); err != nil {
		return err
	}
	if !s.Restart {
		return nil
	}

	log.Info("restarting controller")
	if err := e.driver.Restart(ctx, s.Timeouts.Restart.OrDefault(driver.DefaultRestartTimeout)); err != nil {
		return fmt.Errorf("restarting controller: %w", err)
	}
	return e.buildOnce(ctx, log, s, state)
}

func (e *Executor) buildOnce(ctx context.Context, log logr.Logger, s *scenario.TestScenario, state *RunState) error {
	queueID, err := e.driver.ScheduleBuild(ctx, state.JobName)
	if err != nil {
		return err
	}

	timeout := s.Timeouts.Provisioning.OrDefault(e.cfg.ProvisioningTimeoutOrDefault())
	b, err := e.driver.WaitUntilFinished(ctx, state.JobName, queueID, timeout)
	if err != nil {
		return err
	}

	log.Info("build finished", "job", state.JobName, "number", b.Number, "result", b.Result, "builtOn", nodeName(b.BuiltOn))
	state.Builds = append(state.Builds, b)
	return nil
}

// validateAssertions runs every assertion of s, in order.
func (e *Executor) validateAssertions(ctx context.Context, s *scenario.TestScenario, state *RunState) []AssertionResult {
	validators := NewValidators(e.driver, ValidatorOptions{
		PollInterval: s.Timeouts.Poll.OrDefault(e.opts.PollInterval),
		Logger:       e.log,
		Metrics:      e.opts.ConvergeMetrics,
	})

	results := make([]AssertionResult, 0, len(s.Assertions))
	for _, a := range s.Assertions {
		results = append(results, validateAssertion(ctx, validators, a, state))
	}
	return results
}

// validateAssertion validates a single assertion using the appropriate validator
func validateAssertion(ctx context.Context, validators map[string]AssertionValidator, a scenario.AssertionSpec, state *RunState) AssertionResult {
	startTime := time.Now()

	validator, ok := validators[a.Type]
	if !ok {
		return AssertionResult{
			Type:        a.Type,
			Description: a.Description,
			Message:     fmt.Sprintf("Unknown assertion type: %s", a.Type),
			Duration:    time.Since(startTime),
		}
	}

	result, err := validator.Validate(ctx, a, state)
	if err != nil {
		return AssertionResult{
			Type:        a.Type,
			Description: a.Description,
			Message:     fmt.Sprintf("Validation error: %v", err),
			Duration:    time.Since(startTime),
		}
	}

	if result.Duration == 0 {
		result.Duration = time.Since(startTime)
	}
	return *result
}

func (e *Executor) tearDown(ctx context.Context, log logr.Logger) (converge.Result, error) {
	opts := e.teardown
	opts.Logger = log

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.Settle+opts.Timeout+teardownGrace)
	defer cancel()
	return Teardown(ctx, e.driver, opts)
}

// determineStatus: error takes precedence over failed, failed over passed.
func determineStatus(result *TestResult) string {
	if len(result.Errors) > 0 {
		return StatusError
	}
	for _, a := range result.Assertions {
		if !a.Passed {
			return StatusFailed
		}
	}
	return StatusPassed
}
