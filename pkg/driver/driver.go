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

// Package driver performs the provisioning actions of a scenario against the
// controller under test.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/credentials"
	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
	"github.com/alexandremahdhaoui/provcheck/pkg/remote"
)

const (
	// DefaultPollInterval is used by the waits of the driver.
	DefaultPollInterval = 5 * time.Second
	// DefaultRestartTimeout bounds Restart.
	DefaultRestartTimeout = 5 * time.Minute
)

var (
	// ErrBuildCancelled is returned when a queued build is cancelled before it starts.
	ErrBuildCancelled = errors.New("build was cancelled")
	// ErrUnexpectedOutput is returned when a script answers something unexpected.
	ErrUnexpectedOutput = errors.New("unexpected script output")
)

// Kind is the severity of a form validation.
type Kind string

const (
	KindOK      Kind = "OK"
	KindWarning Kind = "WARNING"
	KindError   Kind = "ERROR"
)

// FormValidation is the answer of a configuration check on the controller.
type FormValidation struct {
	Kind    Kind
	Message string
}

// Driver abstracts the controller under test. Every method blocks until the
// controller acknowledged the action.
type Driver interface {
	AddCredential(ctx context.Context, c credentials.Credential) error
	ConfigureUserData(ctx context.Context, name, content string) error
	ConfigureCloud(ctx context.Context, p config.Provisioning) error
	TestConnection(ctx context.Context, p config.Provisioning) (FormValidation, error)
	SetControllerExecutors(ctx context.Context, n int) error

	CreateJob(ctx context.Context, name string, spec jenkins.JobSpec) error
	// ScheduleBuild returns the queue id of the build request.
	ScheduleBuild(ctx context.Context, job string) (int64, error)
	// WaitUntilFinished waits for a queued build to start and complete.
	WaitUntilFinished(ctx context.Context, job string, queueID int64, timeout time.Duration) (jenkins.Build, error)
	// Configuration returns a run of a matrix build.
	Configuration(ctx context.Context, job, configuration string, number int64) (jenkins.Build, error)

	NodeTemporarilyOffline(ctx context.Context, node string) (bool, error)
	NodeExists(ctx context.Context, node string) (bool, error)
	ScheduleTermination(ctx context.Context, node string) error

	CanRestart(ctx context.Context) (bool, error)
	Restart(ctx context.Context, timeout time.Duration) error
	InstalledPlugins(ctx context.Context) ([]string, error)

	TerminateAllNodes(ctx context.Context) error
	DestroyRunningAndCount(ctx context.Context) (string, error)
}

// API is the REST surface of the controller used by the driver.
type API interface {
	CreateJob(ctx context.Context, name string, configXML []byte) error
	ScheduleBuild(ctx context.Context, job string) (int64, error)
	GetQueueItem(ctx context.Context, id int64) (jenkins.QueueItem, error)
	GetBuild(ctx context.Context, job, configuration string, number int64) (jenkins.Build, error)
	GetComputer(ctx context.Context, name string) (jenkins.Computer, error)
	ComputerAction(ctx context.Context, name, action string) error
	Plugins(ctx context.Context) ([]string, error)
	Session(ctx context.Context) (string, error)
	SafeRestart(ctx context.Context) error
}

var _ API = &jenkins.Client{}

// Options configures a Jenkins driver.
type Options struct {
	Logger logr.Logger
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	Metrics      *converge.Metrics
}

// Jenkins drives a controller through its script console and REST API.
type Jenkins struct {
	exec     remote.Executor
	api      API
	log      logr.Logger
	interval time.Duration
	metrics  *converge.Metrics
}

var _ Driver = &Jenkins{}

// New returns a driver. exec runs Groovy on the controller, api reaches its REST endpoints.
func New(exec remote.Executor, api API, opts Options) *Jenkins {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Jenkins{
		exec:     remote.Logged(exec, opts.Logger),
		api:      api,
		log:      opts.Logger,
		interval: interval,
		metrics:  opts.Metrics,
	}
}

func (d *Jenkins) run(ctx context.Context, what, script string) (string, error) {
	out, err := d.exec.Execute(ctx, script)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func (d *Jenkins) expect(ctx context.Context, what, script, want string) error {
	out, err := d.run(ctx, what, script)
	if err != nil {
		return err
	}
	if out != want {
		return fmt.Errorf("%s: %w: got %q, want %q", what, ErrUnexpectedOutput, out, want)
	}
	return nil
}

// AddCredential stores c in the global credentials domain, replacing any credential with the same id.
func (d *Jenkins) AddCredential(ctx context.Context, c credentials.Credential) error {
	script, err := addCredentialScript(c)
	if err != nil {
		return fmt.Errorf("adding credential: %w", err)
	}
	d.log.Info("adding credential", "id", c.ID, "type", c.Type)
	return d.expect(ctx, "adding credential "+c.ID, script, c.ID)
}

// ConfigureUserData stores a cloud-init user data file under name.
func (d *Jenkins) ConfigureUserData(ctx context.Context, name, content string) error {
	d.log.Info("configuring user data", "name", name)
	return d.expect(ctx, "configuring user data "+name, userDataScript(name, content), name)
}

// ConfigureCloud registers the OpenStack cloud and its template.
func (d *Jenkins) ConfigureCloud(ctx context.Context, p config.Provisioning) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid provisioning configuration: %w", err)
	}
	if err := d.storeCloudCredential(ctx, p); err != nil {
		return err
	}

	d.log.Info("configuring cloud", "cloud", p.CloudName, "template", p.Template.Name,
		"connection", p.Template.ConnectionType, "labels", p.Template.Labels)
	return d.expect(ctx, "configuring cloud "+p.CloudName, cloudScript(p), "1")
}

func (d *Jenkins) storeCloudCredential(ctx context.Context, p config.Provisioning) error {
	id := openstackCredentialID(p.CloudName)
	return d.expect(ctx, "storing cloud credential", openstackCredentialScript(p), id)
}

// TestConnection checks the controller can authenticate against the cloud endpoint.
func (d *Jenkins) TestConnection(ctx context.Context, p config.Provisioning) (FormValidation, error) {
	if err := p.ValidateCloud(); err != nil {
		return FormValidation{}, fmt.Errorf("invalid cloud configuration: %w", err)
	}
	if err := d.storeCloudCredential(ctx, p); err != nil {
		return FormValidation{}, err
	}

	out, err := d.run(ctx, "testing connection", testConnectionScript(p))
	if err != nil {
		return FormValidation{}, err
	}
	return parseFormValidation(out)
}

func parseFormValidation(out string) (FormValidation, error) {
	kind, msg, _ := strings.Cut(out, "\n")
	fv := FormValidation{Kind: Kind(strings.TrimSpace(kind)), Message: strings.TrimSpace(msg)}
	switch fv.Kind {
	case KindOK, KindWarning, KindError:
		return fv, nil
	default:
		return FormValidation{}, fmt.Errorf("parsing form validation: %w: %q", ErrUnexpectedOutput, out)
	}
}

// SetControllerExecutors sets the number of executors of the controller itself.
func (d *Jenkins) SetControllerExecutors(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("executor count must be >= 0, got %d", n)
	}
	return d.expect(ctx, "setting controller executors", controllerExecutorsScript(n), strconv.Itoa(n))
}

// CreateJob creates a job from spec.
func (d *Jenkins) CreateJob(ctx context.Context, name string, spec jenkins.JobSpec) error {
	configXML, err := spec.ConfigXML()
	if err != nil {
		return err
	}
	d.log.Info("creating job", "job", name, "kind", spec.Kind, "label", spec.LabelExpression)
	return d.api.CreateJob(ctx, name, configXML)
}

// ScheduleBuild implements Driver.
func (d *Jenkins) ScheduleBuild(ctx context.Context, job string) (int64, error) {
	id, err := d.api.ScheduleBuild(ctx, job)
	if err != nil {
		return 0, err
	}
	d.log.Info("scheduled build", "job", job, "queueID", id)
	return id, nil
}

const (
	buildQueued   = "queued"
	buildRunning  = "running"
	buildFinished = "finished"
)

// WaitUntilFinished polls the queue item then the build until it completes or timeout elapses.
func (d *Jenkins) WaitUntilFinished(ctx context.Context, job string, queueID int64, timeout time.Duration) (jenkins.Build, error) {
	var last jenkins.Build

	query := func(ctx context.Context) (string, error) {
		if last.Number == 0 {
			qi, err := d.api.GetQueueItem(ctx, queueID)
			if err != nil {
				return "", err
			}
			if qi.Cancelled {
				return "", fmt.Errorf("%w: %s", ErrBuildCancelled, job)
			}
			if qi.Executable == nil {
				d.log.V(1).Info("build is queued", "job", job, "why", qi.Why)
				return buildQueued, nil
			}
			last.Number = qi.Executable.Number
		}

		b, err := d.api.GetBuild(ctx, job, "", last.Number)
		if err != nil {
			return "", err
		}
		last = b
		if b.Building || b.Result == "" {
			return buildRunning, nil
		}
		return buildFinished, nil
	}

	_, err := converge.Await(ctx, query, buildFinished, converge.Options{
		Name:     "build",
		Interval: d.interval,
		Timeout:  timeout,
		Logger:   d.log,
		Metrics:  d.metrics,
	})
	if err != nil {
		return last, err
	}

	d.log.Info("build finished", "job", job, "number", last.Number, "result", last.Result, "builtOn", nodeName(last.BuiltOn))
	return last, nil
}

func nodeName(builtOn string) string {
	if builtOn == "" {
		return jenkins.ControllerNodeName
	}
	return builtOn
}

// Configuration implements Driver.
func (d *Jenkins) Configuration(ctx context.Context, job, configuration string, number int64) (jenkins.Build, error) {
	return d.api.GetBuild(ctx, job, configuration, number)
}

// NodeTemporarilyOffline implements Driver.
func (d *Jenkins) NodeTemporarilyOffline(ctx context.Context, node string) (bool, error) {
	c, err := d.api.GetComputer(ctx, node)
	if err != nil {
		return false, err
	}
	return c.TemporarilyOffline, nil
}

// NodeExists implements Driver.
func (d *Jenkins) NodeExists(ctx context.Context, node string) (bool, error) {
	_, err := d.api.GetComputer(ctx, node)
	switch {
	case errors.Is(err, jenkins.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

// ScheduleTermination asks the cloud to terminate node once it is idle.
func (d *Jenkins) ScheduleTermination(ctx context.Context, node string) error {
	d.log.Info("scheduling termination", "node", node)
	return d.api.ComputerAction(ctx, node, "scheduleTermination")
}

// CanRestart implements Driver.
func (d *Jenkins) CanRestart(ctx context.Context) (bool, error) {
	out, err := d.run(ctx, "checking restart capability", canRestartScript)
	if err != nil {
		return false, err
	}
	ok, err := strconv.ParseBool(out)
	if err != nil {
		return false, fmt.Errorf("checking restart capability: %w: %q", ErrUnexpectedOutput, out)
	}
	return ok, nil
}

// Restart safely restarts the controller and waits until a new session answers.
func (d *Jenkins) Restart(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultRestartTimeout
	}

	before, err := d.api.Session(ctx)
	if err != nil {
		return fmt.Errorf("reading controller session: %w", err)
	}

	d.log.Info("restarting controller")
	if err := d.api.SafeRestart(ctx); err != nil {
		return err
	}

	// The controller is unreachable while restarting: errors mean "not yet".
	query := func(ctx context.Context) (string, error) {
		s, err := d.api.Session(ctx)
		if err != nil {
			d.log.V(1).Info("controller not answering", "err", err.Error())
			return "", nil
		}
		return s, nil
	}
	restarted := func(s string) bool { return s != "" && s != before }

	_, err = converge.Until(ctx, query, restarted, converge.Options{
		Name:     "controller restart",
		Interval: d.interval,
		Timeout:  timeout,
		Logger:   d.log,
		Metrics:  d.metrics,
	})
	return err
}

// InstalledPlugins implements Driver.
func (d *Jenkins) InstalledPlugins(ctx context.Context) ([]string, error) {
	return d.api.Plugins(ctx)
}

// TerminateAllNodes asks every agent node to terminate.
func (d *Jenkins) TerminateAllNodes(ctx context.Context) error {
	_, err := d.run(ctx, "terminating nodes", remote.TerminateAllNodesScript)
	return err
}

// DestroyRunningAndCount destroys the servers still running in the cloud and returns their count.
func (d *Jenkins) DestroyRunningAndCount(ctx context.Context) (string, error) {
	return d.run(ctx, "destroying running nodes", remote.DestroyRunningAndCountScript)
}
