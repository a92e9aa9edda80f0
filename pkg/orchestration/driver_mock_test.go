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

package orchestration

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/credentials"
	"github.com/alexandremahdhaoui/provcheck/pkg/driver"
	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
)

// MockDriver is a mock for driver.Driver
type MockDriver struct {
	mock.Mock
}

var _ driver.Driver = &MockDriver{}

func (m *MockDriver) AddCredential(ctx context.Context, c credentials.Credential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockDriver) ConfigureUserData(ctx context.Context, name, content string) error {
	return m.Called(ctx, name, content).Error(0)
}

func (m *MockDriver) ConfigureCloud(ctx context.Context, p config.Provisioning) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockDriver) TestConnection(ctx context.Context, p config.Provisioning) (driver.FormValidation, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(driver.FormValidation), args.Error(1)
}

func (m *MockDriver) SetControllerExecutors(ctx context.Context, n int) error {
	return m.Called(ctx, n).Error(0)
}

func (m *MockDriver) CreateJob(ctx context.Context, name string, spec jenkins.JobSpec) error {
	return m.Called(ctx, name, spec).Error(0)
}

func (m *MockDriver) ScheduleBuild(ctx context.Context, job string) (int64, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDriver) WaitUntilFinished(ctx context.Context, job string, queueID int64, timeout time.Duration) (jenkins.Build, error) {
	args := m.Called(ctx, job, queueID, timeout)
	return args.Get(0).(jenkins.Build), args.Error(1)
}

func (m *MockDriver) Configuration(ctx context.Context, job, configuration string, number int64) (jenkins.Build, error) {
	args := m.Called(ctx, job, configuration, number)
	return args.Get(0).(jenkins.Build), args.Error(1)
}

func (m *MockDriver) NodeTemporarilyOffline(ctx context.Context, node string) (bool, error) {
	args := m.Called(ctx, node)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) NodeExists(ctx context.Context, node string) (bool, error) {
	args := m.Called(ctx, node)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) ScheduleTermination(ctx context.Context, node string) error {
	return m.Called(ctx, node).Error(0)
}

func (m *MockDriver) CanRestart(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Restart(ctx context.Context, timeout time.Duration) error {
	return m.Called(ctx, timeout).Error(0)
}

func (m *MockDriver) InstalledPlugins(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDriver) TerminateAllNodes(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) DestroyRunningAndCount(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// methods returns the names of the called methods, in order.
func (m *MockDriver) methods() []string {
	names := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		names = append(names, c.Method)
	}
	return names
}
