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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/alexandremahdhaoui/provcheck/pkg/config"
)

const validConfig = `
jenkins:
  url: http://localhost:8080/
  username: admin
  apiToken: secret
cloud:
  endpoint: https://keystone.example.com:5000/v3
  user: demo
  userDomain: ""
  project: demo
  projectDomain: Default
  credential: hunter2
  hardwareID: m1.small
  networkID: net-1
  imageID: img-1
  keyPairName: ath
teardown:
  interval: 2s
  timeout: 5m
provisioningTimeout: 8m
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "config.yaml", validConfig)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8080/", cfg.Jenkins.URL)
	assert.Equal(t, config.TransportHTTP, cfg.Jenkins.Transport)
	assert.Equal(t, "demo", cfg.Cloud.User)
	assert.Nil(t, cfg.Cloud.UserDomain, "empty user domain is normalized to unset")
	assert.Equal(t, "Default", ptr.Deref(cfg.Cloud.ProjectDomain, ""))
	assert.Nil(t, cfg.Cloud.FloatingIPPool)
	assert.Equal(t, 8*time.Minute, cfg.ProvisioningTimeoutOrDefault())
	assert.Equal(t, 2*time.Second, cfg.Teardown.Interval.OrDefault(config.DefaultTeardownInterval))
	assert.Equal(t, config.DefaultTeardownSettle, cfg.Teardown.Settle.OrDefault(config.DefaultTeardownSettle))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", validConfig)

	t.Setenv("PROVCHECK_HARDWARE_ID", "m1.large")
	t.Setenv("PROVCHECK_FIP_POOL_NAME", "public")
	t.Setenv("PROVCHECK_PROJECT_DOMAIN", "")
	t.Setenv("PROVCHECK_JENKINS_URL", "http://jenkins:8080/")
	t.Setenv("PROVCHECK_TRANSPORT", "SSH")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "m1.large", cfg.Cloud.HardwareID)
	assert.Equal(t, "public", ptr.Deref(cfg.Cloud.FloatingIPPool, ""))
	assert.Nil(t, cfg.Cloud.ProjectDomain)
	assert.Equal(t, "http://jenkins:8080/", cfg.Jenkins.URL)
	assert.Equal(t, config.TransportSSH, cfg.Jenkins.Transport)
	assert.Equal(t, "22", cfg.Jenkins.SSH.Port)
}

func TestLoad_EnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "PROVCHECK_ENDPOINT=https://from-dotenv:5000/v3\nPROVCHECK_JENKINS_URL=http://dotenv:8080/\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("PROVCHECK_ENDPOINT")
		_ = os.Unsetenv("PROVCHECK_JENKINS_URL")
	})

	cfg, err := config.Load("", envPath, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "https://from-dotenv:5000/v3", cfg.Cloud.Endpoint)
	assert.Equal(t, "http://dotenv:8080/", cfg.Jenkins.URL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	path := writeFile(t, "bad.yaml", "jenkins: [")
	_, err = config.Load(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *config.Config)
		wantErr  error
		contains string
	}{
		{
			name:   "valid",
			mutate: func(_ *config.Config) {},
		},
		{
			name:    "deprecated identity fails fast",
			mutate:  func(c *config.Config) { c.Cloud.Identity = "tenant:user"; c.Jenkins.URL = "" },
			wantErr: config.ErrDeprecatedIdentity,
		},
		{
			name:     "missing url",
			mutate:   func(c *config.Config) { c.Jenkins.URL = "" },
			contains: "jenkins.url",
		},
		{
			name:     "relative url",
			mutate:   func(c *config.Config) { c.Jenkins.URL = "localhost" },
			contains: "invalid URL",
		},
		{
			name:     "ssh transport without host",
			mutate:   func(c *config.Config) { c.Jenkins.Transport = config.TransportSSH },
			contains: "jenkins.ssh.host",
		},
		{
			name:     "unknown transport",
			mutate:   func(c *config.Config) { c.Jenkins.Transport = "carrier-pigeon" },
			contains: "invalid transport",
		},
		{
			name:     "bad duration",
			mutate:   func(c *config.Config) { c.Teardown.Timeout = "forever" },
			contains: "teardown.timeout",
		},
		{
			name:     "negative duration",
			mutate:   func(c *config.Config) { c.Teardown.Timeout = "-5s" },
			contains: "duration must be positive",
		},
		{
			name:     "zero duration",
			mutate:   func(c *config.Config) { c.ProvisioningTimeout = "0s" },
			contains: "provisioningTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeFile(t, "config.yaml", validConfig))
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.contains != "":
				assert.ErrorContains(t, err, tt.contains)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_DurationErrorOrder(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "config.yaml", validConfig))
	require.NoError(t, err)
	cfg.ProvisioningTimeout = "-1m"
	cfg.Teardown.Interval = "soon"
	cfg.Teardown.Timeout = "0s"
	cfg.Teardown.Settle = "-1s"

	for range 10 {
		err := cfg.Validate()
		var errs config.ValidationErrors
		require.ErrorAs(t, err, &errs)

		fields := make([]string, 0, len(errs))
		for _, e := range errs {
			fields = append(fields, e.Field)
		}
		assert.Equal(t, []string{"provisioningTimeout", "teardown.interval", "teardown.timeout", "teardown.settle"}, fields)
	}
}

func TestCloudConfig_Lookup(t *testing.T) {
	c := config.CloudConfig{
		Endpoint:   "https://keystone",
		HardwareID: "m1.small",
		UserDomain: ptr.To(""),
	}

	v, ok := c.Lookup("ENDPOINT")
	assert.True(t, ok)
	assert.Equal(t, "https://keystone", v)

	v, ok = c.Lookup("hardware_id")
	assert.True(t, ok)
	assert.Equal(t, "m1.small", v)

	_, ok = c.Lookup("IMAGE_ID")
	assert.False(t, ok)

	_, ok = c.Lookup("USER_DOMAIN")
	assert.False(t, ok, "empty optional is unset")

	_, ok = c.Lookup("UNKNOWN")
	assert.False(t, ok)
}

func TestProvisioning(t *testing.T) {
	c := config.CloudConfig{
		Endpoint:    "https://keystone",
		User:        "demo",
		Project:     "demo",
		Credential:  "hunter2",
		HardwareID:  "m1.small",
		NetworkID:   "net",
		ImageID:     "img",
		KeyPairName: "kp",
	}

	base := c.Provisioning()
	assert.Equal(t, config.DefaultCloudName, base.CloudName)
	assert.Equal(t, config.DefaultInstanceCap, base.InstanceCap)
	assert.Equal(t, config.DefaultTemplateName, base.Template.Name)
	assert.Equal(t, config.DefaultFSRoot, base.Template.FSRoot)
	assert.Equal(t, config.DefaultUserDataName, base.Template.UserDataID)
	assert.NoError(t, base.ValidateCloud())
	assert.Error(t, base.Validate(), "template is incomplete without a connection type")

	ssh := base.WithTemplate(config.ConnectionSSH, "label", config.DefaultSSHCredentialID)
	require.NoError(t, ssh.Validate())
	assert.Equal(t, "label", ssh.Template.Labels)
	assert.Equal(t, config.DefaultSSHCredentialID, ssh.Template.CredentialsID)
	assert.Empty(t, base.Template.Labels, "WithTemplate must not mutate the receiver")

	jnlp := ssh.WithTemplate(config.ConnectionJNLP, "label", config.DefaultSSHCredentialID)
	require.NoError(t, jnlp.Validate())
	assert.Empty(t, jnlp.Template.CredentialsID)

	broken := ssh
	broken.Template.CredentialsID = ""
	broken.Endpoint = ""
	err := broken.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "endpoint")
	assert.ErrorContains(t, err, "template.credentialsID")
}

func TestParseConnectionType(t *testing.T) {
	ct, err := config.ParseConnectionType("ssh")
	require.NoError(t, err)
	assert.Equal(t, config.ConnectionSSH, ct)

	ct, err = config.ParseConnectionType("JNLP")
	require.NoError(t, err)
	assert.Equal(t, config.ConnectionJNLP, ct)

	_, err = config.ParseConnectionType("winrm")
	assert.Error(t, err)
}
