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

// Package config loads the connection settings of the controller under test
// and the OpenStack parameters used to provision agents.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path.
	ConfigPathEnvKey = "PROVCHECK_CONFIG_PATH"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PROVCHECK_"
)

// Transport selects how scripts reach the controller.
type Transport string

const (
	// TransportHTTP posts scripts to the /scriptText endpoint.
	TransportHTTP Transport = "http"
	// TransportSSH pipes scripts to the "groovy =" command of the SSH CLI.
	TransportSSH Transport = "ssh"
)

// Defaults recovered from the acceptance suite of the OpenStack plugin.
const (
	DefaultCloudName           = "OSCloud"
	DefaultTemplateName        = "ath-integration-test"
	DefaultMachineUsername     = "jenkins"
	DefaultSSHCredentialID     = "ssh-cred-id"
	DefaultUserDataName        = "cloudInit"
	DefaultInstanceCap         = 3
	DefaultFSRoot              = "/tmp/jenkins"
	DefaultProvisioningTimeout = 480 * time.Second

	DefaultTeardownInterval = 5 * time.Second
	DefaultTeardownTimeout  = 10 * time.Minute
	DefaultTeardownSettle   = 5 * time.Second
)

// ErrDeprecatedIdentity is returned when the deprecated identity field is set.
var ErrDeprecatedIdentity = errors.New("IDENTITY field is deprecated, Use USER and PROJECT")

// DurationString is a wrapper for time.Duration that supports YAML unmarshaling.
type DurationString string

// Duration parses the DurationString into a time.Duration.
func (d DurationString) Duration() (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	return time.ParseDuration(string(d))
}

// OrDefault parses d and falls back to def when d is empty or invalid.
func (d DurationString) OrDefault(def time.Duration) time.Duration {
	v, err := d.Duration()
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Config is used to configure a provcheck run.
//
// Every field of Cloud may be overridden by an environment variable named
// after its key, e.g. PROVCHECK_ENDPOINT or PROVCHECK_HARDWARE_ID.
type Config struct {
	// Jenkins is the controller under test.
	Jenkins JenkinsConfig `json:"jenkins"`

	// Cloud holds the OpenStack parameters.
	Cloud CloudConfig `json:"cloud"`

	// Teardown bounds the wait for provisioned nodes to disappear.
	Teardown TeardownConfig `json:"teardown"`

	// ProvisioningTimeout bounds a build waiting for a freshly provisioned agent.
	ProvisioningTimeout DurationString `json:"provisioningTimeout,omitempty"`

	// ScenarioDir is the directory holding scenario files.
	ScenarioDir string `json:"scenarioDir,omitempty"`
	// ResourceDir overrides embedded cloud-init payloads.
	ResourceDir string `json:"resourceDir,omitempty"`
}

// JenkinsConfig describes how to reach the controller.
type JenkinsConfig struct {
	// URL is the root URL of the controller, e.g. http://localhost:8080/.
	URL string `json:"url"`
	// Username and APIToken authenticate REST and script console calls.
	Username string `json:"username,omitempty"`
	APIToken string `json:"apiToken,omitempty"`

	// Transport selects the script transport. Defaults to http.
	Transport Transport `json:"transport,omitempty"`

	// SSH configures the SSH CLI transport.
	SSH struct {
		Host           string `json:"host,omitempty"`
		Port           string `json:"port,omitempty"`
		User           string `json:"user,omitempty"`
		PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	} `json:"ssh,omitempty"`
}

// CloudConfig holds the OpenStack endpoint, credentials and template parameters.
type CloudConfig struct {
	Endpoint string `json:"endpoint,omitempty"`

	// Identity is deprecated. Use User and Project.
	Identity string `json:"identity,omitempty"`

	User          string  `json:"user,omitempty"`
	UserDomain    *string `json:"userDomain,omitempty"`
	Project       string  `json:"project,omitempty"`
	ProjectDomain *string `json:"projectDomain,omitempty"`
	Credential    string  `json:"credential,omitempty"`

	HardwareID     string  `json:"hardwareID,omitempty"`
	NetworkID      string  `json:"networkID,omitempty"`
	ImageID        string  `json:"imageID,omitempty"`
	KeyPairName    string  `json:"keyPairName,omitempty"`
	FloatingIPPool *string `json:"floatingIPPool,omitempty"`
}

// TeardownConfig bounds the node termination wait.
type TeardownConfig struct {
	Interval DurationString `json:"interval,omitempty"`
	Timeout  DurationString `json:"timeout,omitempty"`
	Settle   DurationString `json:"settle,omitempty"`
}

// Load reads the YAML file at path (skipped when empty), loads envFiles into
// the environment and applies environment overrides.
//
// Missing env files are ignored. Empty domain values are normalized to unset.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", f, err)
		}
	}

	cfg := &Config{}

	if path == "" {
		path = os.Getenv(ConfigPathEnvKey)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Parse YAML (uses json tags)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()

	return cfg, nil
}

// field binds a configuration key to a CloudConfig field.
type field struct {
	get func(c *CloudConfig) (string, bool)
	set func(c *CloudConfig, v string)
}

func plain(p func(c *CloudConfig) *string) field {
	return field{
		get: func(c *CloudConfig) (string, bool) { v := *p(c); return v, v != "" },
		set: func(c *CloudConfig, v string) { *p(c) = v },
	}
}

func optional(p func(c *CloudConfig) **string) field {
	return field{
		get: func(c *CloudConfig) (string, bool) {
			v := *p(c)
			return ptr.Deref(v, ""), v != nil && *v != ""
		},
		set: func(c *CloudConfig, v string) { *p(c) = ptr.To(v) },
	}
}

// Keys are the names under which cloud parameters are looked up and overridden.
const (
	KeyEndpoint      = "ENDPOINT"
	KeyIdentity      = "IDENTITY"
	KeyUser          = "USER"
	KeyUserDomain    = "USER_DOMAIN"
	KeyProject       = "PROJECT"
	KeyProjectDomain = "PROJECT_DOMAIN"
	KeyCredential    = "CREDENTIAL"
	KeyHardwareID    = "HARDWARE_ID"
	KeyNetworkID     = "NETWORK_ID"
	KeyImageID       = "IMAGE_ID"
	KeyKeyPairName   = "KEY_PAIR_NAME"
	KeyFIPPoolName   = "FIP_POOL_NAME"
)

var fields = map[string]field{
	KeyEndpoint:      plain(func(c *CloudConfig) *string { return &c.Endpoint }),
	KeyIdentity:      plain(func(c *CloudConfig) *string { return &c.Identity }),
	KeyUser:          plain(func(c *CloudConfig) *string { return &c.User }),
	KeyUserDomain:    optional(func(c *CloudConfig) **string { return &c.UserDomain }),
	KeyProject:       plain(func(c *CloudConfig) *string { return &c.Project }),
	KeyProjectDomain: optional(func(c *CloudConfig) **string { return &c.ProjectDomain }),
	KeyCredential:    plain(func(c *CloudConfig) *string { return &c.Credential }),
	KeyHardwareID:    plain(func(c *CloudConfig) *string { return &c.HardwareID }),
	KeyNetworkID:     plain(func(c *CloudConfig) *string { return &c.NetworkID }),
	KeyImageID:       plain(func(c *CloudConfig) *string { return &c.ImageID }),
	KeyKeyPairName:   plain(func(c *CloudConfig) *string { return &c.KeyPairName }),
	KeyFIPPoolName:   optional(func(c *CloudConfig) **string { return &c.FloatingIPPool }),
}

// Lookup returns the value of a cloud parameter by key and whether it is set.
func (c *CloudConfig) Lookup(key string) (string, bool) {
	f, ok := fields[strings.ToUpper(key)]
	if !ok {
		return "", false
	}
	return f.get(c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for key, f := range fields {
		if v, ok := lookup(EnvPrefix + key); ok {
			f.set(&c.Cloud, v)
		}
	}

	overrides := map[string]*string{
		"JENKINS_URL":       &c.Jenkins.URL,
		"JENKINS_USER":      &c.Jenkins.Username,
		"JENKINS_API_TOKEN": &c.Jenkins.APIToken,
		"SCENARIO_DIR":      &c.ScenarioDir,
		"RESOURCE_DIR":      &c.ResourceDir,
	}
	for key, dst := range overrides {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "TRANSPORT"); ok {
		c.Jenkins.Transport = Transport(strings.ToLower(v))
	}
}

func (c *Config) normalize() {
	if ptr.Deref(c.Cloud.UserDomain, "") == "" {
		c.Cloud.UserDomain = nil
	}
	if ptr.Deref(c.Cloud.ProjectDomain, "") == "" {
		c.Cloud.ProjectDomain = nil
	}
	if ptr.Deref(c.Cloud.FloatingIPPool, "") == "" {
		c.Cloud.FloatingIPPool = nil
	}
	if c.Jenkins.Transport == "" {
		c.Jenkins.Transport = TransportHTTP
	}
	if c.Jenkins.SSH.Port == "" {
		c.Jenkins.SSH.Port = "22"
	}
}

// Validate checks the configuration can be used at all. It does not check
// that optional cloud parameters are present: scenarios gate on those.
func (c *Config) Validate() error {
	// Checked first and alone: a deprecated field fails fast.
	if c.Cloud.Identity != "" {
		return ErrDeprecatedIdentity
	}

	var errs ValidationErrors

	if c.Jenkins.URL == "" {
		errs = append(errs, ValidationError{Field: "jenkins.url", Message: "controller URL is required"})
	} else if u, err := url.Parse(c.Jenkins.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{Field: "jenkins.url", Message: fmt.Sprintf("invalid URL %q", c.Jenkins.URL)})
	}

	switch c.Jenkins.Transport {
	case TransportHTTP:
	case TransportSSH:
		if c.Jenkins.SSH.Host == "" {
			errs = append(errs, ValidationError{Field: "jenkins.ssh.host", Message: "host is required for the ssh transport"})
		}
		if c.Jenkins.SSH.User == "" {
			errs = append(errs, ValidationError{Field: "jenkins.ssh.user", Message: "user is required for the ssh transport"})
		}
		if c.Jenkins.SSH.PrivateKeyPath == "" {
			errs = append(errs, ValidationError{Field: "jenkins.ssh.privateKeyPath", Message: "private key is required for the ssh transport"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "jenkins.transport",
			Message: fmt.Sprintf("invalid transport '%s', must be one of: http, ssh", c.Jenkins.Transport),
		})
	}

	durations := []struct {
		field string
		value DurationString
	}{
		{"provisioningTimeout", c.ProvisioningTimeout},
		{"teardown.interval", c.Teardown.Interval},
		{"teardown.timeout", c.Teardown.Timeout},
		{"teardown.settle", c.Teardown.Settle},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := d.value.Duration()
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration format: %v", err)})
		case v <= 0:
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("duration must be positive, got %s", d.value)})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ProvisioningTimeoutOrDefault returns the configured provisioning timeout.
func (c *Config) ProvisioningTimeoutOrDefault() time.Duration {
	return c.ProvisioningTimeout.OrDefault(DefaultProvisioningTimeout)
}
