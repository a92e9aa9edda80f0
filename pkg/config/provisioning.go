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

package config

import (
	"fmt"
	"strings"
)

// ConnectionType is how the controller reaches a provisioned agent.
type ConnectionType string

const (
	// ConnectionSSH makes the controller open an SSH connection to the agent.
	ConnectionSSH ConnectionType = "SSH"
	// ConnectionJNLP makes the agent connect back to the controller.
	ConnectionJNLP ConnectionType = "JNLP"
)

// ParseConnectionType accepts SSH or JNLP, case-insensitively.
func ParseConnectionType(s string) (ConnectionType, error) {
	switch ConnectionType(strings.ToUpper(s)) {
	case ConnectionSSH:
		return ConnectionSSH, nil
	case ConnectionJNLP:
		return ConnectionJNLP, nil
	default:
		return "", fmt.Errorf("invalid connection type '%s', must be one of: SSH, JNLP", s)
	}
}

// Auth holds the OpenStack keystone v3 credentials.
type Auth struct {
	User          string
	UserDomain    *string
	Project       string
	ProjectDomain *string
	Credential    string
}

// Template is the agent template registered on the cloud.
type Template struct {
	Name           string
	Labels         string
	HardwareID     string
	NetworkID      string
	ImageID        string
	KeyPairName    string
	ConnectionType ConnectionType
	// CredentialsID is only used by SSH templates.
	CredentialsID string
	// UserDataID names the cloud-init config file stored on the controller.
	UserDataID string
	FSRoot     string
}

// Provisioning is the bundle handed to the driver when a cloud is configured.
// It is built once per scenario, never persisted, and must pass Validate
// before any provisioning action.
type Provisioning struct {
	CloudName      string
	Endpoint       string
	Auth           Auth
	FloatingIPPool *string
	InstanceCap    int
	Template       Template
}

// Provisioning returns the cloud part of the bundle with the recovered defaults.
// The template carries the image parameters; WithTemplate completes it.
func (c *CloudConfig) Provisioning() Provisioning {
	return Provisioning{
		CloudName: DefaultCloudName,
		Endpoint:  c.Endpoint,
		Auth: Auth{
			User:          c.User,
			UserDomain:    c.UserDomain,
			Project:       c.Project,
			ProjectDomain: c.ProjectDomain,
			Credential:    c.Credential,
		},
		FloatingIPPool: c.FloatingIPPool,
		InstanceCap:    DefaultInstanceCap,
		Template: Template{
			Name:        DefaultTemplateName,
			HardwareID:  c.HardwareID,
			NetworkID:   c.NetworkID,
			ImageID:     c.ImageID,
			KeyPairName: c.KeyPairName,
			UserDataID:  DefaultUserDataName,
			FSRoot:      DefaultFSRoot,
		},
	}
}

// WithTemplate returns a copy of p whose template uses the connection type and labels.
// SSH templates reference credentialsID; JNLP templates do not.
func (p Provisioning) WithTemplate(conn ConnectionType, labels, credentialsID string) Provisioning {
	p.Template.ConnectionType = conn
	p.Template.Labels = labels
	p.Template.CredentialsID = ""
	if conn == ConnectionSSH {
		p.Template.CredentialsID = credentialsID
	}
	return p
}

// ValidateCloud checks the fields needed to reach the cloud at all.
func (p Provisioning) ValidateCloud() error {
	var errs ValidationErrors

	required := map[string]string{
		"cloudName":       p.CloudName,
		"endpoint":        p.Endpoint,
		"auth.user":       p.Auth.User,
		"auth.project":    p.Auth.Project,
		"auth.credential": p.Auth.Credential,
	}
	for name, v := range required {
		if v == "" {
			errs = append(errs, ValidationError{Field: name, Message: "is required"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the bundle is fully populated before provisioning.
func (p Provisioning) Validate() error {
	var errs ValidationErrors
	if err := p.ValidateCloud(); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}

	t := p.Template
	required := map[string]string{
		"template.name":        t.Name,
		"template.hardwareID":  t.HardwareID,
		"template.networkID":   t.NetworkID,
		"template.imageID":     t.ImageID,
		"template.keyPairName": t.KeyPairName,
		"template.userDataID":  t.UserDataID,
		"template.fsRoot":      t.FSRoot,
	}
	for name, v := range required {
		if v == "" {
			errs = append(errs, ValidationError{Field: name, Message: "is required"})
		}
	}

	switch t.ConnectionType {
	case ConnectionSSH:
		if t.CredentialsID == "" {
			errs = append(errs, ValidationError{Field: "template.credentialsID", Message: "is required for SSH templates"})
		}
	case ConnectionJNLP:
	default:
		errs = append(errs, ValidationError{
			Field:   "template.connectionType",
			Message: fmt.Sprintf("invalid connection type '%s', must be one of: SSH, JNLP", t.ConnectionType),
		})
	}

	if p.InstanceCap <= 0 {
		errs = append(errs, ValidationError{Field: "instanceCap", Message: "must be > 0"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
