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

package jenkins

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// JobKind is the project type of a job.
type JobKind string

const (
	// JobFreestyle is a freestyle project.
	JobFreestyle JobKind = "freestyle"
	// JobMatrix is a multi-configuration project. Without axes it runs a single
	// configuration named "default".
	JobMatrix JobKind = "matrix"
)

// DefaultMatrixConfiguration is the configuration of a matrix project without axes.
const DefaultMatrixConfiguration = "default"

// BuildWrapper is an OpenStack build wrapper attached to a job.
type BuildWrapper string

const (
	// WrapperPerBuildInstance provisions dedicated instances for the duration of a build.
	WrapperPerBuildInstance BuildWrapper = "per_build_instance"
	// WrapperOneOffAgent takes the agent offline once its build is done.
	WrapperOneOffAgent BuildWrapper = "one_off_agent"
)

var (
	// ErrUnknownJobKind is returned for an unsupported job kind.
	ErrUnknownJobKind = errors.New("unknown job kind")
	// ErrUnknownBuildWrapper is returned for an unsupported build wrapper.
	ErrUnknownBuildWrapper = errors.New("unknown build wrapper")
)

// JobSpec describes a job to create on the controller.
type JobSpec struct {
	Kind JobKind
	// LabelExpression restricts where the job runs. Empty lets it roam.
	LabelExpression string
	ShellSteps      []string
	Wrappers        []BuildWrapper

	// Cloud, Template and InstanceCount configure WrapperPerBuildInstance.
	Cloud         string
	Template      string
	InstanceCount int
}

const openstackPlugin = "openstack-cloud"

type shellStep struct {
	Command string `xml:"command"`
}

type builders struct {
	Shell []shellStep `xml:"hudson.tasks.Shell"`
}

type instancesToRun struct {
	CloudName    string `xml:"cloudName"`
	TemplateName string `xml:"templateName"`
	Count        int    `xml:"count"`
}

type perBuildInstanceWrapper struct {
	Plugin    string           `xml:"plugin,attr"`
	Instances []instancesToRun `xml:"instancesToRun>jenkins.plugins.openstack.compute.InstancesToRun"`
}

type oneOffWrapper struct {
	Plugin string `xml:"plugin,attr"`
}

type buildWrappers struct {
	PerBuild *perBuildInstanceWrapper `xml:"jenkins.plugins.openstack.compute.JCloudsBuildWrapper,omitempty"`
	OneOff   *oneOffWrapper           `xml:"jenkins.plugins.openstack.compute.JCloudsOneOffSlave,omitempty"`
}

type executionStrategy struct {
	Class           string `xml:"class,attr"`
	RunSequentially bool   `xml:"runSequentially"`
}

type project struct {
	XMLName      xml.Name
	Plugin       string             `xml:"plugin,attr,omitempty"`
	Description  string             `xml:"description"`
	AssignedNode string             `xml:"assignedNode,omitempty"`
	CanRoam      bool               `xml:"canRoam"`
	Disabled     bool               `xml:"disabled"`
	Axes         *struct{}          `xml:"axes,omitempty"`
	Builders     builders           `xml:"builders"`
	Publishers   struct{}           `xml:"publishers"`
	Wrappers     buildWrappers      `xml:"buildWrappers"`
	Strategy     *executionStrategy `xml:"executionStrategy,omitempty"`
}

// ConfigXML renders the job's config.xml.
func (s JobSpec) ConfigXML() ([]byte, error) {
	p := project{
		Description:  "Created by provcheck",
		AssignedNode: s.LabelExpression,
		CanRoam:      s.LabelExpression == "",
	}

	switch s.Kind {
	case JobFreestyle, "":
		p.XMLName = xml.Name{Local: "project"}
	case JobMatrix:
		p.XMLName = xml.Name{Local: "matrix-project"}
		p.Plugin = "matrix-project"
		p.Axes = &struct{}{}
		p.Strategy = &executionStrategy{Class: "hudson.matrix.DefaultMatrixExecutionStrategyImpl"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, s.Kind)
	}

	for _, cmd := range s.ShellSteps {
		p.Builders.Shell = append(p.Builders.Shell, shellStep{Command: cmd})
	}

	for _, w := range s.Wrappers {
		switch w {
		case WrapperPerBuildInstance:
			count := s.InstanceCount
			if count <= 0 {
				count = 1
			}
			p.Wrappers.PerBuild = &perBuildInstanceWrapper{
				Plugin:    openstackPlugin,
				Instances: []instancesToRun{{CloudName: s.Cloud, TemplateName: s.Template, Count: count}},
			}
		case WrapperOneOffAgent:
			p.Wrappers.OneOff = &oneOffWrapper{Plugin: openstackPlugin}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBuildWrapper, w)
		}
	}

	out, err := xml.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering job config: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
