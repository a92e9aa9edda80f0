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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no scenario has the requested name.
var ErrNotFound = errors.New("scenario not found")

// Loader loads test scenarios from YAML files.
type Loader struct {
	// basePath is the base directory for resolving relative paths
	basePath string
}

// NewLoader creates a new scenario loader.
// basePath is used to resolve relative scenario file paths.
// If basePath is empty, the current working directory is used.
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = "."
	}
	return &Loader{
		basePath: basePath,
	}
}

// Load loads a test scenario from a YAML file.
// The path can be absolute or relative to the loader's basePath.
// Returns the parsed and validated TestScenario or an error.
func (l *Loader) Load(path string) (*TestScenario, error) {
	resolvedPath, err := l.resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scenario path: %w", err)
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", resolvedPath, err)
	}

	scenario, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resolvedPath, err)
	}
	return scenario, nil
}

// Parse decodes and validates a scenario document. Unknown fields are rejected.
func Parse(data []byte) (*TestScenario, error) {
	var scenario TestScenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(&scenario); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}

	return &scenario, nil
}

// LoadMultiple loads multiple test scenarios from YAML files.
// Returns all successfully loaded scenarios and any errors encountered.
func (l *Loader) LoadMultiple(paths []string) ([]*TestScenario, []error) {
	scenarios := make([]*TestScenario, 0, len(paths))
	var errs []error

	for _, path := range paths {
		scenario, err := l.Load(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load %s: %w", path, err))
			continue
		}
		scenarios = append(scenarios, scenario)
	}

	return scenarios, errs
}

// LoadAll loads every *.yaml and *.yml file of the base directory, ordered by
// file name. Scenario names must be unique.
func (l *Loader) LoadAll() ([]*TestScenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(l.basePath, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)

	scenarios, errs := l.LoadMultiple(paths)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	seen := make(map[string]string, len(scenarios))
	for i, s := range scenarios {
		if other, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("duplicate scenario name '%s' in %s and %s", s.Name, other, paths[i])
		}
		seen[s.Name] = paths[i]
	}

	return scenarios, nil
}

// Select returns the scenarios matching names, in the order of names.
// An empty names selects every scenario.
func Select(scenarios []*TestScenario, names ...string) ([]*TestScenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}

	out := make([]*TestScenario, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(scenarios, func(s *TestScenario) bool { return s.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		out = append(out, scenarios[i])
	}
	return out, nil
}

// FilterByTag returns the scenarios carrying tag.
func FilterByTag(scenarios []*TestScenario, tag string) []*TestScenario {
	var out []*TestScenario
	for _, s := range scenarios {
		if slices.Contains(s.Tags, tag) {
			out = append(out, s)
		}
	}
	return out
}

// resolvePath resolves a file path relative to the loader's basePath.
// If the path is absolute, it is returned as-is.
// If the path is relative, it is joined with basePath.
func (l *Loader) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	resolvedPath := filepath.Join(l.basePath, path)

	if _, err := os.Stat(resolvedPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("scenario file does not exist: %s", resolvedPath)
		}
		return "", fmt.Errorf("failed to stat scenario file %s: %w", resolvedPath, err)
	}

	return resolvedPath, nil
}

// DefaultScenarioPath returns the default path for scenario files.
func DefaultScenarioPath() string {
	return "test/acceptance/scenarios"
}
