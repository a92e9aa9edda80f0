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

// Package activation decides whether a scenario can run against the current
// environment. Requirements are plain predicates evaluated before the scenario
// starts; an unmet requirement skips the scenario instead of failing it.
package activation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNotActivated is matched by every *NotActivatedError.
var ErrNotActivated = errors.New("scenario not activated")

// Environment exposes what requirements are checked against.
type Environment interface {
	// Lookup returns a configuration value and whether it is set.
	Lookup(key string) (string, bool)
	// InstalledPlugins returns the short names of the plugins installed on the controller.
	InstalledPlugins(ctx context.Context) ([]string, error)
	// CanRestart reports whether the controller can be restarted.
	CanRestart(ctx context.Context) (bool, error)
}

// Requirement is a single precondition. It returns a non-empty reason when unmet.
type Requirement interface {
	Check(ctx context.Context, env Environment) (reason string, err error)
}

// RequirementFunc adapts a function to the Requirement interface.
type RequirementFunc func(ctx context.Context, env Environment) (string, error)

// Check implements Requirement.
func (f RequirementFunc) Check(ctx context.Context, env Environment) (string, error) {
	return f(ctx, env)
}

// NotActivatedError lists every unmet requirement.
type NotActivatedError struct {
	Reasons []string
}

func (e *NotActivatedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotActivated.Error(), strings.Join(e.Reasons, "; "))
}

// Unwrap allows errors.Is(err, ErrNotActivated).
func (e *NotActivatedError) Unwrap() error {
	return ErrNotActivated
}

// RequireConfig is met when every key has a non-empty value.
func RequireConfig(keys ...string) Requirement {
	return RequirementFunc(func(_ context.Context, env Environment) (string, error) {
		var missing []string
		for _, k := range keys {
			if _, ok := env.Lookup(k); !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return fmt.Sprintf("missing configuration %s", strings.Join(missing, ", ")), nil
		}
		return "", nil
	})
}

// RequirePlugins is met when every plugin is installed on the controller.
func RequirePlugins(names ...string) Requirement {
	return RequirementFunc(func(ctx context.Context, env Environment) (string, error) {
		if len(names) == 0 {
			return "", nil
		}
		installed, err := env.InstalledPlugins(ctx)
		if err != nil {
			return "", fmt.Errorf("listing installed plugins: %w", err)
		}

		var missing []string
		for _, n := range names {
			if !slices.Contains(installed, n) {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return fmt.Sprintf("missing plugins %s", strings.Join(missing, ", ")), nil
		}
		return "", nil
	})
}

// RequireRestartable is met when the controller can be restarted.
func RequireRestartable() Requirement {
	return RequirementFunc(func(ctx context.Context, env Environment) (string, error) {
		ok, err := env.CanRestart(ctx)
		if err != nil {
			return "", fmt.Errorf("checking restart capability: %w", err)
		}
		if !ok {
			return "This test requires a restartable Jenkins", nil
		}
		return "", nil
	})
}

// Evaluate checks every requirement. It returns a *NotActivatedError when at
// least one is unmet, or the first error raised while checking.
func Evaluate(ctx context.Context, env Environment, reqs ...Requirement) error {
	var reasons []string
	for _, r := range reqs {
		reason, err := r.Check(ctx, env)
		if err != nil {
			return err
		}
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) > 0 {
		return &NotActivatedError{Reasons: reasons}
	}
	return nil
}
