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

// Package remote defines how scripts are sent to the controller under test.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
)

// ErrEmptyScript is returned when an empty script is submitted.
var ErrEmptyScript = errors.New("script must not be empty")

// Executor sends an arbitrary script to a managed remote system and returns its textual output.
type Executor interface {
	Execute(ctx context.Context, script string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, script string) (string, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, script string) (string, error) {
	return f(ctx, script)
}

// Logged wraps an executor and logs every script at verbosity 2.
func Logged(exec Executor, log logr.Logger) Executor {
	return ExecutorFunc(func(ctx context.Context, script string) (string, error) {
		if strings.TrimSpace(script) == "" {
			return "", ErrEmptyScript
		}

		out, err := exec.Execute(ctx, script)
		log.V(2).Info("executed remote script", "script", firstLine(script), "output", strings.TrimSpace(out), "err", err)
		if err != nil {
			return out, fmt.Errorf("executing remote script: %w", err)
		}
		return out, nil
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
