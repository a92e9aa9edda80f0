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

package remote_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/provcheck/pkg/remote"
)

func TestLogged(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		script  string
		execErr error
		wantErr error
	}{
		{name: "passes output through", script: "return 1"},
		{name: "rejects empty script", script: "  \n", wantErr: remote.ErrEmptyScript},
		{name: "wraps executor error", script: "return 1", execErr: boom, wantErr: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			inner := remote.ExecutorFunc(func(_ context.Context, _ string) (string, error) {
				calls++
				return "1", tt.execErr
			})

			out, err := remote.Logged(inner, logr.Discard()).Execute(context.Background(), tt.script)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", out)
			assert.Equal(t, 1, calls)
		})
	}
}
