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
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/remote"
)

// Terminator is the part of the driver used to tear provisioned nodes down.
type Terminator interface {
	TerminateAllNodes(ctx context.Context) error
	DestroyRunningAndCount(ctx context.Context) (string, error)
}

// TeardownOptions bounds the wait for every node to be gone.
type TeardownOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// Settle is observed between the termination request and the first count.
	Settle time.Duration

	Logger  logr.Logger
	Metrics *converge.Metrics
}

// TeardownOptionsFrom reads the teardown bounds of cfg, falling back to the defaults.
func TeardownOptionsFrom(cfg config.TeardownConfig) TeardownOptions {
	return TeardownOptions{
		Interval: cfg.Interval.OrDefault(config.DefaultTeardownInterval),
		Timeout:  cfg.Timeout.OrDefault(config.DefaultTeardownTimeout),
		Settle:   cfg.Settle.OrDefault(config.DefaultTeardownSettle),
	}
}

// Teardown asks every node to terminate, then destroys the servers still
// running in the cloud until none is left.
func Teardown(ctx context.Context, t Terminator, opts TeardownOptions) (converge.Result, error) {
	opts.Logger.Info("terminating all nodes")
	if err := t.TerminateAllNodes(ctx); err != nil {
		return converge.Result{}, fmt.Errorf("terminating nodes: %w", err)
	}

	res, err := converge.Await(ctx, t.DestroyRunningAndCount, remote.TerminalNodeCount, converge.Options{
		Name:     "teardown",
		Interval: opts.Interval,
		Timeout:  opts.Timeout,
		Settle:   opts.Settle,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return res, fmt.Errorf("destroying running nodes: %w", err)
	}

	opts.Logger.Info("all nodes are gone", "attempts", res.Attempts, "elapsed", res.Elapsed.String())
	return res, nil
}
