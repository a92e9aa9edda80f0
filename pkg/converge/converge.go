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

// Package converge blocks until a remote system reports a terminal value.
//
// The typical use is teardown: every provisioned node is asked to terminate,
// then a remote query reporting the number of nodes still running is polled
// until it returns "0". Every wait is bounded: callers must always provide a
// timeout.
package converge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
)

var (
	// ErrTimeoutRequired is returned when Options.Timeout is not strictly positive.
	ErrTimeoutRequired = errors.New("convergence timeout is required")
	// ErrIntervalRequired is returned when Options.Interval is not strictly positive.
	ErrIntervalRequired = errors.New("convergence poll interval is required")
	// ErrNotConverged is returned when the timeout elapsed before the terminal value was observed.
	ErrNotConverged = errors.New("remote state did not converge")
	// ErrNilQuery is returned when no query function is provided.
	ErrNilQuery = errors.New("query function is required")
)

// QueryFunc returns the textual answer of a remote system.
type QueryFunc func(ctx context.Context) (string, error)

// Predicate decides whether an observed value is terminal.
type Predicate func(value string) bool

// Equals returns a Predicate matching the expected value, ignoring surrounding whitespace.
func Equals(expected string) Predicate {
	expected = strings.TrimSpace(expected)
	return func(value string) bool {
		return strings.TrimSpace(value) == expected
	}
}

// Options configures a convergence wait.
type Options struct {
	// Name identifies the wait in logs and metrics.
	Name string
	// Interval is the delay between two queries.
	Interval time.Duration
	// Timeout bounds the whole wait, settle delay excluded.
	Timeout time.Duration
	// Settle is an optional delay observed before the first query.
	Settle time.Duration

	// Logger receives one debug line per attempt. Defaults to logr.Discard().
	Logger logr.Logger
	// Metrics is optional.
	Metrics *Metrics
}

func (o Options) validate() error {
	if o.Timeout <= 0 {
		return ErrTimeoutRequired
	}
	if o.Interval <= 0 {
		return ErrIntervalRequired
	}
	return nil
}

// Result describes a finished wait.
type Result struct {
	// Value is the last value returned by the query.
	Value string
	// Attempts is the number of times the query was invoked.
	Attempts int
	// Elapsed is the time spent polling, settle delay excluded.
	Elapsed time.Duration
}

// NotConvergedError carries the last observation of a wait that timed out.
type NotConvergedError struct {
	Name      string
	LastValue string
	Attempts  int
	Timeout   time.Duration
}

func (e *NotConvergedError) Error() string {
	return fmt.Sprintf("%s: %q still reported %q after %d attempts within %s",
		ErrNotConverged.Error(), e.Name, e.LastValue, e.Attempts, e.Timeout)
}

// Unwrap allows errors.Is(err, ErrNotConverged).
func (e *NotConvergedError) Unwrap() error {
	return ErrNotConverged
}

// Await invokes query until it returns expected.
//
// The query is invoked once immediately. While the answer differs from
// expected, Await waits opts.Interval and retries. A query error aborts the
// wait and is returned wrapped. If opts.Timeout elapses first, a
// *NotConvergedError is returned.
func Await(ctx context.Context, query QueryFunc, expected string, opts Options) (Result, error) {
	return Until(ctx, query, Equals(expected), opts)
}

// Until invokes query until done reports true for its answer.
func Until(ctx context.Context, query QueryFunc, done Predicate, opts Options) (Result, error) {
	if query == nil || done == nil {
		return Result{}, ErrNilQuery
	}
	if err := opts.validate(); err != nil {
		return Result{}, err
	}

	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithValues("wait", opts.Name)

	if opts.Settle > 0 {
		if err := sleep(ctx, opts.Settle); err != nil {
			return Result{}, fmt.Errorf("settling before %q: %w", opts.Name, err)
		}
	}

	var (
		result   Result
		queryErr error
	)
	start := time.Now()

	err := wait.PollUntilContextTimeout(ctx, opts.Interval, opts.Timeout, true,
		func(ctx context.Context) (bool, error) {
			result.Attempts++
			opts.Metrics.observeAttempt(opts.Name)

			value, err := query(ctx)
			if err != nil {
				queryErr = fmt.Errorf("query %q failed on attempt %d: %w", opts.Name, result.Attempts, err)
				return false, queryErr
			}

			result.Value = value
			converged := done(value)
			log.V(1).Info("polled remote state",
				"attempt", result.Attempts, "value", strings.TrimSpace(value), "converged", converged)

			return converged, nil
		})

	result.Elapsed = time.Since(start)
	opts.Metrics.observeDone(opts.Name, result.Elapsed, err == nil)

	if err == nil {
		return result, nil
	}

	// A cancelled parent is reported as such, not as a convergence failure.
	if ctx.Err() != nil {
		return result, fmt.Errorf("waiting for %q: %w", opts.Name, ctx.Err())
	}

	// The query error may itself wrap a deadline, e.g. an HTTP client timeout.
	if queryErr != nil {
		return result, queryErr
	}

	if wait.Interrupted(err) {
		return result, &NotConvergedError{
			Name:      opts.Name,
			LastValue: strings.TrimSpace(result.Value),
			Attempts:  result.Attempts,
			Timeout:   opts.Timeout,
		}
	}

	return result, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
