// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package jobs implements the JobRunner: a bounded-concurrency fan-out of external subprocess
// invocations with strict error propagation, per §4.3.
//
// The concurrency bound follows the semaphore idiom used by golang-dep's gps/cmd.go
// (`type sem chan struct{}`, acquire-or-ctx.Done()) but realized with golang.org/x/sync/semaphore
// instead of a bare channel, and the worker fan-out itself uses golang.org/x/sync/errgroup, both
// supervised by a github.com/datawire/dlib/dgroup group so that cancellation tears down every
// still-running subprocess.
package jobs

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/datawire/dlib/dgroup"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// A SpawnedJob bundles a started external subprocess with a function that extracts this job's
// result once the subprocess has exited successfully (typically by parsing its already-drained
// stdout).
type SpawnedJob struct {
	// Wait blocks until the subprocess exits. A non-nil error here is expected to be
	// (or wrap) an exit-status error; Execute passes the error value itself (not just its
	// message) to the ErrorKindFunc, so errors.As/errors.Is still reach it.
	Wait func() error
	// Result extracts this job's output; called only if Wait returned nil.
	Result func() (interface{}, error)
}

// Runner is the bounded-concurrency external-process executor described by §4.3.
type Runner struct {
	// MaxJobs bounds how many subprocesses run at once. Zero means runtime.NumCPU().
	MaxJobs int
}

// NewRunner builds a Runner with the given concurrency bound (0 meaning "CPU count").
func NewRunner(maxJobs int) *Runner {
	return &Runner{MaxJobs: maxJobs}
}

func (r *Runner) maxJobs() int64 {
	if r.MaxJobs > 0 {
		return int64(r.MaxJobs)
	}
	return int64(runtime.NumCPU())
}

// ErrorKindFunc wraps a failing job's stderr-bearing error into a caller-supplied domain error
// type (Unsatisfiable, Untranslateable, ...).
type ErrorKindFunc func(err error) error

// Execute runs spawn(input) for every input in inputs, bounded to MaxJobs concurrent
// subprocesses, and returns results in completion order.
//
// If any job's Wait reports a non-zero exit, that error -- wrapped via kind -- is what Execute
// returns; no further inputs are submitted, and jobs already spawned are allowed to run to
// completion (not killed) but their results are discarded, so Execute returns once they have
// exited. Cancelling ctx tears down every still-running subprocess (spawn receives ctx itself)
// and returns ctx.Err().
func Execute(
	ctx context.Context,
	r *Runner,
	inputs []interface{},
	spawn func(ctx context.Context, input interface{}) (SpawnedJob, error),
	kind ErrorKindFunc,
) ([]interface{}, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	// spawn gets the caller's ctx rather than the one cancelled on the first failure, so a
	// failure stops further submissions without killing subprocesses that are already running.
	parentCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	sem := semaphore.NewWeighted(r.maxJobs())

	var (
		mu      sync.Mutex
		results []interface{}
		firstErr error
	)

	var eg errgroup.Group
	for _, input := range inputs {
		input := input
		eg.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil //nolint:nilerr // cancellation, not a job failure
			}
			defer sem.Release(1)

			select {
			case <-ctx.Done():
				return nil
			default:
			}

			job, err := spawn(parentCtx, input)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = kind(err)
					cancel()
				}
				mu.Unlock()
				return nil
			}

			waitErr := job.Wait()

			mu.Lock()
			alreadyFailed := firstErr != nil
			mu.Unlock()
			if alreadyFailed {
				// A sibling job already failed; per §4.3 this job's result (even if
				// it itself succeeded) is discarded.
				return nil
			}

			if waitErr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = kind(waitErr)
					cancel()
				}
				mu.Unlock()
				return nil
			}

			result, err := job.Result()
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = kind(fmt.Errorf("extracting job result: %w", err))
					cancel()
				}
				mu.Unlock()
				return nil
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	grp.Go("jobs", func(ctx context.Context) error {
		return eg.Wait()
	})
	_ = grp.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && len(results) < len(inputs) {
		return nil, err
	}
	return results, nil
}
