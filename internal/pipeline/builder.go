// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/datawire/pexcore/internal/atomicdir"
	"github.com/datawire/pexcore/internal/jobs"
)

// BuildSpawner starts the external wheel-builder subprocess (§6) for one BuildRequest, writing
// the produced .whl file(s) into outDir (the AtomicDirectory work_dir).
type BuildSpawner func(ctx context.Context, req BuildRequest, outDir string) (jobs.SpawnedJob, error)

func (c Cache) buildSlot(req BuildRequest) string {
	isDir := false
	if info, err := os.Stat(req.SourcePath); err == nil {
		isDir = info.IsDir()
	}
	return c.BuiltWheelSlot(req.kind(isDir), req.basename(), req.ContentFingerprint, req.Target.ID())
}

// Build runs stage 2: for each BuildRequest, reuse its BuildResult slot if already finalized,
// otherwise spawn the external builder under AtomicDirectory discipline (§4.1), parallelized by
// runner. Every wheel produced (or already present) becomes one InstallRequest.
//
// A build failure surfaces as Untranslateable and halts the pipeline (§4.6). A slot whose work_dir
// cannot be created for a reason other than already-exists is a BuildResultUnlockable, which is
// always fatal regardless of how many requests are in flight.
func Build(
	ctx context.Context,
	runner *jobs.Runner,
	cache Cache,
	lockStyle atomicdir.LockStyle,
	reqs []BuildRequest,
	spawn BuildSpawner,
) ([]InstallRequest, error) {
	inputs := make([]interface{}, len(reqs))
	for i, r := range reqs {
		inputs[i] = r
	}

	results, err := jobs.Execute(ctx, runner, inputs,
		func(ctx context.Context, input interface{}) (jobs.SpawnedJob, error) {
			req := input.(BuildRequest) //nolint:forcetypeassert // inputs are always BuildRequest

			slotPath := cache.buildSlot(req)
			dir, err := atomicdir.Enter(slotPath, lockStyle)
			if err != nil {
				return jobs.SpawnedJob{}, &BuildResultUnlockable{Slot: slotPath, Err: err}
			}

			if dir.IsFinalized() {
				wheels, err := wheelsIn(dir.TargetDir())
				if err != nil {
					return jobs.SpawnedJob{}, err
				}
				return jobs.SpawnedJob{
					Wait:   func() error { return nil },
					Result: func() (interface{}, error) { return buildOutcome{req: req, wheels: wheels}, nil },
				}, nil
			}

			job, err := spawn(ctx, req, dir.WorkDir())
			if err != nil {
				_ = dir.Cleanup()
				_ = dir.Close()
				return jobs.SpawnedJob{}, err
			}
			innerWait := job.Wait
			innerResult := job.Result
			return jobs.SpawnedJob{
				Wait: func() error {
					if err := innerWait(); err != nil {
						_ = dir.Cleanup()
						_ = dir.Close()
						return err
					}
					return nil
				},
				Result: func() (interface{}, error) {
					if innerResult != nil {
						if _, err := innerResult(); err != nil {
							_ = dir.Cleanup()
							_ = dir.Close()
							return nil, err
						}
					}
					if err := dir.Finalize(); err != nil {
						_ = dir.Close()
						return nil, err
					}
					_ = dir.Close()
					wheels, err := wheelsIn(dir.TargetDir())
					if err != nil {
						return nil, err
					}
					return buildOutcome{req: req, wheels: wheels}, nil
				},
			}, nil
		},
		func(err error) error {
			return &Untranslateable{Err: err}
		},
	)
	if err != nil {
		return nil, err
	}

	var installReqs []InstallRequest
	for _, r := range results {
		outcome := r.(buildOutcome) //nolint:forcetypeassert // Result always returns buildOutcome
		for _, whl := range outcome.wheels {
			fp, err := FingerprintFile(whl)
			if err != nil {
				return nil, fmt.Errorf("pipeline: %w", err)
			}
			installReqs = append(installReqs, InstallRequest{
				Target:           outcome.req.Target,
				WheelPath:        whl,
				WheelFingerprint: fp,
			})
		}
	}
	return installReqs, nil
}

type buildOutcome struct {
	req    BuildRequest
	wheels []string
}

func wheelsIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: listing built wheels in %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".whl") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
