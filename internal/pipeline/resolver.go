// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/pexcore/internal/jobs"
	"github.com/datawire/pexcore/internal/lockfile"
	"github.com/datawire/pexcore/internal/target"
)

// ResolveRequest bundles the inputs §4.5 says the Resolver takes, apart from the target set
// (passed separately so the same request can be resolved against many targets).
type ResolveRequest struct {
	Requirements     []string
	RequirementFiles []string
	ConstraintFiles  []string

	AllowPrereleases bool
	AllowWheels      bool
	AllowBuilds      bool
	Transitive       bool

	// LocalProjects are paths to local source trees named directly by the user (as opposed to
	// discovered transitively); each yields one BuildRequest per target, per §4.5.
	LocalProjects []string
}

// ResolveSpawner starts the external resolver subprocess (§6) for one target, configured to
// download (not install) every artifact needed to satisfy req into downloadDir. This package does
// not implement dependency-SAT resolution itself -- it is the orchestrator around whatever
// resolver binary the caller wires in.
type ResolveSpawner func(ctx context.Context, t target.Target, downloadDir string, req ResolveRequest) (jobs.SpawnedJob, error)

type resolveOutcome struct {
	target target.Target
	files  []string
}

// Resolve runs stage 1: for each target, spawn the external resolver (parallelized by runner)
// into its own resolved_dists/<target.id> scratch directory, then classifies every artifact it
// downloaded into a BuildRequest (non-wheel files) or InstallRequest (".whl" files), per §4.5.
// Local project references are scanned separately and always yield BuildRequests.
//
// A resolver failure for any target surfaces as Unsatisfiable and halts the pipeline; the caller
// is expected to treat that as fatal (§4.9: "any stage error aborts the whole resolve").
func Resolve(
	ctx context.Context,
	runner *jobs.Runner,
	cache Cache,
	targets []target.Target,
	req ResolveRequest,
	spawn ResolveSpawner,
) ([]BuildRequest, []InstallRequest, error) {
	inputs := make([]interface{}, len(targets))
	for i, t := range targets {
		inputs[i] = t
	}

	results, err := jobs.Execute(ctx, runner, inputs,
		func(ctx context.Context, input interface{}) (jobs.SpawnedJob, error) {
			t := input.(target.Target) //nolint:forcetypeassert // inputs are always target.Target
			downloadDir := cache.ResolvedDistsDir(t.ID())
			if err := os.MkdirAll(downloadDir, 0o777); err != nil {
				return jobs.SpawnedJob{}, err
			}
			job, err := spawn(ctx, t, downloadDir, req)
			if err != nil {
				return jobs.SpawnedJob{}, err
			}
			innerResult := job.Result
			// The external resolver subprocess contract (§6) only promises a populated download
			// directory, not a dependency graph -- so this only classifies filenames. Stage 4's
			// per-distribution marker provenance (§4.8) instead comes from the introspector's own
			// requires_dist reports and from root requirement strings, not from anything sourced
			// here; see internal/pipeline/markers.go.
			job.Result = func() (interface{}, error) {
				if innerResult != nil {
					if _, err := innerResult(); err != nil {
						return nil, err
					}
				}
				entries, err := os.ReadDir(downloadDir)
				if err != nil {
					return nil, fmt.Errorf("pipeline: reading resolved dists for %s: %w", t.ID(), err)
				}
				files := make([]string, 0, len(entries))
				for _, e := range entries {
					if !e.IsDir() {
						files = append(files, filepath.Join(downloadDir, e.Name()))
					}
				}
				return resolveOutcome{target: t, files: files}, nil
			}
			return job, nil
		},
		func(err error) error {
			return &Unsatisfiable{Err: err}
		},
	)
	if err != nil {
		return nil, nil, err
	}

	var buildReqs []BuildRequest
	var installReqs []InstallRequest
	for _, r := range results {
		outcome := r.(resolveOutcome) //nolint:forcetypeassert // Result always returns resolveOutcome
		for _, file := range outcome.files {
			if classifyArtifactFile(file).IsWheel() {
				fp, err := FingerprintFile(file)
				if err != nil {
					return nil, nil, fmt.Errorf("pipeline: %w", err)
				}
				installReqs = append(installReqs, InstallRequest{
					Target:           outcome.target,
					WheelPath:        file,
					WheelFingerprint: fp,
				})
				continue
			}
			fp, err := FingerprintFile(file)
			if err != nil {
				return nil, nil, fmt.Errorf("pipeline: %w", err)
			}
			buildReqs = append(buildReqs, BuildRequest{
				Target:             outcome.target,
				SourcePath:         file,
				ContentFingerprint: fp,
			})
		}
	}

	for _, proj := range req.LocalProjects {
		fp, err := FingerprintDir(proj)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: local project %s: %w", proj, err)
		}
		for _, t := range targets {
			if !t.CanBuild() {
				continue
			}
			buildReqs = append(buildReqs, BuildRequest{
				Target:             t,
				SourcePath:         proj,
				ContentFingerprint: fp,
			})
		}
	}

	return buildReqs, installReqs, nil
}

// classifyArtifactFile reuses lockfile.Artifact's filename-suffix classification rules (§3) by
// constructing a throwaway Artifact whose URL is just the local filename.
func classifyArtifactFile(path string) lockfile.Artifact {
	return lockfile.Artifact{URL: filepath.Base(path)}
}
