// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"

	"github.com/datawire/pexcore/internal/jobs"
	"github.com/datawire/pexcore/internal/lockfile"
	"github.com/datawire/pexcore/internal/lockselect"
	"github.com/datawire/pexcore/internal/target"
)

// Spawners bundles the four pluggable external-tool hooks (§6) the orchestrator drives. This
// package implements none of the resolver's dependency-SAT algorithm or the builder/introspector
// subprocess protocols themselves -- it is the orchestrator, cache, and lock-selector around
// whatever binaries the caller wires in here. Installer is the exception: it is always the
// in-process bdist-based reference installer (§4.7), since that layout logic is this repository's
// own.
type Spawners struct {
	Resolve    ResolveSpawner
	Build      BuildSpawner
	Introspect IntrospectSpawner
	PlatformOf PlatformResolver
	MetadataOf MetadataResolver
}

// Run drives all four stages (§4.5-4.8) in strict forward order for the given targets and
// ResolveRequest, returning the final order-preserving deduplicated ResolvedDistribution set.
//
// markersFor supplies any *additional* per-distribution marker provenance the caller's resolver
// can report beyond what this package derives on its own (see MarkersFor's doc); a nil func
// contributes nothing extra. Run always attributes root requirement strings carrying a marker
// clause (e.g. `foo; sys_platform=="linux"`) as an edge into whatever project they name, on top of
// the requires_dist edges Attribute derives from the introspector's own reports -- between the
// two, stage 4 produces real marker intersections (§4.8) without requiring the caller to model
// conditional markers itself.
func Run(
	ctx context.Context,
	opts Options,
	cache Cache,
	targets []target.Target,
	req ResolveRequest,
	sp Spawners,
	markersFor MarkersFor,
) ([]ResolvedDistribution, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	runner := jobs.NewRunner(opts.MaxJobs)

	buildReqs, installReqs, err := Resolve(ctx, runner, cache, targets, req, sp.Resolve)
	if err != nil {
		return nil, err
	}

	builtInstallReqs, err := Build(ctx, runner, cache, opts.LockStyle, buildReqs, sp.Build)
	if err != nil {
		return nil, err
	}
	installReqs = append(installReqs, builtInstallReqs...)

	rootEdges := rootMarkerEdges(req.Requirements)
	callerMarkersFor := markersFor
	if callerMarkersFor == nil {
		callerMarkersFor = func(string) []string { return nil }
	}
	combinedMarkersFor := func(name string) []string {
		out := append([]string{}, callerMarkersFor(name)...)
		return append(out, rootEdges[normalizeProjectName(name)]...)
	}

	wheels, err := Install(ctx, runner, cache, opts.LockStyle, installReqs, sp.PlatformOf, sp.MetadataOf, opts)
	if err != nil {
		return nil, err
	}

	return Attribute(ctx, runner, wheels, sp.Introspect, combinedMarkersFor)
}

// SelectLockedResolves runs the LockSelector (§4.4) for every target against lf, returning the
// chosen LockedResolve per target. A target for which no resolve ranks is reported via
// opts.OnLockMiss, if set; it is otherwise omitted from the returned map. Per §7, whether misses
// (including every target missing) are fatal is the caller's choice: supplying OnLockMiss means
// the caller has taken that decision on itself, so an all-miss result is returned as an empty map,
// not an error; with no OnLockMiss, any miss -- including the first -- is fatal, matching the
// pre-§7 default of treating LockSelection as an error.
func SelectLockedResolves(lf *lockfile.Lockfile, targets []target.Target, opts Options) (map[string]*lockfile.LockedResolve, error) {
	out := make(map[string]*lockfile.LockedResolve, len(targets))
	for _, t := range targets {
		resolve, err := lockselect.Select(lf, t)
		if err != nil {
			if opts.OnLockMiss != nil {
				opts.OnLockMiss(t.ID(), err)
				continue
			}
			return nil, &LockSelection{Target: t.ID(), Err: err}
		}
		out[t.ID()] = resolve
	}
	return out, nil
}
