// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/pexcore/internal/atomicdir"
	"github.com/datawire/pexcore/internal/bdist"
	"github.com/datawire/pexcore/internal/directurl"
	"github.com/datawire/pexcore/internal/entrypoints"
	"github.com/datawire/pexcore/internal/jobs"
	"github.com/datawire/pexcore/internal/pyplat"
	"github.com/datawire/pexcore/internal/recordfile"
)

// PlatformResolver looks up the pyplat.Platform (shebangs, scheme, ownership, compiler) a
// representative InstallRequest's Target should install against.
type PlatformResolver func(req InstallRequest) (pyplat.Platform, error)

// InstallMetadata supplies the per-wheel bookkeeping §4.7/§2.3 asks the Installer to record, which
// this package's data model does not itself track (it comes from upstream resolve/lock-selection
// bookkeeping that is the caller's responsibility to thread through).
type InstallMetadata struct {
	// Requested is true if this wheel satisfies a direct top-level requirement rather than a
	// transitive one; a REQUESTED marker is written when true.
	Requested bool
	// DirectURL is non-nil when the source Artifact was not index-hosted, per §2.3.
	DirectURL *directurl.DirectURL
}

// MetadataResolver looks up the InstallMetadata for a representative InstallRequest.
type MetadataResolver func(req InstallRequest) InstallMetadata

// group is one deduplicated install: every InstallRequest sharing a wheel filename (§4.7's
// "basename(wheel_path) maps to exactly one installation chroot").
type group struct {
	filename string
	reqs     []InstallRequest
}

func dedupByFilename(reqs []InstallRequest) []group {
	order := make([]string, 0, len(reqs))
	byName := make(map[string][]InstallRequest)
	for _, r := range reqs {
		name := r.WheelFilename()
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], r)
	}
	groups := make([]group, len(order))
	for i, name := range order {
		groups[i] = group{filename: name, reqs: byName[name]}
	}
	return groups
}

// InstalledWheel pairs a deduplicated wheel with the chroot directory it was installed into.
type InstalledWheel struct {
	Filename  string
	ChrootDir string
	Requests  []InstallRequest // every InstallRequest (across all targets) this chroot satisfies
}

// Install runs stage 3: requests are deduplicated by wheel filename (§4.7); each unique wheel is
// installed, under AtomicDirectory discipline, into its own chroot via bdist.InstallWheel (the
// reference installer this repository itself provides, reworked from the teacher's OCI-layer
// builder to target a real filesystem directory directly, per §4.7) plus the recordfile/
// entrypoints/directurl PostInstallHooks the layout spec names. Already-finalized slots are reused
// without doing any installation work.
//
// An installation failure surfaces as Untranslateable; a slot whose work_dir cannot be created for
// a reason other than already-exists is an InstallResultUnlockable.
func Install(
	ctx context.Context,
	runner *jobs.Runner,
	cache Cache,
	lockStyle atomicdir.LockStyle,
	reqs []InstallRequest,
	platformOf PlatformResolver,
	metadataOf MetadataResolver,
	opts Options,
) ([]InstalledWheel, error) {
	groups := dedupByFilename(reqs)
	inputs := make([]interface{}, len(groups))
	for i, g := range groups {
		inputs[i] = g
	}

	results, err := jobs.Execute(ctx, runner, inputs,
		func(ctx context.Context, input interface{}) (jobs.SpawnedJob, error) {
			g := input.(group) //nolint:forcetypeassert // inputs are always group
			representative := g.reqs[0]

			slotPath := cache.InstalledWheelSlot(representative.WheelFingerprint, g.filename)
			dir, err := atomicdir.Enter(slotPath, lockStyle)
			if err != nil {
				return jobs.SpawnedJob{}, &InstallResultUnlockable{Slot: slotPath, Err: err}
			}

			if dir.IsFinalized() {
				return jobs.SpawnedJob{
					Wait: func() error { return nil },
					Result: func() (interface{}, error) {
						return InstalledWheel{Filename: g.filename, ChrootDir: dir.TargetDir(), Requests: g.reqs}, nil
					},
				}, nil
			}

			plat, err := platformOf(representative)
			if err != nil {
				_ = dir.Cleanup()
				_ = dir.Close()
				return jobs.SpawnedJob{}, err
			}
			meta := metadataOf(representative)

			return jobs.SpawnedJob{
				Wait: func() error { return nil },
				Result: func() (interface{}, error) {
					err := installOneWheel(ctx, plat, representative.WheelPath, dir.WorkDir(), meta, opts)
					if err != nil {
						_ = dir.Cleanup()
						_ = dir.Close()
						return nil, err
					}
					if err := dir.Finalize(); err != nil {
						_ = dir.Close()
						return nil, err
					}
					_ = dir.Close()
					return InstalledWheel{Filename: g.filename, ChrootDir: dir.TargetDir(), Requests: g.reqs}, nil
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

	out := make([]InstalledWheel, len(results))
	for i, r := range results {
		out[i] = r.(InstalledWheel) //nolint:forcetypeassert // Result always returns InstalledWheel
	}
	return out, nil
}

// installOneWheel composes the layout spec of §4.7 into a single bdist.InstallWheel call: a
// RECORD (recordfile.WriteRecord), an INSTALLER tag (recordfile.WriteInstaller), an optional
// REQUESTED marker (recordfile.WriteRequested), an optional direct_url.json (directurl.Record),
// and entry-point trampoline scripts (entrypoints.CreateScripts).
func installOneWheel(ctx context.Context, plat pyplat.Platform, wheelPath, destDir string, meta InstallMetadata, opts Options) error {
	// entrypoints.CreateScripts writes directly into the install-chroot VFS (§4.7), so it needs
	// the chroot-relative Scheme, not plat's live-system one; bdist.InstallWheel below derives
	// the same chroot layout internally for the rest of the spread.
	hooks := []bdist.PostInstallHook{
		entrypoints.CreateScripts(plat.ForChroot()),
		recordfile.WriteInstaller(opts.Installer),
	}
	if meta.Requested {
		hooks = append(hooks, recordfile.WriteRequested(""))
	}
	if meta.DirectURL != nil {
		hooks = append(hooks, directurl.Record(*meta.DirectURL))
	}
	hooks = append(hooks, recordfile.WriteRecord(""))

	// SOURCE_DATE_EPOCH (§6), when set, pins both the floor (minTime) and ceiling (maxTime) of
	// every installed file's mtime to one reproducible instant; otherwise both are left zero so
	// InstallWheel derives maxTime from the wheel's own newest member mtime.
	var minTime, maxTime time.Time
	if opts.SourceDateEpoch != nil {
		minTime = *opts.SourceDateEpoch
		maxTime = *opts.SourceDateEpoch
	}

	if !opts.Compile {
		plat.PyCompile = nil
	}

	if err := bdist.InstallWheel(ctx, plat, minTime, maxTime, wheelPath, destDir, bdist.PostInstallHooks(hooks...)); err != nil {
		return fmt.Errorf("pipeline: installing %s: %w", wheelPath, err)
	}
	return nil
}
