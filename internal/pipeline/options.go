// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"time"

	"github.com/datawire/pexcore/internal/atomicdir"
)

// Options is the single explicit struct every environment- and flag-derived setting funnels
// through, per the §9 REDESIGN FLAG against reading ad-hoc os.Getenv deep in the pipeline. It is
// constructed once at the CLI boundary; no package below cmd reads os.Getenv except
// internal/reproducible (for SOURCE_DATE_EPOCH), internal/pycompile (PYTHONPATH, passed on to the
// compiler subprocess), and internal/cliutil (COLUMNS, for help-text width). The install command
// folds SOURCE_DATE_EPOCH into SourceDateEpoch.
type Options struct {
	// MaxJobs bounds the JobRunner's concurrency. Zero means runtime.NumCPU().
	MaxJobs int

	// CacheDir is the root of the three-tier ContentAddressedCache (§4.2).
	CacheDir string

	// LockStyle selects POSIX-range or BSD-whole-file AtomicDirectory locking.
	LockStyle atomicdir.LockStyle

	AllowPrereleases bool
	AllowWheels      bool
	AllowBuilds      bool
	Transitive       bool

	// Compile, when set, runs the Installer's bytecode-compilation step.
	Compile bool

	// Installer is the INSTALLER file tag written into every install chroot.
	Installer string

	// SourceDateEpoch, if set, overrides internal/reproducible.Now() for this run's clamp time.
	// Nil leaves the clamp time to bdist.InstallWheel, which derives it from each wheel's own
	// newest member mtime.
	SourceDateEpoch *time.Time

	// OnLockMiss, if non-nil, is called for every target for which LockSelector finds no
	// rankable LockedResolve, instead of treating the first miss as fatal.
	OnLockMiss func(target string, err error)
}

// ClampTime returns the clamp time this run should use: Options.SourceDateEpoch if set, otherwise
// fallback.
func (o Options) ClampTime(fallback time.Time) time.Time {
	if o.SourceDateEpoch != nil {
		return *o.SourceDateEpoch
	}
	return fallback
}
