// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package lockselect ranks the LockedResolves of a Lockfile against a Target's compatibility
// tags, and picks the best one -- the "LockSelector" of §4.4.
package lockselect

import (
	"errors"
	"regexp"

	"github.com/datawire/pexcore/internal/lockfile"
	"github.com/datawire/pexcore/internal/pep345"
	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pep440"
	"github.com/datawire/pexcore/internal/target"
)

// ErrUnrankable is returned when no LockedResolve in a Lockfile ranks against the given Target.
var ErrUnrankable = errors.New("lockselect: no locked resolve ranks against this target")

// wheelTagRe extracts the "substring after the second '-' and before '.whl'" tag component named
// by §4.4, without the stricter validation ParseFilename performs for installation purposes.
var wheelTagRe = regexp.MustCompile(`^[^-]+-[^-]+-(.+)\.whl$`)

func wheelTag(filename string) (pep425.Tag, bool) {
	m := wheelTagRe.FindStringSubmatch(filename)
	if m == nil {
		return pep425.Tag{}, false
	}
	parts := regexp.MustCompile(`-`).Split(m[1], 3)
	if len(parts) != 3 {
		return pep425.Tag{}, false
	}
	return pep425.Tag{Python: parts[0], ABI: parts[1], Platform: parts[2]}, true
}

// artifactRank implements the per-artifact ranking rule of §4.4: a source archive always ranks
// exactly one worse than the worst possible wheel rank (N); a wheel ranks at the best (lowest)
// index among its decompressed compatibility tags that the target supports; ok is false if no
// rank could be determined (unknown tag, or a yanked artifact with a non-yanked alternative
// available -- callers filter those out before calling this).
func artifactRank(a lockfile.Artifact, tags pep425.SupportedTags) (rank int, ok bool) {
	n := len(tags)
	if a.IsSource() {
		return n, true
	}
	if !a.IsWheel() {
		return 0, false
	}
	tag, valid := wheelTag(a.Filename())
	if !valid {
		return 0, false
	}
	best := -1
	for _, expanded := range tag.Decompress() {
		for i, supported := range tags {
			if expanded == supported && (best == -1 || i < best) {
				best = i
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// requirementRank implements the "minimum over its artifact ranks" rule; if a requirement's
// requires_python constraint rejects the target's interpreter version, the requirement (and hence
// the whole resolve) is unrankable.
func requirementRank(req lockfile.LockedRequirement, t target.Target, tags pep425.SupportedTags) (rank int, ok bool) {
	if req.RequiresPython != "" && t.Kind != target.KindPlatform {
		haveVer, err := pep440.ParseVersion(t.InterpreterVersion())
		if err == nil {
			have, matchErr := pep345.HaveRequiredPython(*haveVer, req.RequiresPython)
			if matchErr == nil && !have {
				return 0, false
			}
		}
	}

	best := -1
	nonYankedSeen := false
	for _, a := range req.Artifacts {
		if !a.Yanked {
			nonYankedSeen = true
		}
	}
	for _, a := range req.Artifacts {
		if a.Yanked && nonYankedSeen {
			// PEP 592: skip yanked artifacts when a non-yanked alternative exists.
			continue
		}
		if r, ok := artifactRank(a, tags); ok {
			if best == -1 || r < best {
				best = r
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// Rank computes the average-requirement-rank of resolve against target's supported tags. ok is
// false if the resolve is unrankable (some requirement has no rankable artifact).
func Rank(resolve lockfile.LockedResolve, t target.Target) (avg float64, ok bool) {
	if len(resolve.LockedRequirements) == 0 {
		return 0, true
	}
	var sum int
	for _, req := range resolve.LockedRequirements {
		r, ok := requirementRank(req, t, t.Tags)
		if !ok {
			return 0, false
		}
		sum += r
	}
	return float64(sum) / float64(len(resolve.LockedRequirements)), true
}

// Select picks the best-ranked LockedResolve in lf for t: lowest average requirement rank,
// lexicographic tie-break on platform tag string. Returns ErrUnrankable if none of lf's
// LockedResolves rank against t.
func Select(lf *lockfile.Lockfile, t target.Target) (*lockfile.LockedResolve, error) {
	var best *lockfile.LockedResolve
	var bestRank float64
	for i := range lf.LockedResolves {
		resolve := &lf.LockedResolves[i]
		rank, ok := Rank(*resolve, t)
		if !ok {
			continue
		}
		switch {
		case best == nil:
			best, bestRank = resolve, rank
		case rank < bestRank:
			best, bestRank = resolve, rank
		case rank == bestRank && resolve.PlatformTag.String() < best.PlatformTag.String():
			best, bestRank = resolve, rank
		}
	}
	if best == nil {
		return nil, ErrUnrankable
	}
	return best, nil
}
