// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package lockfile defines the on-disk bit-contract for a lockfile: a JSON document pinning a set
// of requirements to concrete, per-platform resolved artifacts.
//
// The schema and the "sort by string key on write, round-trip must preserve semantic equality"
// discipline are drawn from the PEX lockfile this tool's pipeline is modeled on
// (_examples/original_source/pex/cli/commands/lockfile/lockfile.py describes the same shape in
// the original implementation); the Go realization follows the teacher's habit (see
// pkg/python/pypa/direct_url/json.go) of a small, explicit JSON-tagged struct tree rather than a
// generic map.
package lockfile

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Artifact is a downloadable file (wheel or source archive) that can satisfy a LockedRequirement.
type Artifact struct {
	URL       string `json:"url"`
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
	// Yanked records whether the originating index reported this release as yanked (PEP 592).
	// Absent (false) for artifacts recorded before this field existed, which round-trips fine
	// since yanked=false is the zero value.
	Yanked bool `json:"yanked,omitempty"`
}

// Filename is the basename of the artifact's URL path.
func (a Artifact) Filename() string {
	i := len(a.URL) - 1
	for i >= 0 && a.URL[i] != '/' {
		i--
	}
	return a.URL[i+1:]
}

var sourceSuffixes = []string{".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".zip", ".sdist"}

// IsWheel reports whether this artifact's filename classifies it as a wheel.
func (a Artifact) IsWheel() bool {
	return hasSuffix(a.Filename(), ".whl")
}

// IsSource reports whether this artifact's filename classifies it as a source archive.
func (a Artifact) IsSource() bool {
	name := a.Filename()
	for _, suffix := range sourceSuffixes {
		if hasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// LockedRequirement is a fully-pinned requirement within one LockedResolve.
type LockedRequirement struct {
	ProjectName string `json:"project_name"`
	Version     string `json:"version"`
	// RequiresPython is a PEP 440 version-specifier string, or "" if unconstrained.
	RequiresPython string     `json:"requires_python,omitempty"`
	RequiresDists  []string   `json:"requires_dists,omitempty"`
	Artifacts      []Artifact `json:"artifacts"`
	// Direct records whether this requirement was given directly by the user, as opposed to
	// being discovered transitively; used to decide whether to write a REQUESTED marker
	// (§4.7, §2.3 supplement).
	Direct bool `json:"direct,omitempty"`
}

// PlatformTag is the 3-string `(python_tag, abi_tag, platform_tag)` triple identifying which
// target family a LockedResolve was produced for.
type PlatformTag [3]string

// MarshalJSON renders PlatformTag as a plain 3-element JSON array, per §6.
func (p PlatformTag) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{p[0], p[1], p[2]})
}

// UnmarshalJSON parses a plain 3-element JSON array into a PlatformTag.
func (p *PlatformTag) UnmarshalJSON(data []byte) error {
	var arr [3]string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("lockfile: platform_tag: %w", err)
	}
	*p = arr
	return nil
}

func (p PlatformTag) String() string {
	return p[0] + "-" + p[1] + "-" + p[2]
}

// LockedResolve is an ordered set of LockedRequirement for one PlatformTag.
type LockedResolve struct {
	PlatformTag        PlatformTag         `json:"platform_tag"`
	LockedRequirements []LockedRequirement `json:"locked_requirements"`
}

// ResolverVersion distinguishes the wire format/semantics version of the external resolver that
// produced this lockfile's artifact set.
type ResolverVersion string

const (
	ResolverVersionPip2020  ResolverVersion = "pip-2020-resolver"
	ResolverVersionPipLegacy ResolverVersion = "pip-legacy-resolver"
)

// Lockfile is the full on-disk document: version metadata, global resolver options, the set of
// LockedResolve, and the input requirement strings that produced them.
type Lockfile struct {
	PexVersion      string          `json:"pex_version"`
	ResolverVersion ResolverVersion `json:"resolver_version"`
	Requirements    []string        `json:"requirements"`
	Constraints     []string        `json:"constraints"`
	AllowPrereleases bool           `json:"allow_prereleases"`
	AllowWheels      bool           `json:"allow_wheels"`
	AllowBuilds      bool           `json:"allow_builds"`
	Transitive       bool           `json:"transitive"`
	LockedResolves   []LockedResolve `json:"locked_resolves"`
}

// Validate enforces the data model invariant that no two LockedResolve within one Lockfile share
// a platform tag.
func (l *Lockfile) Validate() error {
	seen := make(map[PlatformTag]bool, len(l.LockedResolves))
	for _, lr := range l.LockedResolves {
		if seen[lr.PlatformTag] {
			return fmt.Errorf("lockfile: duplicate platform_tag %s", lr.PlatformTag)
		}
		seen[lr.PlatformTag] = true
	}
	return nil
}

// Normalize sorts Requirements, Constraints, and LockedResolves by string key, as required by
// §6's "sorted by string key on write" ordering rule. Call this before Marshal to get a
// canonical, round-trippable encoding.
func (l *Lockfile) Normalize() {
	sort.Strings(l.Requirements)
	sort.Strings(l.Constraints)
	sort.Slice(l.LockedResolves, func(i, j int) bool {
		return l.LockedResolves[i].PlatformTag.String() < l.LockedResolves[j].PlatformTag.String()
	})
	for i := range l.LockedResolves {
		reqs := l.LockedResolves[i].LockedRequirements
		sort.Slice(reqs, func(a, b int) bool {
			return reqs[a].ProjectName < reqs[b].ProjectName
		})
	}
}

// Marshal normalizes and JSON-encodes the Lockfile.
func Marshal(l *Lockfile) ([]byte, error) {
	l.Normalize()
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(l, "", "  ")
}

// Unmarshal parses a Lockfile and validates its platform-tag-uniqueness invariant.
func Unmarshal(data []byte) (*Lockfile, error) {
	var l Lockfile
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("lockfile: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}
