// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package target models the runtime a resolve must satisfy: either a concrete interpreter, a bare
// platform tag triple, or both.
//
// This is the tagged-variant redesign called for in place of the original's duck-typed "might or
// might not have an interpreter" object: Kind distinguishes the three cases explicitly, and
// CanBuild is a function of Kind rather than of optional-field presence.
package target

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/datawire/pexcore/internal/pep425"
)

// Kind distinguishes the three legal shapes of a Target.
type Kind int

const (
	// KindInterpreter targets a concrete interpreter binary; it can both build from source and
	// install wheels.
	KindInterpreter Kind = iota
	// KindPlatform targets a bare platform tag triple with no interpreter; it can install
	// compatible wheels but cannot build from source.
	KindPlatform
	// KindBoth carries both an interpreter and an explicit platform tag triple (e.g. a
	// cross-compilation target whose tags differ from the interpreter doing the building).
	KindBoth
)

// A Target is an Interpreter(path), a Platform(tag_triple), or Both -- never a duck-typed object
// whose capabilities depend on which fields happen to be set.
type Target struct {
	Kind Kind

	// InterpreterPath is set for KindInterpreter and KindBoth.
	InterpreterPath string

	// PlatformTag is set for KindPlatform and KindBoth.
	PlatformTag pep425.Tag

	// Tags is the ordered (most-specific-first) list of compatibility tags this target
	// accepts. For KindInterpreter this is normally populated by introspecting the
	// interpreter; for KindPlatform it is just PlatformTag, and for KindBoth the caller supplies
	// it alongside PlatformTag.
	Tags pep425.SupportedTags

	// PythonVersion is the PEP 440 version string of the target's interpreter, used to check
	// requires_python constraints at lock-selection time. Empty for KindPlatform, which has no
	// interpreter to introspect.
	PythonVersion string
}

// InterpreterVersion returns PythonVersion. It is a method (rather than a bare field read) so
// that callers outside this package go through one accessor regardless of which Kind they hold.
func (t Target) InterpreterVersion() string {
	return t.PythonVersion
}

// CanBuild reports whether this target can build source distributions, per §3: "a target with
// only a platform cannot build from source."
func (t Target) CanBuild() bool {
	return t.Kind == KindInterpreter || t.Kind == KindBoth
}

// ID is a stable short string used in cache paths; it must differ whenever the supported-tag set
// differs, per the data model's invariant.
func (t Target) ID() string {
	parts := make([]string, len(t.Tags))
	for i, tag := range t.Tags {
		parts[i] = tag.String()
	}
	sort.Strings(parts)
	h := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(h[:])[:16]
}

// NewInterpreter builds a Target from an interpreter path and its introspected supported tags.
func NewInterpreter(path string, tags pep425.SupportedTags) Target {
	return Target{Kind: KindInterpreter, InterpreterPath: path, Tags: tags}
}

// NewPlatform builds a Target from a bare platform tag triple. Its supported tags are just that
// one tag -- a platform-only target has no introspected interpreter to enumerate a richer tag
// list, so it can only ever rank wheels that match this exact triple.
func NewPlatform(tag pep425.Tag) Target {
	return Target{Kind: KindPlatform, PlatformTag: tag, Tags: pep425.SupportedTags{tag}}
}

// NewBoth builds a Target carrying both an interpreter and an explicit tag triple.
func NewBoth(path string, tag pep425.Tag, tags pep425.SupportedTags) Target {
	return Target{Kind: KindBoth, InterpreterPath: path, PlatformTag: tag, Tags: tags}
}
