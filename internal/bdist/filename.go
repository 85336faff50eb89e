// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package bdist implements the wheel (binary distribution) file format: filename parsing and
// generation, the .dist-info/WHEEL and RECORD contracts, and the unpack-then-spread install
// procedure that spreads a wheel's contents onto a real filesystem chroot, per §4.7.
package bdist

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pep440"
)

// FileNameData is the parsed form of a wheel filename:
// "{distribution}-{version}(-{build tag})?-{python tag}-{abi tag}-{platform tag}.whl".
type FileNameData struct {
	Distribution     string
	Version          pep440.Version
	BuildTag         *BuildTag
	CompatibilityTag pep425.Tag
}

// BuildTag is the optional tie-breaker component of a wheel filename: an integer prefix and an
// arbitrary string suffix, e.g. "1" or "2dev0".
type BuildTag struct {
	Int int
	Str string
}

func (t BuildTag) String() string {
	return fmt.Sprintf("%d%s", t.Int, t.Str)
}

// Cmp orders BuildTags the way the spec requires: absent sorts before present, then by Int, then
// by Str.
func (a *BuildTag) Cmp(b *BuildTag) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	if d := a.Int - b.Int; d != 0 {
		return d
	}
	switch {
	case a.Str < b.Str:
		return -1
	case a.Str > b.Str:
		return 1
	default:
		return 0
	}
}

var reFilename = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
		^(?P<distribution>[^-]+)
		-(?P<version>[^-]+)
		(?:-(?P<build_n>[0-9]+)(?P<build_l>[^-0-9][^-]*)?)?
		-(?P<python>[^-]+)
		-(?P<abi>[^-]+)
		-(?P<platform>[^-]+)
		\.whl$`, ``))

// ParseFilename parses a wheel filename into its distribution, version, optional build tag, and
// compatibility tag.
func ParseFilename(filename string) (*FileNameData, error) {
	match := reFilename.FindStringSubmatch(filename)
	if match == nil {
		return nil, fmt.Errorf("bdist: invalid wheel filename: %q", filename)
	}

	var ret FileNameData
	ret.Distribution = match[reFilename.SubexpIndex("distribution")]

	ver, err := pep440.ParseVersion(match[reFilename.SubexpIndex("version")])
	if err != nil {
		return nil, fmt.Errorf("bdist: invalid wheel filename: %q: %w", filename, err)
	}
	ret.Version = *ver

	if buildN := match[reFilename.SubexpIndex("build_n")]; buildN != "" {
		n, _ := strconv.Atoi(buildN)
		ret.BuildTag = &BuildTag{Int: n, Str: match[reFilename.SubexpIndex("build_l")]}
	}

	ret.CompatibilityTag = pep425.Tag{
		Python:   match[reFilename.SubexpIndex("python")],
		ABI:      match[reFilename.SubexpIndex("abi")],
		Platform: match[reFilename.SubexpIndex("platform")],
	}

	return &ret, nil
}

var distNameEscapeRe = regexp.MustCompile(`[-_.]+`)

// GenerateFilename renders a FileNameData back into a wheel filename, escaping the distribution
// name (each run of "-", "_" and "." becomes a single "_"; letter case is kept) and normalizing
// the version (PEP 440).
func GenerateFilename(data FileNameData) (string, error) {
	var ret strings.Builder
	ret.WriteString(distNameEscapeRe.ReplaceAllLiteralString(data.Distribution, "_"))

	ver, err := data.Version.Normalize()
	if err != nil {
		return "", fmt.Errorf("bdist: %w", err)
	}
	ret.WriteString("-")
	ret.WriteString(ver.String())

	if data.BuildTag != nil {
		build := data.BuildTag.String()
		if strings.Contains(build, "-") {
			return "", fmt.Errorf("bdist: invalid build tag: contains dash: %q", build)
		}
		ret.WriteString("-")
		ret.WriteString(build)
	}

	compat := data.CompatibilityTag.String()
	if strings.Count(compat, "-") != 2 {
		return "", fmt.Errorf("bdist: invalid compatibility tag: %q", compat)
	}
	ret.WriteString("-")
	ret.WriteString(compat)
	ret.WriteString(".whl")
	return ret.String(), nil
}
