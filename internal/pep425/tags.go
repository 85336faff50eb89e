// Package pep425 implements PEP 425 -- Compatibility Tags for Built Distributions.
//
// https://www.python.org/dev/peps/pep-0425/
package pep425

import (
	"strings"
)

// A Tag is a compatibility tag triple: (python_tag, abi_tag, platform_tag).
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

// Decompress expands a tag whose components may themselves be dot-separated lists (as permitted by
// PEP 425 for wheel filenames that are compatible with more than one tag) into the full cartesian
// product of concrete tags.
func (t Tag) Decompress() []Tag {
	var ret []Tag
	for _, x := range strings.Split(t.Python, ".") {
		for _, y := range strings.Split(t.ABI, ".") {
			for _, z := range strings.Split(t.Platform, ".") {
				ret = append(ret, Tag{x, y, z})
			}
		}
	}
	return ret
}

func (t Tag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// Intersect returns whether any tag in tag-list 'a' matches any tag in tag-list 'b', considering
// compressed tag sets.
func Intersect(a, b []Tag) bool {
	for _, a1 := range a {
		for _, a2 := range a1.Decompress() {
			for _, b1 := range b {
				for _, b2 := range b1.Decompress() {
					if a2 == b2 {
						return true
					}
				}
			}
		}
	}
	return false
}

// SupportedTags is an ordered list of tags that a Target supports, from most-preferred to
// least-preferred. This is the concrete realization of a Target's "supported compatibility tags".
//
// To get this for a live Python install, use the command:
//
//	python -c $'import packaging.tags\nfor tag in packaging.tags.sys_tags(): print(tag)'
type SupportedTags []Tag

func (inst SupportedTags) Supports(t Tag) bool {
	return Intersect([]Tag(inst), []Tag{t})
}

// Rank returns the 1-indexed position of the first tag in inst that is compatible with t; used as
// the tag_rank in LockSelector ranking. If no tag in inst is compatible, it returns len(inst)+1;
// subtracting one gives the "index in supported_tags, 0-indexed, N if unranked" form used by §4.4.
func (inst SupportedTags) Rank(t Tag) int {
	for i, it := range inst {
		if Intersect([]Tag{it}, []Tag{t}) {
			return i + 1
		}
	}
	return len(inst) + 1
}
