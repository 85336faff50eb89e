// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"path/filepath"

	"github.com/datawire/pexcore/internal/target"
)

// BuildRequest names a source (archive or local project directory) that must be translated to
// one or more wheels for a given Target, per §3.
type BuildRequest struct {
	Target             target.Target
	SourcePath         string
	ContentFingerprint string
}

// basename is the final path component of SourcePath, used both for cache-slot naming and for
// distinguishing InstallRequests by wheel filename.
func (r BuildRequest) basename() string {
	return filepath.Base(filepath.Clean(r.SourcePath))
}

// kind is "local_projects" for a directory source, "sdists" for an archive file, matching the
// cache layout's "sdists|local_projects" tier split.
func (r BuildRequest) kind(isDir bool) string {
	if isDir {
		return "local_projects"
	}
	return "sdists"
}

// InstallRequest names a single wheel file that must be installed into its own chroot for a given
// Target, per §3. Two InstallRequests with the same WheelFilename (regardless of Target or
// WheelPath) are deduped to a single install in stage 3 (§4.7).
type InstallRequest struct {
	Target           target.Target
	WheelPath        string
	WheelFingerprint string
}

// WheelFilename is the basename InstallRequests are deduped by across all targets.
func (r InstallRequest) WheelFilename() string {
	return filepath.Base(r.WheelPath)
}

// ResolvedDistribution is the pipeline's final output tuple: a fully pinned, marker-qualified
// requirement string paired with the chroot directory it was installed into, per §4.8.
type ResolvedDistribution struct {
	RequirementString    string
	DistributionLocation string
}
