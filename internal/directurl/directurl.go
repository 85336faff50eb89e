// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package directurl implements the PyPA specification for Recording the Direct URL Origin of
// installed distributions (PEP 610): https://packaging.python.org/en/latest/specifications/direct-url/
package directurl

import (
	"context"
	"io/fs"
	"path"
	"time"

	"github.com/datawire/pexcore/internal/bdist"
	"github.com/datawire/pexcore/internal/chrootfs"
)

type DirectURL struct {
	URL         string       `json:"url"`
	VCSInfo     *VCSInfo     `json:"vcs_info,omitempty"`     // if URL is a VCS reference
	ArchiveInfo *ArchiveInfo `json:"archive_info,omitempty"` // if URL is a sdist or bdist
	DirInfo     *DirInfo     `json:"dir_info,omitempty"`     // if URL is a local directory
}

type VCSInfo struct {
	VCS               string `json:"vcs"`
	RequestedRevision string `json:"requested_revision,omitempty"`
	CommitID          string `json:"commit_id"`
}

type ArchiveInfo struct {
	Hash string `json:"hash,omitempty"`
}

type DirInfo struct {
	Editable bool `json:"editable,omitempty"`
}

// fileInfo is the minimal fs.FileInfo for a synthesized regular file, used by every writer in
// this package; internal/recordfile declares its own equivalent.
type fileInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	mtime time.Time
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) Mode() fs.FileMode  { return i.mode }
func (i fileInfo) ModTime() time.Time { return i.mtime }
func (i fileInfo) IsDir() bool        { return false }
func (i fileInfo) Sys() interface{}   { return nil }

func newFileRef(fullName string, content []byte, mtime time.Time) *chrootfs.InMemFileReference {
	return &chrootfs.InMemFileReference{
		FileInfo:  fileInfo{name: path.Base(fullName), size: int64(len(content)), mode: 0o644, mtime: mtime},
		MFullName: fullName,
		MContent:  content,
	}
}

// Record returns a bdist.PostInstallHook that writes {dist-info}/direct_url.json recording where
// the installed distribution came from.
func Record(urlData DirectURL) bdist.PostInstallHook {
	return func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error {
		bs, err := jsonDumps(urlData)
		if err != nil {
			return err
		}
		fullName := path.Join(installedDistInfoDir, "direct_url.json")
		vfs[fullName] = newFileRef(fullName, bs, clampTime)
		return nil
	}
}
