// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package chrootfs writes a set of in-memory FileReferences onto a real filesystem directory
// (a "chroot" in the sense of §4.7's Installer: a directory tree standing in for what would,
// in the original implementation, be an installed virtualenv's site-packages).
//
// This adapts pkg/fsutil's FileReference/LayerFromFileReferences machinery: the same interface,
// the same path-wise (not lexical) sort, and the same clampTime discipline, but targeting
// os.WriteFile/os.Chmod instead of an OCI tar layer, since this tool has no image output stage.
package chrootfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileReference is one entry to be materialized under a chroot: a regular file, directory, or
// symlink, plus the content to write for it.
type FileReference interface {
	fs.FileInfo

	// FullName should follow io/fs rules: forward-slashes, relative (no leading "/"), relative
	// to the chroot root.
	FullName() string

	Open() (io.ReadCloser, error)
}

// InMemFileReference is a FileReference whose content is already resident in memory, for files
// synthesized by this tool (generated entry-point scripts, RECORD, direct_url.json, ...) rather
// than read from an archive member.
type InMemFileReference struct {
	fs.FileInfo
	MFullName string
	MContent  []byte
}

func (fr *InMemFileReference) FullName() string { return fr.MFullName }
func (fr *InMemFileReference) Name() string      { return path.Base(fr.MFullName) }
func (fr *InMemFileReference) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(fr.MContent))), nil
}

var _ FileReference = (*InMemFileReference)(nil)

// sortedByPath orders refs the way LayerFromFileReferences does: part-wise, not a raw string
// compare on FullName(), so that a directory's entries always sort immediately after it (since
// "-" < "/" lexically, a plain string sort would interleave "foo-bar" between "foo" and
// "foo/baz").
func sortedByPath(refs []FileReference) []FileReference {
	out := make([]FileReference, len(refs))
	copy(out, refs)
	sort.Slice(out, func(i, j int) bool {
		iParts := strings.Split(out[i].FullName(), "/")
		jParts := strings.Split(out[j].FullName(), "/")
		for idx := 0; idx < len(iParts) || idx < len(jParts); idx++ {
			var iPart, jPart string
			if idx < len(iParts) {
				iPart = iParts[idx]
			}
			if idx < len(jParts) {
				jPart = jParts[idx]
			}
			if iPart != jPart {
				return iPart < jPart
			}
		}
		return false
	})
	return out
}

// WriteToDir materializes refs under root, clamping every file's mtime/atime to clampTime (for
// reproducible builds, per §6's SOURCE_DATE_EPOCH contract) when clampTime is non-zero and the
// reference's own time is later.
func WriteToDir(root string, refs []FileReference, clampTime time.Time) error {
	for _, ref := range sortedByPath(refs) {
		dst := filepath.Join(root, filepath.FromSlash(ref.FullName()))

		switch {
		case ref.IsDir():
			if err := os.MkdirAll(dst, 0o777); err != nil {
				return fmt.Errorf("chrootfs: %w", err)
			}
			continue
		case ref.Mode()&fs.ModeSymlink != 0:
			if err := writeSymlink(ref, dst); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
			return fmt.Errorf("chrootfs: %w", err)
		}
		if err := writeRegular(ref, dst); err != nil {
			return err
		}

		mtime := ref.ModTime()
		if !clampTime.IsZero() && mtime.After(clampTime) {
			mtime = clampTime
		}
		if err := os.Chtimes(dst, mtime, mtime); err != nil {
			return fmt.Errorf("chrootfs: %w", err)
		}
	}
	return nil
}

func writeRegular(ref FileReference, dst string) (err error) {
	in, err := ref.Open()
	if err != nil {
		return fmt.Errorf("chrootfs: open %s: %w", ref.FullName(), err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, ref.Mode().Perm())
	if err != nil {
		return fmt.Errorf("chrootfs: create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("chrootfs: write %s: %w", dst, err)
	}
	return nil
}

func writeSymlink(ref FileReference, dst string) error {
	in, err := ref.Open()
	if err != nil {
		return fmt.Errorf("chrootfs: open symlink %s: %w", ref.FullName(), err)
	}
	target, err := io.ReadAll(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("chrootfs: read symlink target for %s: %w", ref.FullName(), err)
	}
	_ = os.Remove(dst)
	if err := os.Symlink(string(target), dst); err != nil {
		return fmt.Errorf("chrootfs: symlink %s: %w", dst, err)
	}
	return nil
}
