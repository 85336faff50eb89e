// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package bdist

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/pystat"
)

// skipReader discards the first skip bytes read from inner, used to strip a wheel script's
// original "#!python"/"#!pythonw" shebang before splicing in the platform's real one.
type skipReader struct {
	skip  int
	inner io.Reader
}

func (r *skipReader) Read(p []byte) (int, error) {
	if r.skip > 0 {
		buff := make([]byte, r.skip)
		n, err := io.ReadFull(r.inner, buff)
		r.skip -= n
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}
	return r.inner.Read(p)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// zipEntry adapts a wheel zip member to chrootfs.FileReference, so the unpack-then-spread logic
// can rename and rewrite entries in place before anything is materialized to disk.
type zipEntry struct {
	header zip.FileHeader
	open   func() (io.ReadCloser, error)
}

func (f *zipEntry) FullName() string             { return path.Clean(f.header.Name) }
func (f *zipEntry) Name() string                 { return path.Base(f.FullName()) }
func (f *zipEntry) Size() int64                  { return f.header.FileInfo().Size() }
func (f *zipEntry) Mode() fs.FileMode            { return f.header.FileInfo().Mode() }
func (f *zipEntry) ModTime() time.Time           { return f.header.FileInfo().ModTime() }
func (f *zipEntry) IsDir() bool                  { return f.header.FileInfo().IsDir() }
func (f *zipEntry) Sys() interface{}             { return f.header.FileInfo().Sys() }
func (f *zipEntry) Open() (io.ReadCloser, error) { return f.open() }

var _ chrootfs.FileReference = (*zipEntry)(nil)

// rename moves a vfs entry from oldpath to newpath, used to spread a wheel's "*.data/" subtrees
// onto their install-scheme destinations.
func rename(vfs map[string]chrootfs.FileReference, oldpath, newpath string) error {
	ref, ok := vfs[oldpath]
	if !ok {
		return &os.LinkError{
			Op:  "rename",
			Old: oldpath,
			New: newpath,
			Err: os.ErrNotExist,
		}
	}
	entry, ok := ref.(*zipEntry)
	if !ok {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrInvalid}
	}
	isDir := entry.IsDir()
	entry.header.Name = newpath
	if isDir {
		entry.header.Name += "/"
	}
	delete(vfs, oldpath)
	vfs[newpath] = entry
	return nil
}

// create installs a wheel zip member into vfs under name, clamping its mtime and discarding all
// permission bits except "execute", the same way pip's wheel installer does.
func create(vfs map[string]chrootfs.FileReference, mtime time.Time, name string, content *zipEntry) {
	isDir := strings.HasSuffix(content.header.Name, "/")
	content.header.Name = name
	if isDir {
		content.header.Name += "/"
	}

	var externalAttrs pystat.ZIPExternalAttributes
	switch {
	case isDir:
		externalAttrs.UNIX = pystat.ModeFmtDir | 0o755
	case isExecutable(content.header):
		externalAttrs.UNIX = pystat.ModeFmtRegular | 0o755
	default:
		externalAttrs.UNIX = pystat.ModeFmtRegular | 0o644
	}
	content.header.CreatorVersion = 3 << 8 // force Creator=UNIX
	content.header.ExternalAttrs = externalAttrs.Raw()

	if !mtime.IsZero() && content.header.Modified.Before(mtime) {
		content.header.Modified = mtime
	}

	vfs[name] = content
}
