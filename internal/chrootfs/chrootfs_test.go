// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package chrootfs_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/chrootfs"
)

type fakeInfo struct {
	name  string
	mode  fs.FileMode
	mtime time.Time
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 0 }
func (f fakeInfo) Mode() fs.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return f.mtime }
func (f fakeInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeInfo) Sys() interface{}   { return nil }

func ref(fullname string, mode fs.FileMode, content string, mtime time.Time) chrootfs.FileReference {
	base := fullname
	if i := len(fullname) - 1; i >= 0 {
		for j := i; j >= 0; j-- {
			if fullname[j] == '/' {
				base = fullname[j+1:]
				break
			}
		}
	}
	return &chrootfs.InMemFileReference{
		FileInfo:  fakeInfo{name: base, mode: mode, mtime: mtime},
		MFullName: fullname,
		MContent:  []byte(content),
	}
}

func TestWriteToDirWritesFilesAndClampsTime(t *testing.T) {
	dir := t.TempDir()
	future := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	clamp := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

	refs := []chrootfs.FileReference{
		ref("pkg", fs.ModeDir|0o777, "", future),
		ref("pkg/__init__.py", 0o644, "# package\n", future),
	}

	require.NoError(t, chrootfs.WriteToDir(dir, refs, clamp))

	data, err := os.ReadFile(filepath.Join(dir, "pkg", "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "# package\n", string(data))

	info, err := os.Stat(filepath.Join(dir, "pkg", "__init__.py"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(clamp))
}

func TestWriteToDirPreservesEarlierTimes(t *testing.T) {
	dir := t.TempDir()
	past := time.Date(1970, 6, 1, 0, 0, 0, 0, time.UTC)
	clamp := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

	refs := []chrootfs.FileReference{
		ref("a.py", 0o644, "a\n", past),
	}
	require.NoError(t, chrootfs.WriteToDir(dir, refs, clamp))

	info, err := os.Stat(filepath.Join(dir, "a.py"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past))
}
