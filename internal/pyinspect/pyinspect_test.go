// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pyinspect_test

import (
	"io/fs"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/pyinspect"
)

// fakeFS is a minimal in-memory FS for exercising Shebangs without touching the real $PATH.
type fakeFS struct {
	bin map[string]string // basename -> full path, simulating what LookPath would resolve
}

type fakeFileInfo struct{ name string }

func (fi fakeFileInfo) Name() string       { return fi.name }
func (fi fakeFileInfo) Size() int64        { return 0 }
func (fi fakeFileInfo) Mode() fs.FileMode  { return 0o755 }
func (fi fakeFileInfo) ModTime() time.Time { return time.Unix(0, 0) }
func (fi fakeFileInfo) IsDir() bool        { return false }
func (fi fakeFileInfo) Sys() interface{}   { return nil }
func (fi fakeFileInfo) UID() int           { return 0 }
func (fi fakeFileInfo) GID() int           { return 0 }
func (fi fakeFileInfo) UName() string      { return "root" }
func (fi fakeFileInfo) GName() string      { return "root" }

func (f fakeFS) Split(p string) (string, string) {
	dir, file := path.Split(p)
	return dir, file
}

func (f fakeFS) Join(elem ...string) string { return path.Join(elem...) }

func (f fakeFS) Stat(name string) (pyinspect.FileInfo, error) {
	_, file := f.Split(name)
	if _, ok := f.bin[file]; !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fakeFileInfo{name: file}, nil
}

func (f fakeFS) LookPath(file string) (string, error) {
	resolved, ok := f.bin[file]
	if !ok {
		return "", &fs.PathError{Op: "lookpath", Path: file, Err: fs.ErrNotExist}
	}
	return resolved, nil
}

func TestShebangsFindsGraphicalSibling(t *testing.T) {
	sys := fakeFS{bin: map[string]string{
		"python3":  "/usr/bin/python3",
		"pythonw3": "/usr/bin/pythonw3",
	}}
	console, graphical, err := pyinspect.Shebangs(sys, "python3")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3", console)
	assert.Equal(t, "/usr/bin/pythonw3", graphical)
}

func TestShebangsFallsBackWithoutGraphicalSibling(t *testing.T) {
	sys := fakeFS{bin: map[string]string{
		"python3": "/usr/bin/python3",
	}}
	console, graphical, err := pyinspect.Shebangs(sys, "python3")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3", console)
	assert.Equal(t, "/usr/bin/python3", graphical)
}

func TestShebangsNormalizesFromGraphicalGeneric(t *testing.T) {
	sys := fakeFS{bin: map[string]string{
		"pythonw3": "/usr/bin/pythonw3",
		"python3":  "/usr/bin/python3",
	}}
	console, graphical, err := pyinspect.Shebangs(sys, "pythonw3")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3", console)
	assert.Equal(t, "/usr/bin/pythonw3", graphical)
}

func TestShebangsPropagatesLookPathError(t *testing.T) {
	sys := fakeFS{bin: map[string]string{}}
	_, _, err := pyinspect.Shebangs(sys, "python3")
	require.Error(t, err)
}

func TestDynamicInfoMagicNumber(t *testing.T) {
	di := &pyinspect.DynamicInfo{MagicNumberB64: "YWJjZA=="}
	raw, err := di.MagicNumber()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), raw)
}

func TestDynamicInfoMagicNumberRejectsInvalidBase64(t *testing.T) {
	di := &pyinspect.DynamicInfo{MagicNumberB64: "not-valid-base64!!"}
	_, err := di.MagicNumber()
	require.Error(t, err)
}

func TestDynamicInfoSupportedTags(t *testing.T) {
	di := &pyinspect.DynamicInfo{Tags: []string{
		"cp39-cp39-manylinux_2_17_x86_64",
		"py3-none-any",
	}}
	tags, err := di.SupportedTags()
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "cp39", tags[0].Python)
	assert.Equal(t, "cp39", tags[0].ABI)
	assert.Equal(t, "manylinux_2_17_x86_64", tags[0].Platform)
	assert.Equal(t, "py3", tags[1].Python)
	assert.Equal(t, "none", tags[1].ABI)
	assert.Equal(t, "any", tags[1].Platform)
}

func TestDynamicInfoSupportedTagsRejectsMalformed(t *testing.T) {
	di := &pyinspect.DynamicInfo{Tags: []string{"onlyonepart"}}
	_, err := di.SupportedTags()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid compatibility tag"))
}
