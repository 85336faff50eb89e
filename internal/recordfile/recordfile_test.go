// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package recordfile_test

import (
	"context"
	"encoding/csv"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/recordfile"
)

type fakeInfo struct {
	name string
	size int64
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (i fakeInfo) ModTime() time.Time { return time.Unix(0, 0) }
func (i fakeInfo) IsDir() bool        { return false }
func (i fakeInfo) Sys() interface{}   { return nil }

func TestWriteRecordHashesEveryFile(t *testing.T) {
	vfs := map[string]chrootfs.FileReference{
		"usr/lib/python3/site-packages/example/__init__.py": &chrootfs.InMemFileReference{
			FileInfo:  fakeInfo{name: "__init__.py", size: 12},
			MFullName: "usr/lib/python3/site-packages/example/__init__.py",
			MContent:  []byte("print('hi')\n"),
		},
		"usr/lib/python3/site-packages/example/__pycache__/__init__.cpython-39.pyc": &chrootfs.InMemFileReference{
			FileInfo:  fakeInfo{name: "__init__.cpython-39.pyc", size: 4},
			MFullName: "usr/lib/python3/site-packages/example/__pycache__/__init__.cpython-39.pyc",
			MContent:  []byte("\x00\x00\x00\x00"),
		},
	}

	hook := recordfile.WriteRecord("")
	require.NoError(t, hook(context.Background(), time.Unix(0, 0), vfs, "usr/lib/python3/site-packages/example-1.0.dist-info"))

	recordRef, ok := vfs["usr/lib/python3/site-packages/example-1.0.dist-info/RECORD"]
	require.True(t, ok)
	rc, err := recordRef.Open()
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)

	byName := make(map[string][]string)
	for _, row := range rows {
		byName[row[0]] = row
	}

	require.Contains(t, byName, "example-1.0.dist-info/RECORD")
	assert.Equal(t, []string{"example-1.0.dist-info/RECORD", "", ""}, byName["example-1.0.dist-info/RECORD"])

	require.Contains(t, byName, "example/__init__.py")
	assert.True(t, strings.HasPrefix(byName["example/__init__.py"][1], "sha256="))
	assert.Equal(t, "12", byName["example/__init__.py"][2])

	require.Contains(t, byName, "example/__pycache__/__init__.cpython-39.pyc")
	assert.Equal(t, "", byName["example/__pycache__/__init__.cpython-39.pyc"][1])
}

func TestWriteInstallerAndRequested(t *testing.T) {
	vfs := map[string]chrootfs.FileReference{}

	require.NoError(t, recordfile.WriteInstaller("pex")(context.Background(), time.Unix(0, 0), vfs, "dist-info"))
	installerRef, ok := vfs["dist-info/INSTALLER"]
	require.True(t, ok)
	rc, err := installerRef.Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "pex\n", string(data))

	require.NoError(t, recordfile.WriteRequested("")(context.Background(), time.Unix(0, 0), vfs, "dist-info"))
	requestedRef, ok := vfs["dist-info/REQUESTED"]
	require.True(t, ok)
	rc2, err := requestedRef.Open()
	require.NoError(t, err)
	data2, _ := io.ReadAll(rc2)
	_ = rc2.Close()
	assert.Empty(t, data2)
}
