// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/pipeline"
)

func TestCacheSlotPaths(t *testing.T) {
	c := pipeline.Cache{Dir: "/cache"}
	assert.Equal(t, filepath.Join("/cache", "resolved_dists", "abc"), c.ResolvedDistsDir("abc"))
	assert.Equal(t, filepath.Join("/cache", "built_wheels", "sdists", "foo-1.0.tar.gz", "fp", "tgt"),
		c.BuiltWheelSlot("sdists", "foo-1.0.tar.gz", "fp", "tgt"))
	assert.Equal(t, filepath.Join("/cache", "installed_wheels", "fp", "foo-1.0-py3-none-any.whl"),
		c.InstalledWheelSlot("fp", "foo-1.0-py3-none-any.whl"))
}

func TestFingerprintFileIsStableAndContentSensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	a, err := pipeline.FingerprintFile(path)
	require.NoError(t, err)
	b, err := pipeline.FingerprintFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(path, []byte("world"), 0o644))
	c, err := pipeline.FingerprintFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFingerprintDirIsStableAndIgnoresPycache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg", "__pycache__"), 0o777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "a.py"), []byte("print(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "__pycache__", "a.pyc"), []byte("junk"), 0o644))

	a, err := pipeline.FingerprintDir(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "__pycache__", "a.pyc"), []byte("different junk"), 0o644))
	b, err := pipeline.FingerprintDir(dir)
	require.NoError(t, err)
	assert.Equal(t, a, b, "changing a transient file must not change the fingerprint")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "a.py"), []byte("print(2)"), 0o644))
	c, err := pipeline.FingerprintDir(dir)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "changing a real file must change the fingerprint")
}
