// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package toolexec_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pipeline"
	"github.com/datawire/pexcore/internal/target"
	"github.com/datawire/pexcore/internal/toolexec"
)

// argvCaptureCmdline returns a cmdline whose subprocess dumps its received arguments, one per
// line, into outFile.
func argvCaptureCmdline(outFile string) []string {
	return []string{"sh", "-c", `for a in "$@"; do printf '%s\n' "$a"; done > "` + outFile + `"`, "sh"}
}

func TestResolverBuildsExpectedArgs(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "argv.txt")
	spawn := toolexec.Resolver(argvCaptureCmdline(outFile), []string{"https://example/simple"}, []string{"/srv/wheels"})

	tgt := target.NewInterpreter("/usr/bin/python3", pep425.SupportedTags{{Python: "py3", ABI: "none", Platform: "any"}})
	req := pipeline.ResolveRequest{
		Requirements:     []string{"foo==1.0"},
		RequirementFiles: []string{"reqs.txt"},
		AllowWheels:      true,
		Transitive:       true,
	}

	job, err := spawn(context.Background(), tgt, "/tmp/downloads", req)
	require.NoError(t, err)
	require.NoError(t, job.Wait())
	_, err = job.Result()
	require.NoError(t, err)

	bs, err := os.ReadFile(outFile)
	require.NoError(t, err)
	argv := string(bs)
	for _, want := range []string{
		"--download-dir", "/tmp/downloads",
		"--interpreter", "/usr/bin/python3",
		"--index", "https://example/simple",
		"--find-links", "/srv/wheels",
		"--allow-wheels",
		"--transitive",
		"--requirement", "reqs.txt",
		"foo==1.0",
	} {
		assert.Contains(t, argv, want)
	}
	assert.NotContains(t, argv, "--allow-builds")
}

func TestBuilderPassesSourceAndOutDir(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "argv.txt")
	spawn := toolexec.Builder(argvCaptureCmdline(outFile))

	tgt := target.NewInterpreter("/usr/bin/python3", nil)
	req := pipeline.BuildRequest{Target: tgt, SourcePath: "/src/bar-2.0.tar.gz"}

	job, err := spawn(context.Background(), req, "/tmp/out")
	require.NoError(t, err)
	require.NoError(t, job.Wait())

	bs, err := os.ReadFile(outFile)
	require.NoError(t, err)
	argv := string(bs)
	assert.Contains(t, argv, "--source")
	assert.Contains(t, argv, "/src/bar-2.0.tar.gz")
	assert.Contains(t, argv, "--out-dir")
	assert.Contains(t, argv, "/tmp/out")
}

func TestIntrospectorCapturesStdoutJSON(t *testing.T) {
	want := `[{"name":"foo","version":"1.0","requires_dist":[]}]`
	cmdline := []string{"sh", "-c", "printf '%s' '" + want + "'"}
	spawn := toolexec.Introspector(cmdline)

	wheel := pipeline.InstalledWheel{Filename: "foo-1.0-py3-none-any.whl", ChrootDir: "/cache/foo"}
	job, err := spawn(context.Background(), wheel)
	require.NoError(t, err)
	require.NoError(t, job.Wait())

	raw, err := job.Result()
	require.NoError(t, err)
	bs, ok := raw.([]byte)
	require.True(t, ok)
	assert.True(t, strings.Contains(string(bs), `"name":"foo"`))
}
