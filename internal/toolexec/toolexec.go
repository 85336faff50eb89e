// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package toolexec adapts the external resolver/builder/introspector subprocess contracts of §6
// into the pipeline package's Spawner function types, the same way pycompile adapts an external
// "python -m compileall" invocation into a pyplat.Compiler: a thin argv-building wrapper around
// github.com/datawire/dlib/dexec, not a reimplementation of what the subprocess does.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dexec"

	"github.com/datawire/pexcore/internal/jobs"
	"github.com/datawire/pexcore/internal/pipeline"
	"github.com/datawire/pexcore/internal/target"
)

// targetArgs renders a target.Target into the flags an external subprocess in this family
// expects for "a target specification (either a concrete interpreter binary or a platform tag
// triple)" (§6).
func targetArgs(t target.Target) []string {
	var args []string
	if t.InterpreterPath != "" {
		args = append(args, "--interpreter", t.InterpreterPath)
	}
	if t.Kind == target.KindPlatform || t.Kind == target.KindBoth {
		args = append(args, "--platform-tag", t.PlatformTag.String())
	}
	return args
}

// Resolver returns a pipeline.ResolveSpawner that invokes cmdline (e.g. []string{"pex-resolve"})
// once per target, per the external resolver subprocess contract (§6): indexes, find-links,
// prerelease/wheel/build/transitive toggles, the target spec, a download directory, and the
// requirements/requirement-files/constraint-files, exiting 0 on success with the download
// directory populated.
func Resolver(cmdline []string, indexes, findLinks []string) pipeline.ResolveSpawner {
	return func(ctx context.Context, t target.Target, downloadDir string, req pipeline.ResolveRequest) (jobs.SpawnedJob, error) {
		args := append([]string{}, cmdline[1:]...)
		args = append(args, "--download-dir", downloadDir)
		args = append(args, targetArgs(t)...)
		for _, idx := range indexes {
			args = append(args, "--index", idx)
		}
		for _, fl := range findLinks {
			args = append(args, "--find-links", fl)
		}
		if req.AllowPrereleases {
			args = append(args, "--allow-prereleases")
		}
		if req.AllowWheels {
			args = append(args, "--allow-wheels")
		}
		if req.AllowBuilds {
			args = append(args, "--allow-builds")
		}
		if req.Transitive {
			args = append(args, "--transitive")
		}
		for _, f := range req.RequirementFiles {
			args = append(args, "--requirement", f)
		}
		for _, f := range req.ConstraintFiles {
			args = append(args, "--constraint", f)
		}
		args = append(args, req.Requirements...)

		return start(ctx, cmdline[0], args)
	}
}

// Builder returns a pipeline.BuildSpawner that invokes cmdline once per BuildRequest, per the
// external builder subprocess contract (§6): a source path, an output directory, and an
// interpreter handle, emitting one or more .whl files into the output directory.
func Builder(cmdline []string) pipeline.BuildSpawner {
	return func(ctx context.Context, req pipeline.BuildRequest, outDir string) (jobs.SpawnedJob, error) {
		args := append([]string{}, cmdline[1:]...)
		args = append(args, "--source", req.SourcePath, "--out-dir", outDir)
		args = append(args, targetArgs(req.Target)...)
		return start(ctx, cmdline[0], args)
	}
}

// Introspector returns a pipeline.IntrospectSpawner that invokes cmdline once per InstalledWheel,
// per the external introspector subprocess contract (§6): an install chroot path and an
// interpreter handle, emitting a JSON array of {name, version, requires_dist: []string} on
// stdout.
func Introspector(cmdline []string) pipeline.IntrospectSpawner {
	return func(ctx context.Context, wheel pipeline.InstalledWheel) (jobs.SpawnedJob, error) {
		args := append([]string{}, cmdline[1:]...)
		args = append(args, "--chroot", wheel.ChrootDir)
		if len(wheel.Requests) > 0 {
			args = append(args, targetArgs(wheel.Requests[0].Target)...)
		}

		job, err := start(ctx, cmdline[0], args)
		if err != nil {
			return jobs.SpawnedJob{}, err
		}
		return job, nil
	}
}

// start launches name(args...) with its stdout buffered for Result and its stderr passed through,
// returning a jobs.SpawnedJob whose Wait/Result pair the subprocess's real, asynchronous
// lifecycle rather than blocking the spawning goroutine on the whole invocation.
func start(ctx context.Context, name string, args []string) (jobs.SpawnedJob, error) {
	cmd := dexec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return jobs.SpawnedJob{}, fmt.Errorf("toolexec: starting %s: %w", name, err)
	}

	return jobs.SpawnedJob{
		Wait: cmd.Wait,
		Result: func() (interface{}, error) {
			return stdout.Bytes(), nil
		},
	}, nil
}
