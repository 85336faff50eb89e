// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pycompile builds a pyplat.Compiler backed by an external "python -m compileall"
// invocation, for the Installer's optional bytecode-compilation step (§4.7, §2.3 supplement).
package pycompile

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/datawire/dlib/dexec"

	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/pyplat"
)

// External returns a pyplat.Compiler that shells out to cmdline (expected to be something like
// "python3", "-m", "compileall") to turn .py sources into .pyc files, the same way the original
// implementation's wheel installer invokes CPython's compileall module rather than reimplementing
// the bytecode compiler.
func External(cmdline ...string) (pyplat.Compiler, error) {
	if len(cmdline) == 0 {
		return nil, fmt.Errorf("pycompile: empty command line")
	}
	exe, err := dexec.LookPath(cmdline[0])
	if err != nil {
		return nil, fmt.Errorf("pycompile: %w", err)
	}
	exe, err = filepath.Abs(exe)
	if err != nil {
		return nil, fmt.Errorf("pycompile: %w", err)
	}

	return func(ctx context.Context, clampTime time.Time, pythonPath []string, in []chrootfs.FileReference) (_ []chrootfs.FileReference, err error) {
		maybeSetErr := func(_err error) {
			if _err != nil && err == nil {
				err = _err
			}
		}

		tmpdir, err := os.MkdirTemp("", "pexcore-pycompile.")
		if err != nil {
			return nil, fmt.Errorf("pycompile: %w", err)
		}
		defer func() {
			maybeSetErr(os.RemoveAll(tmpdir))
		}()

		for _, inFile := range in {
			if err := writeSource(tmpdir, inFile); err != nil {
				return nil, err
			}
		}

		cmd := dexec.CommandContext(ctx, exe, append(cmdline[1:],
			"-s", tmpdir, // strip-dir for the in-.pyc filename
			"-p", "/", // prepend-dir for the in-.pyc filename
			tmpdir,
		)...)
		cmd.Env = append(os.Environ(), "PYTHONHASHSEED=0")
		if len(pythonPath) > 0 {
			var pythonPathEnv []string
			for _, dir := range pythonPath {
				pythonPathEnv = append(pythonPathEnv, filepath.Join(tmpdir, filepath.FromSlash(dir)))
			}
			if e := os.Getenv("PYTHONPATH"); e != "" {
				pythonPathEnv = append(pythonPathEnv, e)
			}
			cmd.Env = append(cmd.Env, "PYTHONPATH="+strings.Join(pythonPathEnv, string(filepath.ListSeparator)))
		}
		if !clampTime.IsZero() {
			cmd.Env = append(cmd.Env, fmt.Sprintf("SOURCE_DATE_EPOCH=%d", clampTime.Unix()))
		}

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("pycompile: %w", err)
		}

		return readCompiled(tmpdir)
	}, nil
}

func writeSource(tmpdir string, inFile chrootfs.FileReference) (err error) {
	maybeSetErr := func(_err error) {
		if _err != nil && err == nil {
			err = _err
		}
	}

	tmpfilename := filepath.Join(tmpdir, filepath.FromSlash(inFile.FullName()))
	if err := os.MkdirAll(filepath.Dir(tmpfilename), 0o777); err != nil {
		return err
	}

	inReader, err := inFile.Open()
	if err != nil {
		return err
	}
	defer func() {
		maybeSetErr(inReader.Close())
	}()

	outWriter, err := os.Create(tmpfilename)
	if err != nil {
		return err
	}
	defer func() {
		maybeSetErr(outWriter.Close())
	}()

	if _, err := io.Copy(outWriter, inReader); err != nil {
		return err
	}
	return os.Chtimes(tmpfilename, inFile.ModTime(), inFile.ModTime())
}

func readCompiled(tmpdir string) ([]chrootfs.FileReference, error) {
	var ret []chrootfs.FileReference
	dirFS := os.DirFS(tmpdir)
	err := fs.WalkDir(dirFS, ".", func(p string, d fs.DirEntry, e error) error {
		if e != nil {
			return e
		}
		if d.IsDir() || !strings.HasSuffix(p, ".pyc") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fh, err := dirFS.Open(p)
		if err != nil {
			return err
		}
		defer func() {
			_ = fh.Close()
		}()
		content, err := io.ReadAll(fh)
		if err != nil {
			return err
		}
		ret = append(ret, &chrootfs.InMemFileReference{
			FileInfo:  info,
			MFullName: p,
			MContent:  content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pycompile: %w", err)
	}
	return ret, nil
}
