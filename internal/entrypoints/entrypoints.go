// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package entrypoints materializes console_scripts/gui_scripts trampoline files out of an
// installed wheel's entry_points.txt, per the PyPA entry points specification:
// https://packaging.python.org/en/latest/specifications/entry-points/
package entrypoints

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/datawire/pexcore/internal/bdist"
	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/pyconfig"
	"github.com/datawire/pexcore/internal/pyplat"
)

//nolint:gochecknoglobals // parsed once at init, like the teacher's own script template
var scriptTmpl = template.Must(template.
	New("entry_point.py").
	Parse(`#!{{ .Shebang }}
# -*- coding: utf-8 -*-
import importlib, sys
object_ref = "{{ .ObjectRef }}"
modname, sep, qualname = object_ref.partition(':')
entry = importlib.import_module(modname)
if sep:
    for a in qualname.split('.'): entry = getattr(entry, a)
if __name__ == '__main__':
    sys.exit(entry())
`))

//nolint:gochecknoglobals // see scriptTmpl
var configParser = func() *pyconfig.ConfigParser {
	parser := pyconfig.NewConfigParser()
	parser.OptionTransform = func(str string) string { return str }
	parser.Delimiters = []string{"="}
	return parser
}()

// scriptInfo is the fs.FileInfo for a generated trampoline script: always a regular,
// group/other-readable executable file, per the "chmod'd executable" requirement.
type scriptInfo struct {
	name  string
	size  int64
	mtime time.Time
}

func (i scriptInfo) Name() string       { return i.name }
func (i scriptInfo) Size() int64        { return i.size }
func (i scriptInfo) Mode() fs.FileMode  { return 0o755 }
func (i scriptInfo) ModTime() time.Time { return i.mtime }
func (i scriptInfo) IsDir() bool        { return false }
func (i scriptInfo) Sys() interface{}   { return nil }

// reObjectRef is lax on the "[extras]" suffix; extras don't affect which function the generated
// script calls.
var reObjectRef = regexp.MustCompile(`^(?P<callable>\w+([:.]\w+)*)(?:\s*\[.*\])?$`)

// CreateScripts returns a bdist.PostInstallHook that reads the freshly-installed
// {distribution}-{version}.dist-info/entry_points.txt (if present) and writes one trampoline
// script per console_scripts/gui_scripts entry into plat.Scheme.Scripts. plat is expected to
// already be chroot-relative (pyplat.Platform.ForChroot) and shebang-normalized
// (pyplat.Platform.Init), as every real caller arranges before invoking this hook.
func CreateScripts(plat pyplat.Platform) bdist.PostInstallHook {
	return func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error {
		configFile, ok := vfs[path.Join(installedDistInfoDir, "entry_points.txt")]
		if !ok {
			return nil
		}
		configReader, err := configFile.Open()
		if err != nil {
			return err
		}
		defer func() { _ = configReader.Close() }()

		configData, err := configParser.Parse(configReader)
		if err != nil {
			return fmt.Errorf("entrypoints: parse entry_points.txt: %w", err)
		}

		interesting := map[string]string{
			"console_scripts": plat.ConsoleShebang,
			"gui_scripts":     plat.GraphicalShebang,
		}

		for sectionName, shebang := range interesting {
			sectionData, ok := configData[sectionName]
			if !ok {
				continue
			}
			for name, ref := range sectionData {
				m := reObjectRef.FindStringSubmatch(ref)
				if m == nil {
					return fmt.Errorf("entrypoints: entry_points.txt: %q: %q: not a function reference: %q", sectionName, name, ref)
				}
				objectRef := m[reObjectRef.SubexpIndex("callable")]
				if strings.Count(objectRef, ":") != 1 {
					return fmt.Errorf("entrypoints: entry_points.txt: %q: %q: not a module:qualname reference: %q", sectionName, name, ref)
				}

				var buf bytes.Buffer
				if err := scriptTmpl.Execute(&buf, map[string]string{
					"Shebang":   shebang,
					"ObjectRef": objectRef,
				}); err != nil {
					return fmt.Errorf("entrypoints: %s: %s: %w", sectionName, name, err)
				}

				scriptPath := path.Join(plat.Scheme.Scripts, name)
				vfs[scriptPath] = &chrootfs.InMemFileReference{
					FileInfo:  scriptInfo{name: name, size: int64(buf.Len()), mtime: clampTime},
					MFullName: scriptPath,
					MContent:  buf.Bytes(),
				}
			}
		}
		return nil
	}
}
