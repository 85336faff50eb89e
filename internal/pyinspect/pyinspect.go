// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pyinspect determines information about a local Python environment: the platform
// description (§2.2 expansion) is normally supplied by a declarative TOML file, but this package
// derives the same information by asking a real interpreter, for use by the platform-detection
// CLI command and for local development.
package pyinspect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/datawire/dlib/dexec"

	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pyplat"
)

type FileInfo interface {
	fs.FileInfo
	UID() int
	GID() int
	UName() string
	GName() string
}

type fileInfo struct {
	fs.FileInfo
	uid, gid     int
	uname, gname string
}

func (fi *fileInfo) UID() int      { return fi.uid }
func (fi *fileInfo) GID() int      { return fi.gid }
func (fi *fileInfo) UName() string { return fi.uname }
func (fi *fileInfo) GName() string { return fi.gname }

type FS interface {
	// Split mimics path/filepath.Split.
	Split(path string) (dir, file string)

	// Join mimics path/filepath.Join.
	Join(elem ...string) string

	// Stat mimics os.Stat, but
	//
	//  1. with the additional requirement that name must be an absolute path
	//  2. the FileInfo also exposes ownership information.
	Stat(name string) (FileInfo, error)

	// LookPath mimics os/exec.LookPath, but io/fs.PathError is used instead of exec.Error.
	LookPath(file string) (string, error)
}

// Shebangs takes an interpreter command (like "python3") and turns it into a pair of paths to put
// after the "#!" in a shebang: the console (non-"w") interpreter and the graphical ("w"-suffixed,
// on platforms that have one) interpreter.
func Shebangs(sys FS, generic string) (console, graphical string, err error) {
	generic, err = sys.LookPath(generic)
	if err != nil {
		return "", "", err
	}

	console = generic
	if dirPart, filePart := sys.Split(console); strings.HasPrefix(filePart, "pythonw") {
		if withoutW, err := sys.LookPath(sys.Join(dirPart, "python"+strings.TrimPrefix(filePart, "pythonw"))); err == nil {
			console = withoutW
		}
	}

	graphical = generic
	if dirPart, filePart := sys.Split(console); strings.HasPrefix(filePart, "python") &&
		!strings.HasPrefix(filePart, "pythonw") {
		if withW, err := sys.LookPath(sys.Join(dirPart, "pythonw"+strings.TrimPrefix(filePart, "python"))); err == nil {
			graphical = withW
		}
	}

	return console, graphical, nil
}

// DynamicInfo is the raw JSON shape a live interpreter reports about itself.
type DynamicInfo struct {
	MagicNumberB64 string            `json:"MagicNumberB64"`
	Tags           []string          `json:"Tags"`
	VersionInfo    pyplat.VersionInfo `json:"VersionInfo"`
	Scheme         pyplat.Scheme      `json:"Scheme"`
}

// MagicNumber decodes the pyc magic number reported by the interpreter.
func (di *DynamicInfo) MagicNumber() ([]byte, error) {
	return base64.StdEncoding.DecodeString(di.MagicNumberB64)
}

// SupportedTags parses the "python_tag-abi_tag-platform_tag" strings packaging.tags.sys_tags()
// reports into structured pep425.Tags, most-preferred first (the order sys_tags() yields them in).
func (di *DynamicInfo) SupportedTags() (pep425.SupportedTags, error) {
	ret := make(pep425.SupportedTags, 0, len(di.Tags))
	for _, str := range di.Tags {
		parts := strings.SplitN(str, "-", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("pyinspect: invalid compatibility tag: %q", str)
		}
		ret = append(ret, pep425.Tag{Python: parts[0], ABI: parts[1], Platform: parts[2]})
	}
	return ret, nil
}

// Dynamic invokes cmdline (a Python interpreter plus any leading arguments) and asks it to report
// its magic number, supported compatibility tags, version_info, and install scheme.
func Dynamic(ctx context.Context, cmdline ...string) (*DynamicInfo, error) {
	cmd := dexec.CommandContext(ctx, cmdline[0], append(cmdline[1:], "-c", `
import json
import sys
from base64 import b64encode
from importlib.util import MAGIC_NUMBER
from packaging.tags import sys_tags
from pip._internal.locations import get_scheme

version_info_slots = ['major', 'minor', 'micro', 'releaselevel', 'serial']

scheme = get_scheme("")

json.dump({
  "MagicNumberB64": b64encode(MAGIC_NUMBER).decode('utf-8'),
  "Tags": [str(tag) for tag in sys_tags()],
  "VersionInfo": {slot: getattr(sys.version_info, slot) for slot in version_info_slots},
  "Scheme": {slot: getattr(scheme, slot) for slot in scheme.__slots__},
}, sys.stdout)
`)...)
	cmd.DisableLogging = true
	bs, err := cmd.Output()
	if err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%w:\n > %s", err,
				strings.Join(strings.Split(string(exitErr.Stderr), "\n"), "\n > "))
		}
		return nil, fmt.Errorf("pyinspect: running Python: %w", err)
	}
	var data DynamicInfo
	if err := json.Unmarshal(bs, &data); err != nil {
		return nil, fmt.Errorf("pyinspect: %w", err)
	}
	return &data, nil
}
