// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pyplat describes the installation target's interpreter: its shebang paths, install
// scheme (purelib/platlib/headers/scripts/data), version, magic number, supported tags, and
// optional bytecode compiler. This is the non-Docker half of what the original's platform
// descriptor covers -- the half that matters once OCI image assembly is out of scope.
package pyplat

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pep440"
)

// ChrootPrefix is the stash directory the auxiliary install-scheme categories (headers, scripts,
// data) are re-rooted under inside an install chroot, per §4.7.
const ChrootPrefix = ".prefix"

// Compiler takes source .py files under pythonPath and emits compiled .pyc FileReferences. The
// ordering of the output is undefined; it never includes directories.
type Compiler func(ctx context.Context, clampTime time.Time, pythonPath []string, in []chrootfs.FileReference) ([]chrootfs.FileReference, error)

// Platform is everything the Builder/Installer stages need to know about one target interpreter.
type Platform struct {
	ConsoleShebang   string // e.g. "/usr/bin/python3"
	GraphicalShebang string

	Scheme Scheme

	UID   int
	GID   int
	UName string
	GName string

	VersionInfo *VersionInfo
	MagicNumber []byte
	Tags        pep425.SupportedTags

	PyCompile Compiler `json:"-"`
}

// VersionInfo mirrors CPython's sys.version_info, the structured form the declarative platform
// description (§6) decodes into before this package derives a PEP 440 Version from it.
type VersionInfo struct {
	Major        int    `json:"major" toml:"major"`
	Minor        int    `json:"minor" toml:"minor"`
	Micro        int    `json:"micro" toml:"micro"`
	ReleaseLevel string `json:"releaselevel" toml:"release_level"` // "alpha", "beta", "candidate", or "final"
	Serial       int    `json:"serial" toml:"serial"`
}

// PEP440 renders VersionInfo as the pep440.Version used to evaluate requires_python constraints.
func (vi VersionInfo) PEP440() (*pep440.Version, error) {
	ret := pep440.Version{
		Release: []int{vi.Major, vi.Minor, vi.Micro},
	}
	switch vi.ReleaseLevel {
	case "alpha":
		ret.Pre = &pep440.PreRelease{L: "a", N: 0}
	case "beta":
		ret.Pre = &pep440.PreRelease{L: "b", N: 0}
	case "candidate":
		ret.Pre = &pep440.PreRelease{L: "rc", N: 0}
	case "final":
		ret.Pre = nil
	default:
		return nil, fmt.Errorf("pyplat: invalid version_info.release_level: %q", vi.ReleaseLevel)
	}
	return &ret, nil
}

// Scheme is the set of installation directories a wheel's contents get spread across, matching
// distutils.command.install.SCHEME_KEYS/INSTALL_SCHEMES.
type Scheme struct {
	PureLib string `json:"purelib" toml:"purelib"` // e.g. "/usr/lib/python3.9/site-packages"
	PlatLib string `json:"platlib" toml:"platlib"` // e.g. "/usr/lib64/python3.9/site-packages"
	Headers string `json:"headers" toml:"headers"` // e.g. "/usr/include/python3.9/$name/"
	Scripts string `json:"scripts" toml:"scripts"` // e.g. "/usr/bin"
	Data    string `json:"data" toml:"data"`       // e.g. "/usr"
}

// Init normalizes shebangs (falling back one to the other when only one is given) and validates
// that every scheme directory is an absolute path, as reported by a real interpreter's sysconfig
// (or a declarative platform file describing one). This describes the target's live filesystem,
// not the install-chroot layout the Installer actually writes to -- see ForChroot for that.
func (plat *Platform) Init() error {
	if plat.ConsoleShebang == "" && plat.GraphicalShebang == "" {
		return fmt.Errorf("pyplat: platform specifies no shebang path")
	}
	if plat.ConsoleShebang == "" {
		plat.ConsoleShebang = plat.GraphicalShebang
	}
	if plat.GraphicalShebang == "" {
		plat.GraphicalShebang = plat.ConsoleShebang
	}
	for _, pair := range []struct {
		name string
		val  string
	}{
		{"purelib", plat.Scheme.PureLib},
		{"platlib", plat.Scheme.PlatLib},
		{"headers", plat.Scheme.Headers},
		{"scripts", plat.Scheme.Scripts},
		{"data", plat.Scheme.Data},
	} {
		if !filepath.IsAbs(pair.val) {
			return fmt.Errorf("pyplat: install scheme %q is not an absolute path: %q", pair.name, pair.val)
		}
	}
	return nil
}

// ForChroot returns a copy of plat whose Scheme has been replaced with the deterministic
// install-chroot layout (§4.7): purelib/platlib are flattened to the chroot root (both are
// content that belongs on sys.path, and merging them is how a single chroot serves whichever one
// a given wheel picks via Root-Is-Purelib), while the auxiliary headers/scripts/data directories
// -- which describe locations outside of sys.path on a real install -- are re-rooted under
// ChrootPrefix so they don't collide with package content placed at the chroot root. plat's own
// Scheme (e.g. a live interpreter's real, absolute sysconfig paths) is discarded entirely; a
// chroot install never reuses those paths as destinations.
func (plat Platform) ForChroot() Platform {
	plat.Scheme = Scheme{
		PureLib: "",
		PlatLib: "",
		Headers: path.Join(ChrootPrefix, "headers"),
		Scripts: path.Join(ChrootPrefix, "scripts"),
		Data:    path.Join(ChrootPrefix, "data"),
	}
	return plat
}
