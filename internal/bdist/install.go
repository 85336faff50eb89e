// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package bdist

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"strings"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/pep440"
	"github.com/datawire/pexcore/internal/pyplat"
	"github.com/datawire/pexcore/internal/pystat"
	"github.com/datawire/pexcore/internal/reproducible"
)

// specVersion is the Wheel-Version this installer implements, per the "Recommended installer
// features" section of the wheel spec.
var specVersion, _ = pep440.ParseVersion("1.0")

// PostInstallHook runs after a wheel's contents are spread into their final install-scheme
// locations but before they are written to disk, so it can add or rewrite entries -- e.g. write
// RECORD/INSTALLER/REQUESTED (§2.3 supplement) or direct_url.json. vfs keys are io/fs-style paths
// relative to the chroot root.
type PostInstallHook func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error

func PostInstallHooks(hooks ...PostInstallHook) PostInstallHook {
	if len(hooks) == 0 {
		return nil
	}
	return func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error {
		for _, hook := range hooks {
			if err := hook(ctx, clampTime, vfs, installedDistInfoDir); err != nil {
				return err
			}
		}
		return nil
	}
}

// InstallWheel spreads wheelfilename's contents onto chrootDir according to plat's install
// scheme, running hook after the spread-and-shebang-rewrite step and after bytecode compilation
// (if plat.PyCompile is set), so the hook sees any generated .pyc files.
//
// If minTime is non-zero, it clamps every extracted file's mtime upward (files are never made
// older than minTime). If maxTime is zero, it is derived from the wheel's own newest member mtime
// (so generated .pyc files can be given an mtime strictly after their source).
func InstallWheel(
	ctx context.Context,
	plat pyplat.Platform,
	minTime, maxTime time.Time,
	wheelfilename string,
	chrootDir string,
	hook PostInstallHook,
) error {
	plat, err := sanitizePlatformForChroot(plat)
	if err != nil {
		return fmt.Errorf("bdist.InstallWheel: validate platform: %w", err)
	}

	zipReader, err := zip.OpenReader(wheelfilename)
	if err != nil {
		return fmt.Errorf("bdist.InstallWheel: open wheel: %w", err)
	}
	defer func() { _ = zipReader.Close() }()

	wh := &wheel{zip: &zipReader.Reader}

	if err := wh.integrityCheck(); err != nil {
		return fmt.Errorf("bdist.InstallWheel: wheel integrity: %w", err)
	}

	if maxTime.IsZero() {
		var maxWheelTime time.Time
		for _, file := range wh.zip.File {
			if file.Modified.After(maxWheelTime) {
				maxWheelTime = file.Modified
			}
		}
		if maxWheelTime.IsZero() {
			maxTime = reproducible.Now()
		} else {
			// Add a second so generated .pyc files sort after their source .py file.
			maxTime = maxWheelTime.Round(time.Second).Add(time.Second)
		}
	}

	vfs, installedDistInfoDir, err := wh.installToVFS(ctx, plat, minTime, maxTime)
	if err != nil {
		return fmt.Errorf("bdist.InstallWheel: %w", err)
	}

	if hook != nil {
		if err := hook(ctx, maxTime, vfs, installedDistInfoDir); err != nil {
			return fmt.Errorf("bdist.InstallWheel: post-install hook: %w", err)
		}
	}

	refs := make([]chrootfs.FileReference, 0, len(vfs))
	for _, file := range vfs {
		refs = append(refs, file)
	}

	if err := chrootfs.WriteToDir(chrootDir, refs, maxTime); err != nil {
		return fmt.Errorf("bdist.InstallWheel: %w", err)
	}
	if plat.UID != 0 || plat.GID != 0 {
		for filename := range vfs {
			_ = os.Chown(path.Join(chrootDir, filename), plat.UID, plat.GID) //nolint:errcheck // best-effort outside a root-owned build
		}
	}
	return nil
}

func (wh *wheel) installToVFS(
	ctx context.Context,
	plat pyplat.Platform,
	minTime, maxTime time.Time,
) (map[string]chrootfs.FileReference, string, error) {
	// a. Parse {distribution}-{version}.dist-info/WHEEL.
	metadata, err := wh.parseDistInfoWheel()
	if err != nil {
		return nil, "", fmt.Errorf("parse .dist-info/WHEEL: %w", err)
	}
	// b. Check that installer is compatible with Wheel-Version.
	wheelVersion, err := pep440.ParseVersion(metadata.Get("Wheel-Version"))
	if err != nil {
		return nil, "", fmt.Errorf("parse Wheel-Version: %w", err)
	}
	if wheelVersion.Major() > specVersion.Major() {
		return nil, "", fmt.Errorf("wheel's Wheel-Version (%s) is not compatible with this installer", wheelVersion)
	}
	if wheelVersion.Cmp(*specVersion) > 0 {
		dlog.Warnf(ctx, "wheel's Wheel-Version (%s) is newer than this installer", wheelVersion)
	}
	// c/d. Root-Is-Purelib decides purelib vs platlib.
	var dstDir string
	if metadata.Get("Root-Is-Purelib") == "true" {
		dstDir = plat.Scheme.PureLib
	} else {
		dstDir = plat.Scheme.PlatLib
	}

	vfs := make(map[string]chrootfs.FileReference)
	for _, file := range wh.zip.File {
		create(vfs, minTime, path.Join(dstDir, file.FileHeader.Name), &zipEntry{
			header: file.FileHeader,
			open:   file.Open,
		})
	}

	// Spread: move each subtree of {distribution}-{version}.data/ onto its scheme directory.
	distInfoDir, err := wh.distInfoDir()
	if err != nil {
		panic("should not happen: already succeeded in integrityCheck")
	}
	vfsTypes := make(map[string]string)
	dataDir := path.Join(dstDir, strings.TrimSuffix(distInfoDir, ".dist-info")+".data")
	for fullName := range vfs {
		if !strings.HasPrefix(fullName, dataDir+"/") {
			continue
		}
		relName := strings.TrimPrefix(fullName, dataDir+"/")
		parts := strings.SplitN(relName, "/", 2)
		key := parts[0]
		var rest string
		if len(parts) > 1 {
			rest = parts[1]
		}

		var dstDataDir string
		switch key {
		case "purelib":
			dstDataDir = plat.Scheme.PureLib
		case "platlib":
			dstDataDir = plat.Scheme.PlatLib
		case "headers":
			dstDataDir = plat.Scheme.Headers
		case "scripts":
			dstDataDir = plat.Scheme.Scripts
		case "data":
			dstDataDir = plat.Scheme.Data
		default:
			return nil, "", fmt.Errorf("unsupported wheel data type %q: %q", key, relName)
		}
		newFullName := path.Join(dstDataDir, rest)
		vfsTypes[newFullName] = key
		if err := rename(vfs, fullName, newFullName); err != nil {
			return nil, "", fmt.Errorf("spread: %w", err)
		}
	}

	// Rewrite scripts starting with exactly "#!python" to point at the real interpreter.
	if err := rewritePython(plat, vfs, vfsTypes); err != nil {
		return nil, "", fmt.Errorf("rewrite shebangs: %w", err)
	}

	// RECORD is regenerated by a PostInstallHook (§2.3 supplement), not here.
	delete(vfs, path.Join(dstDir, distInfoDir, "RECORD"))
	delete(vfs, path.Join(dstDir, distInfoDir, "RECORD.jws"))
	delete(vfs, path.Join(dstDir, distInfoDir, "RECORD.p7s"))

	delete(vfs, path.Join(dstDir, strings.TrimSuffix(distInfoDir, ".dist-info")+".data"))

	// Compile installed .py to .pyc, if a compiler was configured.
	if plat.PyCompile != nil {
		var srcs []chrootfs.FileReference //nolint:prealloc // most entries are not .py
		for _, file := range vfs {
			if !strings.HasSuffix(file.Name(), ".py") {
				continue
			}
			srcs = append(srcs, file)
		}
		outs, err := plat.PyCompile(ctx, maxTime, []string{plat.Scheme.PureLib, plat.Scheme.PlatLib}, srcs)
		if err != nil {
			return nil, "", fmt.Errorf("py_compile: %w", err)
		}
		for _, newFile := range outs {
			vfs[newFile.FullName()] = newFile
		}
	}

	return vfs, path.Join(dstDir, distInfoDir), nil
}

func rewritePython(plat pyplat.Platform, vfs map[string]chrootfs.FileReference, vfsTypes map[string]string) error {
	for filename, key := range vfsTypes {
		if key != "scripts" {
			continue
		}
		header, err := func() ([]byte, error) {
			fh, err := vfs[filename].Open()
			if err != nil {
				return nil, err
			}
			defer func() { _ = fh.Close() }()
			return io.ReadAll(io.LimitReader(fh, int64(len("#!pythonw"))))
		}()
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(header, []byte("#!python")) {
			continue
		}

		entry, ok := vfs[filename].(*zipEntry)
		if !ok {
			continue
		}

		originalOpen := entry.open
		shebang := plat.ConsoleShebang
		skip := len("#!python")
		if bytes.Equal(header, []byte("#!pythonw")) {
			skip++
			shebang = plat.GraphicalShebang
		}
		entry.open = func() (io.ReadCloser, error) {
			inner, err := originalOpen()
			if err != nil {
				return nil, err
			}
			return readCloser{
				Reader: io.MultiReader(strings.NewReader("#!"+shebang), &skipReader{skip: skip, inner: inner}),
				Closer: inner,
			}, nil
		}
		entry.header.UncompressedSize64 += 2 + uint64(len(shebang))
		entry.header.UncompressedSize64 -= uint64(skip)

		externalAttrs := pystat.ParseZIPExternalAttributes(entry.header.ExternalAttrs)
		externalAttrs.UNIX |= 0o111
		entry.header.ExternalAttrs = externalAttrs.Raw()
	}
	return nil
}

func (wh *wheel) parseDistInfoWheel() (textproto.MIMEHeader, error) {
	infoDir, err := wh.distInfoDir()
	if err != nil {
		return nil, err
	}
	wheelFile, err := wh.Open(path.Join(infoDir, "WHEEL"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = wheelFile.Close() }()

	// textproto.Reader.ReadMIMEHeader requires a blank line to end the header; WHEEL has no
	// body, so append trailing CRLFs regardless of WHEEL's own trailing newline.
	kvReader := textproto.NewReader(bufio.NewReader(io.MultiReader(
		wheelFile,
		strings.NewReader("\r\n\r\n\r\n"),
	)))
	return kvReader.ReadMIMEHeader()
}

// sanitizePlatformForChroot validates plat's live-system description, then replaces its Scheme
// with the deterministic install-chroot layout (§4.7, pyplat.Platform.ForChroot): purelib/platlib
// at the chroot root, headers/scripts/data re-rooted under pyplat.ChrootPrefix.
func sanitizePlatformForChroot(plat pyplat.Platform) (pyplat.Platform, error) {
	if err := plat.Init(); err != nil {
		return plat, err
	}
	return plat.ForChroot(), nil
}
