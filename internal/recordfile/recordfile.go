// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package recordfile writes the three bookkeeping files the recording-installed-packages
// specification asks an installer to leave behind: RECORD, INSTALLER, and REQUESTED.
// https://packaging.python.org/en/latest/specifications/recording-installed-packages/
package recordfile

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/datawire/pexcore/internal/bdist"
	"github.com/datawire/pexcore/internal/chrootfs"
	"github.com/datawire/pexcore/internal/pyhash"
)

const defaultHashAlgorithm = "sha256"

// fileInfo is the minimal fs.FileInfo for a synthesized regular file.
type fileInfo struct {
	name  string
	size  int64
	mtime time.Time
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) Mode() fs.FileMode  { return 0o644 }
func (i fileInfo) ModTime() time.Time { return i.mtime }
func (i fileInfo) IsDir() bool        { return false }
func (i fileInfo) Sys() interface{}   { return nil }

func newFileRef(fullName string, content []byte, mtime time.Time) *chrootfs.InMemFileReference {
	return &chrootfs.InMemFileReference{
		FileInfo:  fileInfo{name: path.Base(fullName), size: int64(len(content)), mtime: mtime},
		MFullName: fullName,
		MContent:  content,
	}
}

// WriteInstaller returns a bdist.PostInstallHook that writes {dist-info}/INSTALLER, naming the
// tool responsible for the install (e.g. "pex").
func WriteInstaller(installer string) bdist.PostInstallHook {
	return func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error {
		content := []byte(installer + "\n")
		fullName := path.Join(installedDistInfoDir, "INSTALLER")
		vfs[fullName] = newFileRef(fullName, content, clampTime)
		return nil
	}
}

// WriteRequested returns a bdist.PostInstallHook that writes {dist-info}/REQUESTED, marking the
// distribution as having been installed by direct user request rather than as a dependency.
// marker, if non-empty, is written as a "# "-prefixed comment line.
func WriteRequested(marker string) bdist.PostInstallHook {
	return func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error {
		var content []byte
		if marker != "" {
			content = []byte("# " + marker + "\n")
		}
		fullName := path.Join(installedDistInfoDir, "REQUESTED")
		vfs[fullName] = newFileRef(fullName, content, clampTime)
		return nil
	}
}

// WriteRecord returns a bdist.PostInstallHook that writes {dist-info}/RECORD last, hashing every
// other file currently in vfs with hashName (default sha256). A .pyc file's hash and size columns
// are left blank, matching pip's own behavior for generated bytecode.
func WriteRecord(hashName string) bdist.PostInstallHook {
	if hashName == "" {
		hashName = defaultHashAlgorithm
	}
	return func(ctx context.Context, clampTime time.Time, vfs map[string]chrootfs.FileReference, installedDistInfoDir string) error {
		newHasher, ok := pyhash.AlgorithmsGuaranteed[hashName]
		if !ok {
			return fmt.Errorf("recordfile: unsupported hash algorithm: %q", hashName)
		}
		hasher := newHasher()

		baseDir := path.Dir(installedDistInfoDir)
		recordName := path.Join(installedDistInfoDir, "RECORD")

		rows := [][]string{{strings.TrimPrefix(recordName, baseDir+"/"), "", ""}}
		for fullName, file := range vfs {
			if file.IsDir() || fullName == recordName {
				continue
			}
			row, err := recordRow(file, hashName, hasher, baseDir)
			if err != nil {
				return fmt.Errorf("recordfile: recording %q: %w", fullName, err)
			}
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		w.UseCRLF = true
		if err := w.WriteAll(rows); err != nil {
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}

		vfs[recordName] = newFileRef(recordName, buf.Bytes(), clampTime)
		return nil
	}
}

func recordRow(file chrootfs.FileReference, hashName string, hasher hash.Hash, baseDir string) ([]string, error) {
	name := strings.TrimPrefix(file.FullName(), baseDir+"/")

	if strings.HasSuffix(name, ".pyc") {
		return []string{name, "", ""}, nil
	}

	hasher.Reset()
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	size, err := io.Copy(hasher, rc)
	if err != nil {
		return nil, err
	}
	hashsum := hashName + "=" + base64.RawURLEncoding.EncodeToString(hasher.Sum(nil))
	return []string{name, hashsum, strconv.FormatInt(size, 10)}, nil
}
