// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pyinspect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/datawire/dlib/dexec"
)

// NativeFS is the real local filesystem and $PATH, for use outside of tests.
type NativeFS struct{}

var _ FS = NativeFS{}

func (NativeFS) Split(path string) (dir, file string) { return filepath.Split(path) }
func (NativeFS) Join(elem ...string) string           { return filepath.Join(elem...) }

func (NativeFS) Stat(name string) (FileInfo, error) {
	if !filepath.IsAbs(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	fileinfo, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	raw, ok := fileinfo.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fmt.Errorf("unsupported platform: no unix stat_t")}
	}
	usr, err := user.LookupId(fmt.Sprintf("%v", raw.Uid))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	grp, err := user.LookupGroupId(fmt.Sprintf("%v", raw.Gid))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileInfo{
		FileInfo: fileinfo,
		uid:      int(raw.Uid),
		gid:      int(raw.Gid),
		uname:    usr.Username,
		gname:    grp.Name,
	}, nil
}

func (NativeFS) LookPath(file string) (string, error) {
	val, err := dexec.LookPath(file)
	if err != nil {
		var eerr *dexec.Error
		if errors.As(err, &eerr) {
			err = &fs.PathError{Op: "lookpath", Path: file, Err: eerr.Err}
		}
	}
	return val, err
}
