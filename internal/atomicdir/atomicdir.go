// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package atomicdir implements race-safe, crash-safe promotion of a working directory to a
// stable, content-addressed target directory.
//
// The design is a direct port of the locking discipline used by the Python original this tool is
// modeled on: a lock file is opened for write-only access next to the target directory, an
// exclusive blocking lock is taken on its file descriptor, existence of the target directory is
// checked both before and after acquiring the lock (double-checked locking), and the lock is
// released purely by closing the fd -- so a dead process can never leave a stale lock behind.
package atomicdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theckman/go-flock"
	"golang.org/x/sys/unix"
)

// A LockStyle selects which flavor of advisory file locking guards an AtomicDirectory's lock
// file. Both styles are released automatically when the owning process's file descriptor table
// is torn down, so neither needs stale-lock recovery logic.
type LockStyle int

const (
	// LockStylePOSIX uses POSIX byte-range advisory locks (fcntl(2) F_SETLKW), realized here via
	// golang.org/x/sys/unix.FcntlFlock.
	LockStylePOSIX LockStyle = iota
	// LockStyleBSD uses BSD whole-file locks (flock(2)), realized here via
	// github.com/theckman/go-flock.
	LockStyleBSD
)

// A Dir is a cache-slot primitive guaranteeing that TargetDir is either absent, or present and
// fully populated -- never partial.
type Dir struct {
	workDir   string
	targetDir string
	finalized bool
	lockPath  string
	posixLock *os.File
	bsdLock   *flock.Flock
	lockHeld  bool
}

// WorkDir is the sibling scratch directory that is populated before being promoted to TargetDir.
func (d *Dir) WorkDir() string { return d.workDir }

// TargetDir is the stable, content-addressed directory this Dir promotes to.
func (d *Dir) TargetDir() string { return d.targetDir }

// IsFinalized reports whether TargetDir already exists and this Dir's caller has no work to do.
func (d *Dir) IsFinalized() bool { return d.finalized }

// lockFileName returns the ".<tail>.atomic_directory.lck" name for the given target_dir, using
// the literal "here" when tail is empty (e.g. a target_dir with a trailing separator), per the
// fixed naming rule.
func lockFileName(targetDir string) (dir, name string) {
	dir, tail := filepath.Split(targetDir)
	if tail == "" {
		tail = "here"
	}
	return dir, fmt.Sprintf(".%s.atomic_directory.lck", tail)
}

func isFinalized(targetDir string) bool {
	_, err := os.Stat(targetDir)
	return err == nil
}

// Enter acquires a scoped, exclusive cross-process lock keyed by targetDir, and returns a handle
// to the (possibly already-finalized) AtomicDirectory.
//
// Callers MUST call Close on the returned Dir exactly once, on every exit path, to release the
// lock. On success, callers populate WorkDir() and then call Finalize; on failure, they must call
// Cleanup themselves before Close -- Close only releases the lock fd and never touches work_dir.
func Enter(targetDir string, style LockStyle) (*Dir, error) {
	rawTargetDir := targetDir
	targetDir = filepath.Clean(targetDir)
	d := &Dir{
		workDir:   targetDir + ".workdir",
		targetDir: targetDir,
	}

	if isFinalized(targetDir) {
		d.finalized = true
		return d, nil
	}

	parent, lockName := lockFileName(rawTargetDir)
	if parent != "" {
		if err := os.MkdirAll(parent, 0o777); err != nil {
			return nil, err
		}
	}
	d.lockPath = filepath.Join(parent, lockName)

	switch style {
	case LockStyleBSD:
		bl := flock.New(d.lockPath)
		if err := bl.Lock(); err != nil {
			return nil, fmt.Errorf("atomicdir: acquiring BSD lock: %w", err)
		}
		d.bsdLock = bl
	default:
		fh, err := os.OpenFile(d.lockPath, os.O_CREATE|os.O_WRONLY, 0o666)
		if err != nil {
			return nil, fmt.Errorf("atomicdir: opening lock file: %w", err)
		}
		lockSpec := unix.Flock_t{
			Type:   unix.F_WRLCK,
			Whence: 0,
			Start:  0,
			Len:    0,
		}
		if err := unix.FcntlFlock(fh.Fd(), unix.F_SETLKW, &lockSpec); err != nil {
			_ = fh.Close()
			return nil, fmt.Errorf("atomicdir: acquiring POSIX lock: %w", err)
		}
		d.posixLock = fh
	}
	d.lockHeld = true

	// Double-checked: we may have raced another process between the Stat above and the lock
	// acquisition just now.
	if isFinalized(targetDir) {
		d.finalized = true
		return d, nil
	}

	// If mkdir fails for any reason other than already-exists, the locking invariant has been
	// violated by something outside this process's control; let the caller see that as fatal.
	if err := os.Mkdir(d.workDir, 0o777); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Finalize performs the atomic rename work_dir -> target_dir. If the rename loses a race (the
// destination now exists, or is non-empty), the loss is swallowed: target_dir is left untouched
// and work_dir is removed.
func (d *Dir) Finalize() error {
	if d.finalized {
		return nil
	}
	err := os.Rename(d.workDir, d.targetDir)
	if err != nil && !isRaceLostRenameErr(err) {
		return err
	}
	d.finalized = true
	return os.RemoveAll(d.workDir)
}

// isRaceLostRenameErr reports whether err is the "destination exists" or "destination not empty"
// rename failure that signals we lost the race to populate target_dir -- not a real error.
func isRaceLostRenameErr(err error) bool {
	return errors.Is(err, unix.EEXIST) || errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, os.ErrExist)
}

// Cleanup recursively removes work_dir. It is safe to call even if work_dir was never created.
func (d *Dir) Cleanup() error {
	return os.RemoveAll(d.workDir)
}

// Close releases the lock fd. Callers that are exiting on a failure path should call Cleanup
// first; Close never finalizes.
func (d *Dir) Close() error {
	if !d.lockHeld {
		return nil
	}
	d.lockHeld = false
	if d.bsdLock != nil {
		return d.bsdLock.Unlock()
	}
	if d.posixLock != nil {
		unlockSpec := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: 0, Len: 0}
		_ = unix.FcntlFlock(d.posixLock.Fd(), unix.F_SETLK, &unlockSpec)
		return d.posixLock.Close()
	}
	return nil
}
