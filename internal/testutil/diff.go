// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/karrick/godirwalk"
	"github.com/pmezard/go-difflib/difflib"
)

// DumpDirListing walks root (using godirwalk, the same sorted, low-allocation traversal the
// content-addressed cache uses to fingerprint source directories) and renders a `ls -l`-style
// listing, one line per entry, in sorted path order.
func DumpDirListing(root string) (str string, err error) {
	var entries []string
	err = godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			info, err := os.Lstat(path)
			if err != nil {
				return err
			}
			var size int64
			if info.Mode().IsRegular() {
				size = info.Size()
			}
			entries = append(entries, strings.Join([]string{
				"",
				info.Mode().String(),
				fmt.Sprintf("% 10d", size),
				filepath.ToSlash(rel),
			}, "\t"))
			return nil
		},
	})
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	sort.Strings(entries)

	ret := new(strings.Builder)
	table := tabwriter.NewWriter(ret, 0, 1, 1, ' ', 0)
	for _, entry := range entries {
		if _, err := fmt.Fprintln(table, entry); err != nil {
			return "", err
		}
	}
	if err := table.Flush(); err != nil {
		return "", err
	}
	return ret.String(), nil
}

// DumpDirFull is like DumpDirListing, but also includes file contents, for a second-pass
// comprehensive diff once the listings already match.
func DumpDirFull(root string) (str string, err error) {
	spewConfig := spew.ConfigState{ //nolint:exhaustivestruct
		Indent:                  "  ",
		DisableCapacities:       true,
		DisablePointerAddresses: true,
		SortKeys:                true,
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	sort.Strings(paths)

	ret := new(strings.Builder)
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(ret, "%s mode=%s", filepath.ToSlash(rel), info.Mode()); err != nil {
			return "", err
		}
		if info.Mode().IsRegular() {
			content, err := os.ReadFile(full)
			if err != nil {
				return "", err
			}
			if _, err := fmt.Fprintf(ret, " content=%s", spewConfig.Sdump(content)); err != nil {
				return "", err
			}
		}
		if _, err := fmt.Fprintln(ret); err != nil {
			return "", err
		}
	}
	return ret.String(), nil
}

// AssertEqualDirs compares two chroot directory trees the way the teacher's AssertEqualLayers
// compared OCI tar layers: a fast listing diff first (for a readable failure), then a full
// content diff.
func AssertEqualDirs(t *testing.T, exp, act string) bool {
	t.Helper()

	expStr, err := DumpDirListing(exp)
	if err != nil {
		t.Errorf("error dumping expected dir listing: %v", err)
		return false
	}
	actStr, err := DumpDirListing(act)
	if err != nil {
		t.Errorf("error dumping actual dir listing: %v", err)
		return false
	}
	if expStr != actStr {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expStr),
			B:        difflib.SplitLines(actStr),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		t.Errorf("Listing diff:\n%s", diff)
		return false
	}

	expStr, err = DumpDirFull(exp)
	if err != nil {
		t.Errorf("error dumping expected dir: %v", err)
		return false
	}
	actStr, err = DumpDirFull(act)
	if err != nil {
		t.Errorf("error dumping actual dir: %v", err)
		return false
	}
	if expStr != actStr {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expStr),
			B:        difflib.SplitLines(actStr),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  10,
		})
		t.Errorf("Full diff:\n%s", diff)
		return false
	}

	return true
}
