// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package reproducible resolves the clamp time used to normalize file mtimes across the
// Builder/Installer stages, per the SOURCE_DATE_EPOCH contract in §6.
package reproducible

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// epoch1980 is the oldest timestamp the ZIP format (and hence the wheel format) can represent;
// it is the fallback clamp time when SOURCE_DATE_EPOCH is unset, so that a build run without the
// variable still produces byte-identical output across machines instead of embedding the wall
// clock.
var epoch1980 = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

//nolint:gochecknoglobals // memoized process-wide, same as the upstream SOURCE_DATE_EPOCH contract
var (
	nowOnce sync.Once
	now     time.Time
)

// Now returns the reproducible-build clamp time: SOURCE_DATE_EPOCH if set and parseable,
// otherwise 1980-01-01T00:00:00Z. The value is read once per process.
func Now() time.Time {
	nowOnce.Do(func() {
		secs, err := strconv.ParseInt(os.Getenv("SOURCE_DATE_EPOCH"), 10, 64)
		if err == nil {
			now = time.Unix(secs, 0).UTC()
		} else {
			now = epoch1980
		}
	})
	return now
}
