// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pyhash maps the hash algorithm names used by the lockfile and RECORD file formats
// (Artifact.Algorithm, RECORD row checksums) onto Go hash.Hash constructors.
package pyhash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// AlgorithmsGuaranteed is Python's hashlib.algorithms_guaranteed, restricted to the algorithms pip
// and the wheel RECORD format actually use.
//
//nolint:gochecknoglobals // would be 'const' if Go allowed non-primitive consts
var AlgorithmsGuaranteed = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}
