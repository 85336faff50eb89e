// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package lockfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/lockfile"
)

func sample() *lockfile.Lockfile {
	return &lockfile.Lockfile{
		PexVersion:      "1.0.0",
		ResolverVersion: lockfile.ResolverVersionPip2020,
		Requirements:    []string{"zed", "cowsay==5.0"},
		Constraints:     []string{},
		AllowWheels:     true,
		Transitive:      true,
		LockedResolves: []lockfile.LockedResolve{
			{
				PlatformTag: lockfile.PlatformTag{"cp39", "cp39", "manylinux_2_33_x86_64"},
				LockedRequirements: []lockfile.LockedRequirement{
					{
						ProjectName: "cowsay",
						Version:     "5.0",
						Artifacts: []lockfile.Artifact{
							{URL: "https://example/cowsay-5.0-py3-none-any.whl", Algorithm: "sha256", Hash: "deadbeef"},
						},
						Direct: true,
					},
				},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	orig := sample()
	data, err := lockfile.Marshal(orig)
	require.NoError(t, err)

	got, err := lockfile.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, orig, got)

	data2, err := lockfile.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestRequirementsSortedOnWrite(t *testing.T) {
	orig := sample()
	data, err := lockfile.Marshal(orig)
	require.NoError(t, err)

	got, err := lockfile.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"cowsay==5.0", "zed"}, got.Requirements)
}

func TestDuplicatePlatformTagRejected(t *testing.T) {
	l := sample()
	l.LockedResolves = append(l.LockedResolves, l.LockedResolves[0])
	_, err := lockfile.Marshal(l)
	assert.Error(t, err)
}

func TestArtifactClassification(t *testing.T) {
	wheel := lockfile.Artifact{URL: "https://example/foo-1.0-py3-none-any.whl"}
	assert.True(t, wheel.IsWheel())
	assert.False(t, wheel.IsSource())

	src := lockfile.Artifact{URL: "https://example/foo-1.0.tar.gz"}
	assert.False(t, src.IsWheel())
	assert.True(t, src.IsSource())
}
