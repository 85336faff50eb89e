// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pexcore/internal/jobs"
	"github.com/datawire/pexcore/internal/pipeline"
)

func TestAttributeComputesMarkerIntersection(t *testing.T) {
	runner := jobs.NewRunner(1)
	wheels := []pipeline.InstalledWheel{
		{Filename: "foo-1.0-py3-none-any.whl", ChrootDir: "/cache/foo"},
	}

	spawn := func(ctx context.Context, w pipeline.InstalledWheel) (jobs.SpawnedJob, error) {
		return jobs.SpawnedJob{
			Wait: func() error { return nil },
			Result: func() (interface{}, error) {
				return []byte(`[{"name":"foo","version":"1.0","requires_dist":[]}]`), nil
			},
		}, nil
	}

	markersFor := func(name string) []string {
		if name == "foo" {
			return []string{`sys_platform=="linux"`, `python_version<"3.8"`, `sys_platform=="linux"`}
		}
		return nil
	}

	out, err := pipeline.Attribute(context.Background(), runner, wheels, spawn, markersFor)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, `foo==1.0; (python_version<"3.8") and (sys_platform=="linux")`, out[0].RequirementString)
	assert.Equal(t, "/cache/foo", out[0].DistributionLocation)
}

func TestAttributeNoMarkersYieldsBarePin(t *testing.T) {
	runner := jobs.NewRunner(1)
	wheels := []pipeline.InstalledWheel{
		{Filename: "foo-1.0-py3-none-any.whl", ChrootDir: "/cache/foo"},
	}
	spawn := func(ctx context.Context, w pipeline.InstalledWheel) (jobs.SpawnedJob, error) {
		return jobs.SpawnedJob{
			Wait:   func() error { return nil },
			Result: func() (interface{}, error) { return []byte(`[{"name":"foo","version":"1.0"}]`), nil },
		}, nil
	}

	out, err := pipeline.Attribute(context.Background(), runner, wheels, spawn, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "foo==1.0", out[0].RequirementString)
}

func TestAttributeDerivesMarkersFromRequiresDistEdges(t *testing.T) {
	runner := jobs.NewRunner(1)
	wheels := []pipeline.InstalledWheel{
		{Filename: "foo-1.0-py3-none-any.whl", ChrootDir: "/cache/foo"},
	}

	// "foo" reports a conditional dependency on "bar"; bar's own requirement string never
	// appeared anywhere but this, yet bar must still pick up the marker on install.
	spawn := func(ctx context.Context, w pipeline.InstalledWheel) (jobs.SpawnedJob, error) {
		return jobs.SpawnedJob{
			Wait: func() error { return nil },
			Result: func() (interface{}, error) {
				return []byte(`[
					{"name":"foo","version":"1.0","requires_dist":["bar; sys_platform==\"linux\""]},
					{"name":"bar","version":"2.0","requires_dist":[]}
				]`), nil
			},
		}, nil
	}

	out, err := pipeline.Attribute(context.Background(), runner, wheels, spawn, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "foo==1.0", out[0].RequirementString)
	assert.Equal(t, `bar==2.0; sys_platform=="linux"`, out[1].RequirementString)
}

func TestAttributeOneMarker(t *testing.T) {
	runner := jobs.NewRunner(1)
	wheels := []pipeline.InstalledWheel{
		{Filename: "foo-1.0-py3-none-any.whl", ChrootDir: "/cache/foo"},
	}
	spawn := func(ctx context.Context, w pipeline.InstalledWheel) (jobs.SpawnedJob, error) {
		return jobs.SpawnedJob{
			Wait:   func() error { return nil },
			Result: func() (interface{}, error) { return []byte(`[{"name":"foo","version":"1.0"}]`), nil },
		}, nil
	}
	markersFor := func(name string) []string { return []string{`sys_platform=="linux"`} }

	out, err := pipeline.Attribute(context.Background(), runner, wheels, spawn, markersFor)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, `foo==1.0; sys_platform=="linux"`, out[0].RequirementString)
}
