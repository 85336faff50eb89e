// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/datawire/pexcore/internal/jobs"
)

// distReport is one entry of the external introspector's stdout JSON array (§6): a distribution
// installed in a chroot, plus the dependency requirement strings its metadata declares.
type distReport struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	RequiresDist []string `json:"requires_dist"`
}

// IntrospectSpawner starts the external introspector subprocess (§6) against one installed
// chroot, emitting a JSON array of distReport on stdout.
type IntrospectSpawner func(ctx context.Context, wheel InstalledWheel) (jobs.SpawnedJob, error)

// MarkersFor reports, for one project name, any *additional* environment-marker expressions an
// upstream resolver wants folded into that distribution's accumulated marker set (§4.8), on top of
// the ones Attribute already derives itself from every introspected distribution's own
// requires_dist field (Run passes the markers of root requirement strings in through this same
// hook). A nil MarkersFor contributes nothing extra
// -- it does not disable the graph-derived markers, since those come from data this package
// collects regardless.
type MarkersFor func(projectName string) []string

// Attribute runs stage 4: for each deduplicated install group, spawn the external introspector
// (parallelized by runner) and accumulate, across all groups, every distribution it reports. Each
// report's own requires_dist field is also walked to attribute a marker to every project it names
// conditionally (requiresDistMarkerEdges) -- the incoming-edge data §4.8 says stage 4 must collect
// -- and folded in alongside whatever markersFor additionally supplies. For each distinct
// distribution, the final pinned requirement string is computed per §4.8: zero markers -> a bare
// pin; one marker -> pin + "; marker"; more than one -> pin + the logical AND of all distinct
// markers, since the resolver already proved they're jointly satisfiable.
//
// The returned slice is an order-preserving deduplicated sequence in stage-4 observation order,
// per §5's ordering guarantee.
func Attribute(
	ctx context.Context,
	runner *jobs.Runner,
	wheels []InstalledWheel,
	spawn IntrospectSpawner,
	markersFor MarkersFor,
) ([]ResolvedDistribution, error) {
	inputs := make([]interface{}, len(wheels))
	for i, w := range wheels {
		inputs[i] = indexedWheel{i, w}
	}

	results, err := jobs.Execute(ctx, runner, inputs,
		func(ctx context.Context, input interface{}) (jobs.SpawnedJob, error) {
			iw := input.(indexedWheel) //nolint:forcetypeassert // inputs are always indexedWheel
			job, err := spawn(ctx, iw.wheel)
			if err != nil {
				return jobs.SpawnedJob{}, err
			}
			innerResult := job.Result
			job.Result = func() (interface{}, error) {
				raw, err := innerResult()
				if err != nil {
					return nil, err
				}
				bs, ok := raw.([]byte)
				if !ok {
					return nil, fmt.Errorf("pipeline: introspector for %s: result is not []byte", iw.wheel.Filename)
				}
				var reports []distReport
				if err := json.Unmarshal(bs, &reports); err != nil {
					return nil, fmt.Errorf("pipeline: introspector for %s: %w", iw.wheel.Filename, err)
				}
				return indexedReports{iw.index, iw.wheel.ChrootDir, reports}, nil
			}
			return job, nil
		},
		func(err error) error {
			return &Untranslateable{Err: err}
		},
	)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].(indexedReports).index < results[j].(indexedReports).index //nolint:forcetypeassert
	})

	var order []string
	var allReports []distReport
	byName := make(map[string]distReport)
	locationByName := make(map[string]string)
	for _, r := range results {
		ir := r.(indexedReports) //nolint:forcetypeassert // Result always returns indexedReports
		for _, report := range ir.reports {
			if _, seen := byName[report.Name]; !seen {
				order = append(order, report.Name)
			}
			byName[report.Name] = report
			locationByName[report.Name] = ir.chrootDir
			allReports = append(allReports, report)
		}
	}

	if markersFor == nil {
		markersFor = func(string) []string { return nil }
	}
	edgeMarkers := requiresDistMarkerEdges(allReports)

	out := make([]ResolvedDistribution, 0, len(order))
	for _, name := range order {
		report := byName[name]
		var markers []string
		markers = append(markers, markersFor(name)...)
		markers = append(markers, edgeMarkers[normalizeProjectName(name)]...)
		markers = uniqueSorted(markers)
		out = append(out, ResolvedDistribution{
			RequirementString:    requirementString(report, markers),
			DistributionLocation: locationByName[name],
		})
	}
	return out, nil
}

type indexedWheel struct {
	index int
	wheel InstalledWheel
}

type indexedReports struct {
	index     int
	chrootDir string
	reports   []distReport
}

func requirementString(report distReport, markers []string) string {
	pin := fmt.Sprintf("%s==%s", report.Name, report.Version)
	switch len(markers) {
	case 0:
		return pin
	case 1:
		return pin + "; " + markers[0]
	default:
		clauses := make([]string, len(markers))
		for i, m := range markers {
			clauses[i] = "(" + m + ")"
		}
		return pin + "; " + strings.Join(clauses, " and ")
	}
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
