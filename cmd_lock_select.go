// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pexcore/internal/cliutil"
	"github.com/datawire/pexcore/internal/lockfile"
	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pipeline"
	"github.com/datawire/pexcore/internal/target"
)

func init() {
	var flags struct {
		LockFile      string
		PlatformFiles []string
	}

	cmd := &cobra.Command{
		Use:   "select --lockfile=IN_LOCKFILE.json --platform-file=... >SELECTED.json",
		Short: "Pick the best-ranked locked resolve per target from a lockfile",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		Long: "Given a lockfile (§6) and one or more declarative platform descriptions, rank and " +
			"select the best locked resolve for each target (§4.4), printing a JSON object " +
			"keyed by target id.",

		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := os.ReadFile(flags.LockFile)
			if err != nil {
				return err
			}
			lf, err := lockfile.Unmarshal(bs)
			if err != nil {
				return fmt.Errorf("%s: %w", flags.LockFile, err)
			}

			var targets []target.Target
			for _, path := range flags.PlatformFiles {
				doc, _, err := readPlatformFile(path)
				if err != nil {
					return err
				}
				tags := make(pep425.SupportedTags, 0, len(doc.Tags))
				for _, t := range doc.Tags {
					tags = append(tags, pep425.Tag{Python: t.Python, ABI: t.ABI, Platform: t.Platform})
				}
				targets = append(targets, target.NewInterpreter(doc.ConsoleShebang, tags))
			}

			var misses []string
			opts := pipeline.Options{
				OnLockMiss: func(targetID string, err error) {
					misses = append(misses, fmt.Sprintf("%s: %v", targetID, err))
				},
			}
			selected, err := pipeline.SelectLockedResolves(lf, targets, opts)
			if err != nil {
				return err
			}
			// This command's whole job is to print a selection; an empty one is fatal here even
			// though SelectLockedResolves itself leaves that choice to the caller (§7).
			if len(selected) == 0 {
				return fmt.Errorf("no target selected a locked resolve (%d target(s) had no applicable lock: %v)", len(misses), misses)
			}

			out := make(map[string]lockfile.PlatformTag, len(selected))
			for id, resolve := range selected {
				out[id] = resolve.PlatformTag
			}
			bs, err = json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(append(bs, '\n')); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.LockFile, "lockfile", "", "Path to the lockfile (§6)")
	cmd.Flags().StringArrayVar(&flags.PlatformFiles, "platform-file", nil, "A declarative platform description; one target per file")
	if err := cmd.MarkFlagRequired("lockfile"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("platform-file"); err != nil {
		panic(err)
	}

	argparserLock.AddCommand(cmd)
}
