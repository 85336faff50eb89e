// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"

	"github.com/datawire/pexcore/internal/atomicdir"
	"github.com/datawire/pexcore/internal/cliutil"
	"github.com/datawire/pexcore/internal/pep425"
	"github.com/datawire/pexcore/internal/pipeline"
	"github.com/datawire/pexcore/internal/pycompile"
	"github.com/datawire/pexcore/internal/pyplat"
	"github.com/datawire/pexcore/internal/target"
	"github.com/datawire/pexcore/internal/toolexec"
)

func init() {
	var flags struct {
		PlatformFiles    []string
		Requirements     []string
		RequirementFiles []string
		ConstraintFiles  []string
		LocalProjects    []string

		AllowPrereleases bool
		AllowWheels      bool
		AllowBuilds      bool
		Transitive       bool

		Indexes   []string
		FindLinks []string

		ResolverCmd     string
		BuilderCmd      string
		IntrospectorCmd string

		CacheDir        string
		MaxJobs         int
		LockStyle       string
		Installer       string
		Compile         bool
		SourceDateEpoch string
	}

	cmd := &cobra.Command{
		Use:   "install [flags] >RESOLVED_DISTRIBUTIONS.json",
		Short: "Run the resolve/build/install/attribute pipeline for a set of requirements",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		Long: "Resolve a set of requirements against one or more targets (each described by a " +
			"--platform-file), build and install whatever the external resolver/builder " +
			"subprocesses produce, and print the resulting pinned requirement strings as a JSON " +
			"array of {requirement, location}.",

		RunE: func(cmd *cobra.Command, args []string) error {
			if len(flags.PlatformFiles) == 0 {
				return fmt.Errorf("at least one --platform-file is required")
			}
			if flags.ResolverCmd == "" || flags.BuilderCmd == "" || flags.IntrospectorCmd == "" {
				return &pipeline.InvalidConfiguration{
					Reason: "--resolver-cmd, --builder-cmd, and --introspector-cmd are all required",
				}
			}

			var targets []target.Target
			platformByTarget := make(map[string]pyplat.Platform)
			for _, path := range flags.PlatformFiles {
				doc, plat, err := readPlatformFile(path)
				if err != nil {
					return err
				}
				tags := make(pep425.SupportedTags, 0, len(doc.Tags))
				for _, t := range doc.Tags {
					tags = append(tags, pep425.Tag{Python: t.Python, ABI: t.ABI, Platform: t.Platform})
				}
				tgt := target.NewInterpreter(doc.ConsoleShebang, tags)

				if flags.Compile {
					compiler, err := pycompile.External(doc.PyCompile...)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					plat.PyCompile = compiler
				}

				targets = append(targets, tgt)
				platformByTarget[tgt.ID()] = plat
			}

			cacheDir := flags.CacheDir
			if cacheDir == "" {
				userCache, err := os.UserCacheDir()
				if err != nil {
					return err
				}
				cacheDir = filepath.Join(userCache, "pexcore")
			}

			var lockStyle atomicdir.LockStyle
			switch flags.LockStyle {
			case "", "posix":
				lockStyle = atomicdir.LockStylePOSIX
			case "bsd":
				lockStyle = atomicdir.LockStyleBSD
			default:
				return &pipeline.InvalidConfiguration{Reason: fmt.Sprintf("unknown --lock-style %q", flags.LockStyle)}
			}

			opts := pipeline.Options{
				MaxJobs:          flags.MaxJobs,
				CacheDir:         cacheDir,
				LockStyle:        lockStyle,
				AllowPrereleases: flags.AllowPrereleases,
				AllowWheels:      flags.AllowWheels,
				AllowBuilds:      flags.AllowBuilds,
				Transitive:       flags.Transitive,
				Compile:          flags.Compile,
				Installer:        flags.Installer,
			}
			if flags.SourceDateEpoch != "" {
				secs, err := strconv.ParseInt(flags.SourceDateEpoch, 10, 64)
				if err != nil {
					return &pipeline.InvalidConfiguration{Reason: fmt.Sprintf("invalid $SOURCE_DATE_EPOCH %q: %v", flags.SourceDateEpoch, err)}
				}
				t := time.Unix(secs, 0).UTC()
				opts.SourceDateEpoch = &t
			} else if env := os.Getenv("SOURCE_DATE_EPOCH"); env != "" {
				if secs, err := strconv.ParseInt(env, 10, 64); err == nil {
					t := time.Unix(secs, 0).UTC()
					opts.SourceDateEpoch = &t
				}
			}

			sp := pipeline.Spawners{
				Resolve:    toolexec.Resolver(strings.Fields(flags.ResolverCmd), flags.Indexes, flags.FindLinks),
				Build:      toolexec.Builder(strings.Fields(flags.BuilderCmd)),
				Introspect: toolexec.Introspector(strings.Fields(flags.IntrospectorCmd)),
				PlatformOf: func(req pipeline.InstallRequest) (pyplat.Platform, error) {
					plat, ok := platformByTarget[req.Target.ID()]
					if !ok {
						return pyplat.Platform{}, fmt.Errorf("install: no platform file registered for target %s", req.Target.ID())
					}
					return plat, nil
				},
				MetadataOf: func(pipeline.InstallRequest) pipeline.InstallMetadata {
					return pipeline.InstallMetadata{}
				},
			}

			req := pipeline.ResolveRequest{
				Requirements:     flags.Requirements,
				RequirementFiles: flags.RequirementFiles,
				ConstraintFiles:  flags.ConstraintFiles,
				AllowPrereleases: flags.AllowPrereleases,
				AllowWheels:      flags.AllowWheels,
				AllowBuilds:      flags.AllowBuilds,
				Transitive:       flags.Transitive,
				LocalProjects:    flags.LocalProjects,
			}

			cache := pipeline.Cache{Dir: cacheDir}
			// No additional marker source beyond what pipeline.Run already derives itself from
			// req.Requirements and the introspector's requires_dist reports (§4.8); the
			// --resolver-cmd subprocess contract (§6) never reports a richer dependency graph than
			// that for Run to consult.
			resolved, err := pipeline.Run(cmd.Context(), opts, cache, targets, req, sp, nil)
			if err != nil {
				return err
			}

			bs, err := json.MarshalIndent(resolved, "", "  ")
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(append(bs, '\n')); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&flags.PlatformFiles, "platform-file", nil,
		"A declarative platform description (§6); one target per file")
	cmd.Flags().StringArrayVar(&flags.Requirements, "requirement", nil, "A requirement string, e.g. `foo==1.0`")
	cmd.Flags().StringArrayVar(&flags.RequirementFiles, "requirement-file", nil, "A pip-style requirements file")
	cmd.Flags().StringArrayVar(&flags.ConstraintFiles, "constraint-file", nil, "A pip-style constraints file")
	cmd.Flags().StringArrayVar(&flags.LocalProjects, "local-project", nil, "A local source tree to build and install directly")

	cmd.Flags().BoolVar(&flags.AllowPrereleases, "allow-prereleases", false, "Allow pre-release versions")
	cmd.Flags().BoolVar(&flags.AllowWheels, "allow-wheels", true, "Allow installing from wheels")
	cmd.Flags().BoolVar(&flags.AllowBuilds, "allow-builds", true, "Allow building from source distributions")
	cmd.Flags().BoolVar(&flags.Transitive, "transitive", true, "Resolve transitive dependencies")

	cmd.Flags().StringArrayVar(&flags.Indexes, "index", nil, "A package index URL to pass to the resolver")
	cmd.Flags().StringArrayVar(&flags.FindLinks, "find-links", nil, "A find-links URL or path to pass to the resolver")

	cmd.Flags().StringVar(&flags.ResolverCmd, "resolver-cmd", "", "External resolver subprocess command line (§6)")
	cmd.Flags().StringVar(&flags.BuilderCmd, "builder-cmd", "", "External builder subprocess command line (§6)")
	cmd.Flags().StringVar(&flags.IntrospectorCmd, "introspector-cmd", "", "External introspector subprocess command line (§6)")

	cmd.Flags().StringVar(&flags.CacheDir, "cache-dir", "", "Content-addressed cache directory (default $XDG_CACHE_HOME/pexcore)")
	cmd.Flags().IntVar(&flags.MaxJobs, "max-jobs", 0, "Maximum concurrent subprocesses (default: number of CPUs)")
	cmd.Flags().StringVar(&flags.LockStyle, "lock-style", "posix", "AtomicDirectory advisory-lock flavor: posix or bsd")
	cmd.Flags().StringVar(&flags.Installer, "installer", "pexcore", "Value written to each dist-info/INSTALLER file")
	cmd.Flags().BoolVar(&flags.Compile, "compile", false, "Byte-compile installed .py files")
	cmd.Flags().StringVar(&flags.SourceDateEpoch, "source-date-epoch", "", "Override $SOURCE_DATE_EPOCH for reproducible installs")

	argparser.AddCommand(cmd)
}

func readPlatformFile(path string) (platformDoc, pyplat.Platform, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return platformDoc{}, pyplat.Platform{}, err
	}
	var doc platformDoc
	if err := toml.Unmarshal(bs, &doc); err != nil {
		return platformDoc{}, pyplat.Platform{}, fmt.Errorf("%s: %w", path, err)
	}

	plat := pyplat.Platform{
		ConsoleShebang:   doc.ConsoleShebang,
		GraphicalShebang: doc.GraphicalShebang,
		Scheme:           doc.Scheme,
		UID:              doc.UID,
		GID:              doc.GID,
		UName:            doc.UName,
		GName:            doc.GName,
		VersionInfo:      doc.VersionInfo,
	}
	if doc.MagicNumber != "" {
		magic, err := decodeMagicNumber(doc.MagicNumber)
		if err != nil {
			return platformDoc{}, pyplat.Platform{}, fmt.Errorf("%s: %w", path, err)
		}
		plat.MagicNumber = magic
	}
	for _, t := range doc.Tags {
		plat.Tags = append(plat.Tags, pep425.Tag{Python: t.Python, ABI: t.ABI, Platform: t.Platform})
	}
	if err := plat.Init(); err != nil {
		return platformDoc{}, pyplat.Platform{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, plat, nil
}

func decodeMagicNumber(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
