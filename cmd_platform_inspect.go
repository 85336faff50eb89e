// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"

	"github.com/datawire/pexcore/internal/cliutil"
	"github.com/datawire/pexcore/internal/pyinspect"
	"github.com/datawire/pexcore/internal/pyplat"
)

// tagDoc is pep425.Tag with TOML field tags; pep425.Tag itself carries none, since pep425 has no
// business knowing about the declarative file format layered on top of it in §6.
type tagDoc struct {
	Python   string `toml:"python"`
	ABI      string `toml:"abi"`
	Platform string `toml:"platform"`
}

// platformDoc is the on-disk shape of the declarative target/platform description file (§6): a
// TOML rendering of pyplat.Platform plus the PyCompile invocation as a plain argv, since a live
// compiler closure can't round-trip through a file.
type platformDoc struct {
	ConsoleShebang   string `toml:"console_shebang"`
	GraphicalShebang string `toml:"graphical_shebang"`

	Scheme pyplat.Scheme `toml:"scheme"`

	UID   int    `toml:"uid"`
	GID   int    `toml:"gid"`
	UName string `toml:"uname"`
	GName string `toml:"gname"`

	VersionInfo *pyplat.VersionInfo `toml:"version_info"`
	MagicNumber string             `toml:"magic_number_b64"`
	Tags        []tagDoc           `toml:"tags"`

	PyCompile []string `toml:"py_compile"`
}

func init() {
	var flags struct {
		Interpreter string
	}
	cmd := &cobra.Command{
		Use:   "inspect [flags] >PLATFORM.toml",
		Short: "Dump a declarative platform description for the host Python environment",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		Long: "Inspect a local Python environment and dump a declarative platform description " +
			"(§6) for consumption by `pexcore install --platform-file=`.",

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys := pyinspect.FS(pyinspect.NativeFS{})

			var doc platformDoc
			var err error

			doc.ConsoleShebang, doc.GraphicalShebang, err = pyinspect.Shebangs(sys, flags.Interpreter)
			if err != nil {
				return err
			}

			dyn, err := pyinspect.Dynamic(ctx, doc.ConsoleShebang)
			if err != nil {
				return err
			}

			doc.Scheme = dyn.Scheme
			doc.VersionInfo = &dyn.VersionInfo
			doc.MagicNumber = dyn.MagicNumberB64

			tags, err := dyn.SupportedTags()
			if err != nil {
				return err
			}
			doc.Tags = make([]tagDoc, 0, len(tags))
			for _, t := range tags {
				doc.Tags = append(doc.Tags, tagDoc{Python: t.Python, ABI: t.ABI, Platform: t.Platform})
			}

			dirs := []string{
				dyn.Scheme.PureLib,
				dyn.Scheme.PlatLib,
				dyn.Scheme.Headers,
				dyn.Scheme.Scripts,
				dyn.Scheme.Data,
			}
			foundOwner := false
			for _, dir := range dirs {
				info, err := sys.Stat(dir)
				if err != nil {
					continue
				}
				doc.UID = info.UID()
				doc.GID = info.GID()
				doc.UName = info.UName()
				doc.GName = info.GName()
				foundOwner = true
				break
			}
			if !foundOwner {
				return fmt.Errorf("could not stat any of the scheme directories: %#v", dyn.Scheme)
			}

			doc.PyCompile = []string{doc.ConsoleShebang, "-m", "compileall"}

			bs, err := toml.Marshal(doc)
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(bs); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Interpreter, "interpreter", "python3",
		"The Python interpreter to inspect")

	argparserPlatform.AddCommand(cmd)
}
