// Command pexcore resolves, builds, and installs Python distributions into filesystem chroots.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pexcore/internal/cliutil"
)

var argparser = &cobra.Command{
	Use:   "pexcore {[flags]|SUBCOMMAND...}",
	Short: "Resolve, build, and install Python distributions into filesystem chroots",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc will handle it
}

// argparserPlatform groups the subcommands that describe or inspect a target's platform (§6's
// declarative platform description file).
var argparserPlatform = &cobra.Command{
	Use:   "platform {[flags]|SUBCOMMAND...}",
	Short: "Describe target interpreters",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

// argparserLock groups the subcommands that operate on a lockfile (§6's lockfile bit-contract).
var argparserLock = &cobra.Command{
	Use:   "lock {[flags]|SUBCOMMAND...}",
	Short: "Inspect and select from lockfiles",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)

	for _, grp := range []*cobra.Command{argparserPlatform, argparserLock} {
		grp.SetFlagErrorFunc(cliutil.FlagErrorFunc)
		grp.SetHelpTemplate(cliutil.HelpTemplate)
		argparser.AddCommand(grp)
	}
}

func main() {
	ctx := context.Background()

	if err := argparser.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
