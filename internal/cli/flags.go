package cli

import (
	"flag"
	"fmt"
	"io"

	"vigil/internal/version"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// PrintVersionLine writes the binary's version line, marking builds
// without injected metadata as dev.
func PrintVersionLine(out io.Writer, binary string) {
	if version.Version == "" || version.Version == "dev" {
		fmt.Fprintf(out, "%s dev\n", binary)
		return
	}
	fmt.Fprintf(out, "%s version %s\n", binary, version.Version)
}
