// Tern CLI - compiles and runs Tern programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tern/manifest"
)

var log = commonlog.GetLogger("tern.cli")

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"build", "compile the project or a file to an image", runBuild},
	{"run", "compile and run an entry point", runRun},
	{"dump", "print the AST, symbol table or instruction listing", runDump},
	{"disasm", "disassemble an image or source file", runDisasm},
	{"cache", "list or prune the image cache", runCache},
	{"lsp", "start the language server on stdio", runLSP},
	{"serve", "start the compiler service (Connect, gRPC, gRPC-Web)", runServe},
}

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (-4 to 2)")
	logFile := flag.String("log", "", "Log to this file instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tern [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.usage)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tern build                 # build the project in tern.toml\n")
		fmt.Fprintf(os.Stderr, "  tern run prog.tn 3 4       # run @main of prog.tn with params 3 and 4\n")
		fmt.Fprintf(os.Stderr, "  tern dump -symbols prog.tn # print the symbol table\n")
		fmt.Fprintf(os.Stderr, "  tern serve -addr :4567     # start the compiler service\n")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	configureLogging(*verbosity, *logFile)

	name := flag.Arg(0)
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
	flag.Usage()
	os.Exit(2)
}

// configureLogging applies the flags, falling back to the [log] section of
// the project manifest.
func configureLogging(verbosity int, path string) {
	if m, err := manifest.FindAndLoad("."); err == nil && m != nil {
		if verbosity == 0 {
			verbosity = m.Log.Verbosity
		}
		if path == "" && m.Log.File != "" {
			path = m.Log.File
		}
	}
	if path == "" {
		commonlog.Configure(verbosity, nil)
	} else {
		commonlog.Configure(verbosity, &path)
	}
}

// loadProject returns the manifest for a source file argument, or the
// project manifest above the working directory when there is none.
func loadProject(file string) (*manifest.Manifest, error) {
	if file != "" {
		return manifest.ForFile(file)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("no %s found and no source file given", manifest.FileName)
	}
	return m, nil
}
