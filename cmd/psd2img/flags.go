package main

import (
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

// Sentinel errors for command-line mistakes.
var (
	ErrNoDocument = errors.New("no document specified")
	errUsage      = errors.New("usage error")
)

// commonFlags holds output control flags.
type commonFlags struct {
	config  string
	quiet   bool
	verbose bool
	version bool
	help    bool

	// printConfig dumps the effective configuration instead of exporting.
	printConfig bool
}

// processingFlags holds flags that override the processing config.
type processingFlags struct {
	output  string
	scales  []string
	mode    string
	cores   int
	project string
}

// serviceFlags holds the catalog, push channel and logging flags.
type serviceFlags struct {
	db        string
	listen    string
	logLevel  string
	logFormat string
}

// cliFlags holds every flag of the command line.
type cliFlags struct {
	common     commonFlags
	processing processingFlags
	service    serviceFlags

	// set records which flags were given explicitly, by long name.
	set map[string]bool
}

func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show debug logs and timings")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	fs.BoolVarP(&f.help, "help", "h", false, "show help")
	fs.BoolVar(&f.printConfig, "print-config", false, "print the effective configuration as YAML and exit")
}

func addProcessingFlags(fs *flag.FlagSet, f *processingFlags) {
	fs.StringVarP(&f.output, "output", "o", "", "output root directory")
	fs.StringSliceVarP(&f.scales, "scales", "s", nil, "output scales, e.g. 1x,2x")
	fs.StringVarP(&f.mode, "mode", "m", "", "processing mode: standard or aggressive")
	fs.IntVarP(&f.cores, "cores", "j", 0, "worker count (0 = available-1)")
	fs.StringVarP(&f.project, "project", "p", "", "project id (default: derived from the document name)")
}

func addServiceFlags(fs *flag.FlagSet, f *serviceFlags) {
	fs.StringVar(&f.db, "db", "", "SQLite catalog path (empty = in-memory)")
	fs.StringVar(&f.listen, "listen", "", "WebSocket progress address, e.g. :8080")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
}

// parseFlags parses args (without the program name) and returns the flags
// and the positional arguments.
func parseFlags(args []string) (*cliFlags, []string, error) {
	f := &cliFlags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("psd2img", flag.ContinueOnError)
	// runMain reports parse errors itself.
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	addCommonFlags(fs, &f.common)
	addProcessingFlags(fs, &f.processing)
	addServiceFlags(fs, &f.service)

	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, fs.Args(), nil
}
