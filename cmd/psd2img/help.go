package main

import (
	"fmt"
	"io"
)

// printUsage prints the usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: psd2img [flags] <document>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Export the slices, groups and layers of a layered document as PNG assets.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Arguments:")
	fmt.Fprintln(w, "  document    YAML document manifest (not needed with --print-config)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Processing:")
	fmt.Fprintln(w, "  -o, --output <dir>        Output root (assets go to <dir>/processed/<project>)")
	fmt.Fprintln(w, "  -s, --scales <list>       Output scales, e.g. 1x,2x")
	fmt.Fprintln(w, "  -m, --mode <s>            Mode: standard, aggressive")
	fmt.Fprintln(w, "  -j, --cores <n>           Worker count (0 = available-1)")
	fmt.Fprintln(w, "  -p, --project <id>        Project id (default: document name)")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Services:")
	fmt.Fprintln(w, "      --db <path>           SQLite catalog (empty = in-memory)")
	fmt.Fprintln(w, "      --listen <addr>       Serve progress events over WebSocket at <addr>/ws")
	fmt.Fprintln(w, "      --log-level <s>       Log level: debug, info, warn, error")
	fmt.Fprintln(w, "      --log-format <s>      Log format: text, json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output Control:")
	fmt.Fprintln(w, "  -q, --quiet               Only show errors")
	fmt.Fprintln(w, "  -v, --verbose             Show debug logs")
	fmt.Fprintln(w, "      --print-config        Print the effective configuration and exit")
	fmt.Fprintln(w, "      --version             Print version and exit")
	fmt.Fprintln(w, "  -h, --help                Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  PSD2IMG_CONFIG, PSD2IMG_OUTPUT_DIR, PSD2IMG_SCALES, PSD2IMG_MODE,")
	fmt.Fprintln(w, "  PSD2IMG_CORES, PSD2IMG_DB, PSD2IMG_LISTEN, PSD2IMG_LOG_LEVEL")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit codes: 0 success, 1 error, 2 usage, 3 I/O, 4 memory abort.")
}
