// Command opdi-log is a tool for viewing and analyzing OPDI protocol
// capture files.
//
// Capture files are written by opdi-master with the -capture flag, or by
// any program that sets device.Config.ProtocolLogger to a log.FileLogger.
//
// Usage:
//
//	opdi-log <command> [flags] <file.olog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV format
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	opdi-log view session.olog
//
//	# View only decoded messages on channel 0 (control)
//	opdi-log view -layer wire -channel 0 session.olog
//
//	# Export to CSV
//	opdi-log export -format csv -o session.csv session.olog
//
//	# Keep one connection
//	opdi-log filter -conn-id 6f1c2a9e-... -o one.olog session.olog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/leomeyer/OPDI-deprecated/cmd/opdi-log/commands"
)

const usage = `opdi-log - OPDI Protocol Capture Analyzer

Usage:
  opdi-log <command> [flags] <file.olog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV format
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "opdi-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with the shared filter flags.
func newFlagSet(name, summary string, opts *commands.FilterOptions) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "opdi-log %s - %s\n\nUsage:\n  opdi-log %s [flags] <file.olog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	if opts == nil {
		return fs
	}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.DeviceID, "device-id", "", "Filter by device ID")
	fs.StringVar(&opts.Address, "address", "", "Filter by device address")
	fs.StringVar(&opts.Channel, "channel", "", "Filter by message channel")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, session)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	return fs
}

// pathArg parses args and returns the capture file path.
func pathArg(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	var opts commands.FilterOptions
	fs := newFlagSet("view", "View capture file in human-readable format", &opts)
	path := pathArg(fs, args)

	if err := commands.RunView(path, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	var opts commands.FilterOptions
	fs := newFlagSet("export", "Export capture file to JSONL or CSV format", &opts)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := pathArg(fs, args)

	if err := commands.RunExport(path, *format, *output, opts); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	var opts commands.FilterOptions
	fs := newFlagSet("filter", "Filter capture file and write to new file", &opts)
	output := fs.String("o", "", "Output file (required)")
	path := pathArg(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}
	if err := commands.RunFilter(path, *output, opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture file", nil)
	path := pathArg(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
