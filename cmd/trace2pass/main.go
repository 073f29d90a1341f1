package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/SamarthBhatia/Trace2Pass/internal/cli"
	"github.com/SamarthBhatia/Trace2Pass/pkg/version"
)

// Package main provides the trace2pass CLI for instrumenting checkir
// modules built from Go source and for pass-diffing the cleanup pipeline.

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `trace2pass - compiler-bug probes and pass diffing

Usage:
  trace2pass instrument [--config cfg.yaml] [--pass name] [--json] [--print-ir] <file.go|directory>
  trace2pass diff [--db path] [--passes dce,simplify-cfg] [--json] <file.go|directory>
  trace2pass checks
  trace2pass version

Commands:
  instrument  Rewrite every convertible function with the runtime checks
              (arithmetic overflow, division by zero, sign conversion,
              bounds, unreachable, pure consistency, loop bounds) and
              report per-function counts.
              Flags:
                --config    YAML check-enable file
                --pass      registered pass name (default trace2pass-instrument)
                --json      machine-readable output
                --print-ir  dump the instrumented IR of changed functions

  diff        Run the cleanup passes under the pass-diff harness and print
              a verdict line per changed function. With --db, record each
              function's post-pass structural hash and flag drift against
              the stored baseline (.json file or Pebble directory).

  checks      List registered pass names.
  version     Display CLI and engine version.

Examples:
  trace2pass instrument ./cmd/app
  trace2pass instrument --config checks.yaml --json main.go
  trace2pass diff --db baselines.db ./pkg/...
  trace2pass diff --passes dce main.go
`)
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "instrument":
		fs := flag.NewFlagSet("instrument", flag.ExitOnError)
		cfgPath := fs.String("config", "", "YAML check-enable file")
		passName := fs.String("pass", "", "registered pass name")
		asJSON := fs.Bool("json", false, "JSON output")
		printIR := fs.Bool("print-ir", false, "dump instrumented IR")
		fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "instrument: exactly one target required")
			os.Exit(2)
		}
		err = cli.RunInstrument(os.Stdout, fs.Arg(0), cli.InstrumentOptions{
			ConfigPath: *cfgPath,
			PassName:   *passName,
			JSON:       *asJSON,
			PrintIR:    *printIR,
		})

	case "diff":
		fs := flag.NewFlagSet("diff", flag.ExitOnError)
		dbPath := fs.String("db", "", "baseline database path")
		passList := fs.String("passes", "", "comma-separated cleanup passes")
		asJSON := fs.Bool("json", false, "JSON output")
		fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "diff: exactly one target required")
			os.Exit(2)
		}
		var names []string
		if *passList != "" {
			names = strings.Split(*passList, ",")
		}
		err = cli.RunDiff(os.Stdout, fs.Arg(0), cli.DiffOptions{
			DBPath:    *dbPath,
			PassNames: names,
			JSON:      *asJSON,
		})

	case "checks":
		err = cli.RunChecks(os.Stdout)

	case "version":
		fmt.Printf("trace2pass %s\n", version.EngineVersion())

	case "help", "-h", "--help":
		flag.Usage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
