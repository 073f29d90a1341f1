// Package cli implements the trace2pass subcommands. The binary in
// cmd/trace2pass parses flags and dispatches here; everything below takes
// writers so tests can capture output.
package cli

import (
	"fmt"
	"strings"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/frontend"
	"github.com/SamarthBhatia/Trace2Pass/pkg/instrument"
	"github.com/SamarthBhatia/Trace2Pass/pkg/passdiff"
	"github.com/SamarthBhatia/Trace2Pass/pkg/passes"
	"github.com/SamarthBhatia/Trace2Pass/pkg/storage"
	"github.com/SamarthBhatia/Trace2Pass/pkg/storage/jsondb"
	"github.com/SamarthBhatia/Trace2Pass/pkg/storage/pebbledb"
)

func init() {
	// The cleanup passes ship harness-wrapped, the way the original wrapped
	// DSE and friends: activating "instrumented-<pass>" gets the pass plus
	// the before/after diff verdict.
	instrument.Register("instrumented-dce", func(instrument.Config) instrument.Pass {
		return passdiff.Wrap(passes.DeadCodeElim{})
	})
	instrument.Register("instrumented-simplify-cfg", func(instrument.Config) instrument.Pass {
		return passdiff.Wrap(passes.SimplifyCFG{})
	})
}

// loadModules converts a Go file or directory into checkir modules.
func loadModules(target string) ([]*checkir.Module, error) {
	pkgs, err := frontend.LoadPackages(target)
	if err != nil {
		return nil, err
	}
	mods, err := frontend.ConvertPackages(pkgs)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return nil, fmt.Errorf("no convertible functions found in %s", target)
	}
	return mods, nil
}

// cleanupPass resolves a cleanup pass by bare name.
func cleanupPass(name string) (passdiff.Pass, error) {
	switch name {
	case "dce":
		return passes.DeadCodeElim{}, nil
	case "simplify-cfg":
		return passes.SimplifyCFG{}, nil
	default:
		return nil, fmt.Errorf("unknown pass %q (have: dce, simplify-cfg)", name)
	}
}

// openProvider picks the baseline backend by path shape: a .json file gets
// the JSON store, anything else a Pebble directory.
func openProvider(path string) (storage.Provider, error) {
	if strings.HasSuffix(path, ".json") {
		return jsondb.Open(path)
	}
	return pebbledb.Open(path, pebbledb.Options{})
}
