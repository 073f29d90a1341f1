package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/SamarthBhatia/Trace2Pass/pkg/instrument"
	"github.com/SamarthBhatia/Trace2Pass/pkg/models"
	"github.com/SamarthBhatia/Trace2Pass/pkg/passdiff"
)

// InstrumentOptions configures the instrument subcommand.
type InstrumentOptions struct {
	ConfigPath string
	PassName   string // registered pass name; default trace2pass-instrument
	JSON       bool
	PrintIR    bool
}

// RunInstrument converts the target, runs the requested instrumentation
// pass over every function, and reports per-function counts.
func RunInstrument(w io.Writer, target string, opts InstrumentOptions) error {
	cfg := instrument.DefaultConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = instrument.LoadConfig(opts.ConfigPath); err != nil {
			return err
		}
	}
	passName := opts.PassName
	if passName == "" {
		passName = instrument.CombinedName
	}
	pass, ok := instrument.Lookup(passName, cfg)
	if !ok {
		return fmt.Errorf("no pass registered under %q", passName)
	}

	mods, err := loadModules(target)
	if err != nil {
		return err
	}

	out := models.InstrumentOutput{Target: target}
	for _, mod := range mods {
		for _, fn := range mod.Funcs {
			before := passdiff.Take(fn)
			changed := pass.Run(fn)
			after := passdiff.Take(fn)

			rep := models.FunctionReport{
				Module:       mod.Name,
				Function:     fn.Name,
				Instrumented: changed,
				InstrsBefore: before.InstructionCount,
				InstrsAfter:  after.InstructionCount,
				BlocksBefore: before.BasicBlockCount,
				BlocksAfter:  after.BasicBlockCount,
			}
			if changed {
				rep.Checks = append(rep.Checks, passName)
				out.Summary.InstrumentedCount++
			}
			out.Summary.TotalFunctions++
			out.Functions = append(out.Functions, rep)

			if opts.PrintIR && changed {
				fmt.Fprintln(w, fn.String())
			}
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, f := range out.Functions {
		status := " "
		if f.Instrumented {
			status = "+"
		}
		fmt.Fprintf(w, "%s %-50s instrs %d -> %d, blocks %d -> %d\n",
			status, f.Function, f.InstrsBefore, f.InstrsAfter, f.BlocksBefore, f.BlocksAfter)
	}
	fmt.Fprintf(w, "\n%d function(s), %d instrumented\n", out.Summary.TotalFunctions, out.Summary.InstrumentedCount)
	return nil
}
