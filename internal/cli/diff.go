package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/SamarthBhatia/Trace2Pass/pkg/models"
	"github.com/SamarthBhatia/Trace2Pass/pkg/passdiff"
	"github.com/SamarthBhatia/Trace2Pass/pkg/storage"
	"github.com/google/uuid"
)

// DiffOptions configures the diff subcommand.
type DiffOptions struct {
	DBPath    string
	PassNames []string
	JSON      bool
}

// RunDiff converts the target, runs each cleanup pass under the pass-diff
// harness, and prints one verdict per changed function. With a baseline
// database, the post-pipeline hash of every function is recorded and
// compared against the previously stored one.
func RunDiff(w io.Writer, target string, opts DiffOptions) error {
	names := opts.PassNames
	if len(names) == 0 {
		names = []string{"dce", "simplify-cfg"}
	}
	var harnesses []*passdiff.Harness
	for _, n := range names {
		p, err := cleanupPass(n)
		if err != nil {
			return err
		}
		harnesses = append(harnesses, passdiff.Wrap(p))
	}

	mods, err := loadModules(target)
	if err != nil {
		return err
	}

	var provider storage.Provider
	runID := ""
	if opts.DBPath != "" {
		if provider, err = openProvider(opts.DBPath); err != nil {
			return err
		}
		defer provider.Close()
		runID = uuid.NewString()
	}

	out := models.DiffOutput{Target: target, Passes: names, RunID: runID}
	for _, mod := range mods {
		for _, fn := range mod.Funcs {
			out.Summary.TotalFunctions++
			var last passdiff.Snapshot
			for _, h := range harnesses {
				h.Run(fn)
				v := h.LastVerdict
				last = h.After
				if !v.Changed {
					continue
				}
				fd := models.FunctionDiff{
					Module:      mod.Name,
					Function:    fn.Name,
					Pass:        h.Pass.Name(),
					Changed:     true,
					Suspicious:  v.Suspicious,
					DeltaInstrs: v.DeltaInstrs,
					DeltaBlocks: v.DeltaBlocks,
					Reason:      v.Reason,
				}
				out.Summary.Changed++
				if v.Suspicious {
					out.Summary.Suspicious++
				}
				out.Functions = append(out.Functions, fd)
			}

			if provider != nil {
				prev, ok, err := provider.LastHash(fn.Name)
				if err != nil {
					return err
				}
				if ok && prev != last.StructuralHash {
					out.Summary.Drifted++
					out.Functions = append(out.Functions, models.FunctionDiff{
						Module:   mod.Name,
						Function: fn.Name,
						Pass:     "baseline",
						Changed:  true,
						Drifted:  true,
						Reason:   "post-pass hash differs from recorded baseline",
					})
				}
				err = provider.RecordSnapshot(storage.Entry{
					Function:         fn.Name,
					Pass:             names[len(names)-1],
					Hash:             last.StructuralHash,
					InstructionCount: last.InstructionCount,
					BasicBlockCount:  last.BasicBlockCount,
					RunID:            runID,
					RecordedAt:       time.Now().UTC(),
				})
				if err != nil {
					return err
				}
			}
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, f := range out.Functions {
		marker := " "
		if f.Suspicious {
			marker = "!"
		}
		if f.Drifted {
			marker = "~"
		}
		fmt.Fprintf(w, "%s %-16s %-50s instrs %+d, blocks %+d %s\n",
			marker, f.Pass, f.Function, f.DeltaInstrs, f.DeltaBlocks, f.Reason)
	}
	fmt.Fprintf(w, "\n%d function(s): %d changed, %d suspicious, %d drifted\n",
		out.Summary.TotalFunctions, out.Summary.Changed, out.Summary.Suspicious, out.Summary.Drifted)
	return nil
}
