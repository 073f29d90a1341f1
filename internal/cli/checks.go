package cli

import (
	"fmt"
	"io"

	"github.com/SamarthBhatia/Trace2Pass/pkg/instrument"
)

// RunChecks lists every registered pass name, one per line.
func RunChecks(w io.Writer) error {
	for _, n := range instrument.Names() {
		fmt.Fprintln(w, n)
	}
	return nil
}
