// Package abi binds the runtime's exported entry points to the checkir
// evaluator's extern table, so instrumented IR executed by the evaluator
// reports through the same pipeline a native build would.
package abi

import (
	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/probe"
	"github.com/SamarthBhatia/Trace2Pass/pkg/runtime"
)

func str(img *checkir.Image, addr uint64) string {
	if s, ok := img.StringAt(addr); ok {
		return s
	}
	return "unknown"
}

// Externs returns the evaluator symbol table for the runtime ABI. Every
// probe symbol resolves here; the table can be merged with program-specific
// externs before building an image.
func Externs() map[string]checkir.ExternFunc {
	return map[string]checkir.ExternFunc{
		probe.SymShouldSample: func(img *checkir.Image, args []uint64) uint64 {
			return uint64(uint32(runtime.ShouldSample()))
		},
		probe.SymReportOverflow: func(img *checkir.Image, args []uint64) uint64 {
			runtime.ReportOverflow(args[0], str(img, args[1]), int64(args[2]), int64(args[3]))
			return 0
		},
		probe.SymReportSignConv: func(img *checkir.Image, args []uint64) uint64 {
			runtime.ReportSignConversion(args[0], int64(args[1]), args[2], uint32(args[3]), uint32(args[4]))
			return 0
		},
		probe.SymReportDivByZero: func(img *checkir.Image, args []uint64) uint64 {
			runtime.ReportDivisionByZero(args[0], str(img, args[1]), int64(args[2]), int64(args[3]))
			return 0
		},
		probe.SymCheckPure: func(img *checkir.Image, args []uint64) uint64 {
			runtime.CheckPureConsistency(args[0], str(img, args[1]), int64(args[2]), int64(args[3]), int64(args[4]))
			return 0
		},
		probe.SymReportBounds: func(img *checkir.Image, args []uint64) uint64 {
			runtime.ReportBoundsViolation(args[0], args[1], int64(args[2]), args[3])
			return 0
		},
		probe.SymReportUnreachable: func(img *checkir.Image, args []uint64) uint64 {
			runtime.ReportUnreachable(args[0], str(img, args[1]))
			return 0
		},
		probe.SymReportLoopBound: func(img *checkir.Image, args []uint64) uint64 {
			runtime.ReportLoopBoundExceeded(args[0], str(img, args[1]), args[2], args[3])
			return 0
		},
	}
}
