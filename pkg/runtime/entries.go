package runtime

import (
	"fmt"
	"time"

	"github.com/SamarthBhatia/Trace2Pass/pkg/report"
)

// One entry point per check kind. Each takes the probe's program counter
// first, then the kind-specific payload, and runs the admission pipeline:
// bloom dedup, record assembly, serialized emission. The sampling decision
// already happened inside the probe, before the call; the pure-consistency
// probe is the exception and calls in unsampled.

// Dedup tags. These feed hash(pc, tag); changing one orphans recorded
// call-site identifiers, so they are frozen.
const (
	tagOverflow     = "overflow"
	tagUnreachable  = "unreachable"
	tagBounds       = "bounds_violation"
	tagSignConv     = "sign_conversion"
	tagDivByZero    = "division_by_zero"
	tagPure         = "pure_inconsistency"
	tagLoopBound    = "loop_bound_exceeded"
)

// admit runs the shared bloom gate for one (pc, tag) pair.
func admit(st *threadState, pc uint64, tag string) bool {
	h := hashReport(pc, tag)
	if st.bloomContains(h) {
		return false
	}
	st.bloomInsert(h)
	return true
}

// ReportOverflow records an arithmetic overflow (or shift out of range)
// with the expression text and both operands.
func ReportOverflow(pc uint64, expr string, a, b int64) {
	st := curState()
	if !admit(st, pc, tagOverflow) {
		return
	}
	emit(report.New("arithmetic_overflow", CallSiteID(pc, tagOverflow), pc, time.Now(),
		report.Field{Key: "Expression", Val: expr},
		report.Field{Key: "Operands", Val: fmt.Sprintf("%d, %d", a, b)},
	))
}

// ReportUnreachable records control flow crossing an unreachable point.
func ReportUnreachable(pc uint64, message string) {
	st := curState()
	if !admit(st, pc, tagUnreachable) {
		return
	}
	emit(report.New("unreachable_code_executed", CallSiteID(pc, tagUnreachable), pc, time.Now(),
		report.Field{Key: "Message", Val: message},
	))
}

// ReportBoundsViolation records a negative aggregate index. The claimed
// size is zero when static bounds were unrecoverable.
func ReportBoundsViolation(pc uint64, ptr uint64, offset int64, size uint64) {
	st := curState()
	if !admit(st, pc, tagBounds) {
		return
	}
	emit(report.New("bounds_violation", CallSiteID(pc, tagBounds), pc, time.Now(),
		report.Field{Key: "Pointer", Val: fmt.Sprintf("0x%x", ptr)},
		report.Field{Key: "Offset", Val: offset},
		report.Field{Key: "Size", Val: size},
	))
}

// ReportSignConversion records a negative signed value observed crossing a
// sign-losing cast.
func ReportSignConversion(pc uint64, orig int64, cast uint64, srcBits, dstBits uint32) {
	st := curState()
	if !admit(st, pc, tagSignConv) {
		return
	}
	emit(report.New("sign_conversion", CallSiteID(pc, tagSignConv), pc, time.Now(),
		report.Field{Key: "Original Value", Val: fmt.Sprintf("(signed i%d) %d", srcBits, orig)},
		report.Field{Key: "Cast Value", Val: fmt.Sprintf("(unsigned i%d) %d (0x%x)", dstBits, cast, cast)},
	))
}

// ReportDivisionByZero records a zero divisor observed just before the
// dividing instruction executes (and, per platform ABI, traps).
func ReportDivisionByZero(pc uint64, op string, dividend, divisor int64) {
	st := curState()
	if !admit(st, pc, tagDivByZero) {
		return
	}
	emit(report.New("division_by_zero", CallSiteID(pc, tagDivByZero), pc, time.Now(),
		report.Field{Key: "Operation", Val: op},
		report.Field{Key: "Dividend", Val: dividend},
		report.Field{Key: "Divisor", Val: divisor},
	))
}

// ReportLoopBoundExceeded records a loop header crossing its iteration cap.
func ReportLoopBoundExceeded(pc uint64, loopName string, count, threshold uint64) {
	st := curState()
	if !admit(st, pc, tagLoopBound) {
		return
	}
	emit(report.New("loop_bound_exceeded", CallSiteID(pc, tagLoopBound), pc, time.Now(),
		report.Field{Key: "Loop", Val: loopName},
		report.Field{Key: "Iteration Count", Val: count},
		report.Field{Key: "Threshold", Val: threshold},
	))
}

// CheckPureConsistency feeds one observation of a pure call into the
// per-goroutine cache. The first observation of a (function, arg0, arg1)
// triple is recorded silently; a later matching observation with a
// different result is the anomaly. The bloom gate applies at emission, not
// admission — gating the first observation would eat the contradiction.
func CheckPureConsistency(pc uint64, funcName string, arg0, arg1, result int64) {
	st := curState()
	funcHash := hashString(funcName)
	idx := (funcHash ^ uint64(arg0) ^ (uint64(arg1) << 16)) % pureCacheSize
	entry := &st.pure[idx]

	if !entry.valid || entry.funcHash != funcHash || entry.arg0 != arg0 || entry.arg1 != arg1 {
		// First sighting, or a colliding slot: (re)record and stay quiet.
		// Collisions degrade to false suppression, never false reports.
		entry.funcHash = funcHash
		entry.arg0 = arg0
		entry.arg1 = arg1
		entry.result = result
		entry.valid = true
		return
	}
	if entry.result == result {
		return
	}
	if !admit(st, pc, tagPure) {
		return
	}
	emit(report.New("pure_function_inconsistency", CallSiteID(pc, tagPure), pc, time.Now(),
		report.Field{Key: "Function", Val: funcName},
		report.Field{Key: "Arg0", Val: arg0},
		report.Field{Key: "Arg1", Val: arg1},
		report.Field{Key: "Previous Result", Val: entry.result},
		report.Field{Key: "Current Result", Val: result},
	))
}
