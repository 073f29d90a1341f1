package runtime

// ShouldSample is the sampling oracle: truthy iff a per-goroutine draw in
// [0, 1) lands strictly below the configured sample rate. Thread-safe with
// no shared lock — each goroutine owns its RNG state.
func ShouldSample() int32 {
	rate := sampleRate()
	if rate >= 1 {
		return 1
	}
	if rate <= 0 {
		return 0
	}
	st := curState()
	if float64(st.next()>>11)/(1<<53) < rate {
		return 1
	}
	return 0
}

// next advances the xorshift64* state. Seeded lazily in curState from
// wall clock, goroutine id and a stack address.
func (st *threadState) next() uint64 {
	x := st.rng
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	st.rng = x
	return x * 0x2545f4914f6cdd1d
}
