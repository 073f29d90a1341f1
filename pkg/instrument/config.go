package instrument

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Check keys used in configuration files and the combined pass.
const (
	CheckArithOverflow   = "arith_overflow"
	CheckDivByZero       = "div_by_zero"
	CheckSignConversion  = "sign_conversion"
	CheckBoundsViolation = "bounds_violation"
	CheckUnreachable     = "unreachable"
	CheckPureConsistency = "pure_consistency"
	CheckLoopBound       = "loop_bound"
)

// DefaultLoopBoundThreshold is the iteration cap when none is configured.
const DefaultLoopBoundThreshold uint64 = 10_000_000

// Config selects which checks run and tunes their compile-time constants.
// The zero value enables everything with defaults.
type Config struct {
	// Checks maps check keys to enablement. A missing key is enabled:
	// the file opts checks out, it does not have to opt them in.
	Checks map[string]bool `yaml:"checks"`

	// LoopBoundThreshold overrides the loop iteration cap. Zero means the
	// default.
	LoopBoundThreshold uint64 `yaml:"loop_bound_threshold"`
}

// DefaultConfig enables all seven checks with stock thresholds.
func DefaultConfig() Config { return Config{} }

// Enabled reports whether the check key is active.
func (c Config) Enabled(key string) bool {
	if c.Checks == nil {
		return true
	}
	v, ok := c.Checks[key]
	return !ok || v
}

// LoopThreshold returns the effective loop iteration cap.
func (c Config) LoopThreshold() uint64 {
	if c.LoopBoundThreshold == 0 {
		return DefaultLoopBoundThreshold
	}
	return c.LoopBoundThreshold
}

// LoadConfig reads a YAML configuration file. Unknown check keys are
// rejected so a typo disables nothing silently.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	known := map[string]bool{
		CheckArithOverflow: true, CheckDivByZero: true, CheckSignConversion: true,
		CheckBoundsViolation: true, CheckUnreachable: true, CheckPureConsistency: true,
		CheckLoopBound: true,
	}
	for k := range cfg.Checks {
		if !known[k] {
			return Config{}, fmt.Errorf("config %s: unknown check %q", path, k)
		}
	}
	return cfg, nil
}
