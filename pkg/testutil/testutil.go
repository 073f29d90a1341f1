// Package testutil provides isolated build environments for tests that
// drive the SSA frontend over real Go source.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SamarthBhatia/Trace2Pass/pkg/checkir"
	"github.com/SamarthBhatia/Trace2Pass/pkg/frontend"
)

// SetupTestEnv creates an isolated workspace with a valid go.mod.
// Returns the directory path; cleanup rides on t.TempDir.
func SetupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	modPath := filepath.Join(dir, "go.mod")
	if err := os.WriteFile(modPath, []byte("module testmod\n\ngo 1.21\n"), 0o644); err != nil {
		t.Fatalf("failed to create go.mod: %v", err)
	}
	return dir
}

// ConvertSource writes src into an isolated module and runs the frontend
// over it, returning the converted checkir modules.
func ConvertSource(t *testing.T, src string) []*checkir.Module {
	t.Helper()
	dir := SetupTestEnv(t)
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	pkgs, err := frontend.LoadPackages(path)
	if err != nil {
		t.Fatalf("LoadPackages: %v", err)
	}
	mods, err := frontend.ConvertPackages(pkgs)
	if err != nil {
		t.Fatalf("ConvertPackages: %v", err)
	}
	return mods
}

// FindFunction locates a converted function by simple-name suffix.
func FindFunction(t *testing.T, mods []*checkir.Module, name string) *checkir.Function {
	t.Helper()
	for _, m := range mods {
		for _, fn := range m.Funcs {
			if fn.Name == name || strings.HasSuffix(fn.Name, "."+name) {
				return fn
			}
		}
	}
	var have []string
	for _, m := range mods {
		for _, fn := range m.Funcs {
			have = append(have, fn.Name)
		}
	}
	t.Fatalf("function %q not found; have %v", name, have)
	return nil
}
