// Package frontend builds checkir modules from Go source via SSA, so the
// pipeline and the pass-diff harness can chew on real code. Conversion is
// for analysis driving: whatever the mapping cannot express becomes an
// opaque node that keeps instruction counts honest without pretending to
// be executable.
package frontend

import (
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// HardenedEnv strips build-altering variables and pins the loader offline.
// Code under analysis must not get to pick its own toolchain or proxy.
func HardenedEnv() []string {
	env := make([]string, 0, len(os.Environ())+7)
	for _, e := range os.Environ() {
		upperE := strings.ToUpper(e)
		switch {
		case strings.HasPrefix(upperE, "CGO_ENABLED="),
			strings.HasPrefix(upperE, "GOPROXY="),
			strings.HasPrefix(upperE, "GOFLAGS="),
			strings.HasPrefix(upperE, "GOWORK="),
			strings.HasPrefix(upperE, "GO111MODULE="),
			strings.HasPrefix(upperE, "GOTOOLCHAIN="):
			continue
		}
		env = append(env, e)
	}
	return append(env,
		"CGO_ENABLED=0", "GOPROXY=off", "GOFLAGS=-mod=readonly",
		"GOWORK=off", "GO111MODULE=on", "GOTOOLCHAIN=local")
}

// LoadPackages loads a Go file or directory with full syntax and types.
func LoadPackages(target string) ([]*packages.Package, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat target: %w", err)
	}
	cfg := &packages.Config{
		Mode:  packages.LoadAllSyntax,
		Fset:  token.NewFileSet(),
		Tests: false,
		Env:   HardenedEnv(),
	}
	var patterns []string
	if info.IsDir() {
		cfg.Dir = target
		patterns = []string{"./..."}
	} else {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolve target path: %w", err)
		}
		cfg.Dir = filepath.Dir(abs)
		patterns = []string{"file=" + abs}
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var errs strings.Builder
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, e := range pkg.Errors {
			errs.WriteString(e.Error() + "\n")
		}
	})
	if len(pkgs) == 0 && errs.Len() > 0 {
		return nil, fmt.Errorf("packages contain errors and no packages were loaded:\n%s", errs.String())
	}
	return pkgs, nil
}

// BuildSSA constructs SSA form for loaded packages. Only the explicitly
// loaded packages are built; dependencies stay declarations.
func BuildSSA(initialPkgs []*packages.Package) (*ssa.Program, error) {
	if len(initialPkgs) == 0 {
		return nil, fmt.Errorf("input packages list is empty")
	}
	prog, _ := ssautil.AllPackages(initialPkgs, ssa.InstantiateGenerics)
	if prog == nil {
		return nil, fmt.Errorf("failed to initialize SSA program builder")
	}
	for _, p := range initialPkgs {
		if p.Types == nil {
			continue
		}
		if ssaPkg := prog.Package(p.Types); ssaPkg != nil {
			ssaPkg.Build()
		}
	}
	return prog, nil
}
