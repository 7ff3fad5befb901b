// Package testutil provides test helpers that enforce package layering.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Rule forbids a class of import paths for the package in a directory.
type Rule struct {
	Reason    string
	Forbidden func(path string) bool
}

// Under matches import paths equal to or nested below any of the prefixes.
func Under(prefixes ...string) func(string) bool {
	return func(path string) bool {
		for _, p := range prefixes {
			if path == p || strings.HasPrefix(path, p+"/") {
				return true
			}
		}
		return false
	}
}

// Forbid returns a rule rejecting imports under the given prefixes.
func Forbid(reason string, prefixes ...string) Rule {
	return Rule{Reason: reason, Forbidden: Under(prefixes...)}
}

// Imports returns the import paths of every non-test Go file in dir, keyed by
// file name. Build tags are not evaluated.
func Imports(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(f.Imports))
		for _, imp := range f.Imports {
			paths = append(paths, strings.Trim(imp.Path.Value, `"`))
		}
		out[name] = paths
	}
	return out, nil
}

// Violations lists "file: path (reason)" for every import in dir that a rule
// forbids, sorted.
func Violations(dir string, rules ...Rule) ([]string, error) {
	files, err := Imports(dir)
	if err != nil {
		return nil, err
	}
	var viols []string
	for name, paths := range files {
		for _, p := range paths {
			for _, r := range rules {
				if r.Forbidden(p) {
					viols = append(viols, fmt.Sprintf("%s: %s (%s)", name, p, r.Reason))
				}
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// AssertLayering fails t when the package in dir imports anything the rules
// forbid.
func AssertLayering(t testing.TB, dir string, rules ...Rule) {
	t.Helper()
	assertLayering(t, dir, rules...)
}

func assertLayering(t fataler, dir string, rules ...Rule) {
	t.Helper()
	viols, err := Violations(dir, rules...)
	if err != nil {
		t.Fatalf("scan imports of %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports in %s:\n%s", dir, strings.Join(viols, "\n"))
	}
}
