// Command check_boundaries enforces the import rules between the layers of
// every service under contexts/. Run it from the repository root:
//
//	go run ./scripts/check_boundaries.go
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "crowdproof"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule applies to every non-test file whose path inside the service
// starts with dir. The longest matching dir wins.
type layerRule struct {
	dir       string
	name      string
	allowed   []string
	forbidden []string
	// thirdParty allows any module outside crowdproof when true.
	thirdParty bool
}

// Paths in allowed and forbidden are relative to the service root unless they
// start with the module path.
var rules = []layerRule{
	{
		dir:     "domain/entities",
		name:    "entities",
		allowed: []string{"domain/entities"},
	},
	{
		dir:     "domain",
		name:    "domain",
		allowed: []string{"domain"},
	},
	{
		dir:     "ports",
		name:    "ports",
		allowed: []string{"domain", modulePath + "/contracts"},
	},
	{
		dir:     "application",
		name:    "application",
		allowed: []string{"application", "domain", "ports", modulePath + "/contracts", "github.com/cenkalti/backoff/v4"},
	},
	{
		dir:     "transport",
		name:    "transport",
		allowed: []string{"transport"},
	},
	{
		dir:        "adapters/http",
		name:       "http adapter",
		allowed:    []string{"application", "domain", "ports", "transport"},
		thirdParty: true,
	},
	{
		dir:        "adapters",
		name:       "storage adapter",
		allowed:    []string{"domain", "ports", modulePath + "/contracts"},
		forbidden:  []string{"application", "transport"},
		thirdParty: true,
	},
}

func main() {
	root := flag.String("root", "contexts", "directory holding <context>/<service> trees")
	flag.Parse()

	violations, err := checkTree(*root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary check failed: %v\n", err)
		os.Exit(2)
	}
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}
	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func checkTree(root string) ([]violation, error) {
	var violations []violation
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 4 {
			return nil
		}
		service := strings.Join(parts[:2], "/")
		inService := strings.Join(parts[2:len(parts)-1], "/")
		rule, ok := ruleFor(inService)
		if !ok {
			return nil
		}
		found, err := checkFile(path, modulePath+"/contexts/"+service, rule)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func ruleFor(dir string) (layerRule, bool) {
	var best layerRule
	found := false
	for _, rule := range rules {
		if dir != rule.dir && !strings.HasPrefix(dir, rule.dir+"/") {
			continue
		}
		if !found || len(rule.dir) > len(best.dir) {
			best = rule
			found = true
		}
	}
	return best, found
}

func checkFile(path string, servicePrefix string, rule layerRule) ([]violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}

	var violations []violation
	report := func(line int, importPath string, reason string) {
		violations = append(violations, violation{
			File:   filepath.ToSlash(path),
			Line:   line,
			Import: importPath,
			Rule:   rule.name + " " + reason,
		})
	}
	for _, spec := range file.Imports {
		importPath := strings.Trim(spec.Path.Value, `"`)
		line := fset.Position(spec.Pos()).Line

		switch {
		case isStdlib(importPath):
			continue
		case underPrefix(importPath, modulePath+"/contexts") && !underPrefix(importPath, servicePrefix):
			report(line, importPath, "must not import another service")
			continue
		}
		if matchesAny(importPath, servicePrefix, rule.forbidden) {
			report(line, importPath, "must not import use cases or transport")
			continue
		}
		if matchesAny(importPath, servicePrefix, rule.allowed) {
			continue
		}
		if rule.thirdParty && !underPrefix(importPath, modulePath) {
			continue
		}
		report(line, importPath, "import is outside its allowlist")
	}
	return violations, nil
}

func matchesAny(importPath string, servicePrefix string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if !strings.Contains(prefix, ".") && !strings.HasPrefix(prefix, modulePath+"/") {
			prefix = servicePrefix + "/" + prefix
		}
		if underPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func underPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isStdlib(importPath string) bool {
	first, _, _ := strings.Cut(importPath, "/")
	return first != modulePath && !strings.Contains(first, ".")
}
