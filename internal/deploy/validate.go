package deploy

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// Validator gates every candidate artifact before it can replace the live
// one. Go sources must parse; the primary artifact additionally has a size
// floor and a set of symbols that must survive any rewrite.
type Validator struct {
	Primary         string
	MinLines        int
	RequiredSymbols []string
}

func (v *Validator) Validate(path, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("candidate for %s is empty", path)
	}
	var decls map[string]bool
	if strings.HasSuffix(path, ".go") {
		parsed, err := parseGo(path, content)
		if err != nil {
			return err
		}
		decls = parsed
	}
	if path != v.Primary {
		return nil
	}

	if lines := strings.Count(content, "\n") + 1; lines < v.MinLines {
		return fmt.Errorf("candidate for %s has %d lines, floor is %d", path, lines, v.MinLines)
	}
	for _, sym := range v.RequiredSymbols {
		if decls != nil {
			if !decls[sym] {
				return fmt.Errorf("candidate for %s lost required symbol %s", path, sym)
			}
			continue
		}
		if !strings.Contains(content, sym) {
			return fmt.Errorf("candidate for %s lost required symbol %s", path, sym)
		}
	}
	return nil
}

// parseGo runs a full syntax check and returns the top-level declaration
// names so the symbol check matches declarations, not mentions.
func parseGo(path, content string) (map[string]bool, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.AllErrors)
	if err != nil {
		return nil, fmt.Errorf("candidate for %s does not parse: %w", path, err)
	}
	decls := make(map[string]bool)
	for _, d := range file.Decls {
		switch decl := d.(type) {
		case *ast.FuncDecl:
			decls[decl.Name.Name] = true
		case *ast.GenDecl:
			for _, spec := range decl.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					decls[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, name := range s.Names {
						decls[name.Name] = true
					}
				}
			}
		}
	}
	return decls, nil
}

// ExtractCode unwraps a fenced code block. Models often wrap the rewritten
// file in triple backticks with an optional language tag; the raw text is
// returned unchanged when no fence is present.
func ExtractCode(raw string) string {
	s := strings.TrimSpace(raw)
	if start := strings.Index(s, "```"); start >= 0 {
		s = s[start+3:]
		if nl := strings.Index(s, "\n"); nl >= 0 {
			// Drop the language tag line when the fence opens with one.
			if tag := strings.TrimSpace(s[:nl]); tag == "" || isLangTag(tag) {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimRight(s, "\n") + "\n"
}

func isLangTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
