package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeatlas/atlas/internal/model"
)

// annotatedTypeRe captures the annotated type of one parameter in Python or
// TypeScript signatures, e.g. "x: int" or "s: string".
var annotatedTypeRe = regexp.MustCompile(`\w+\s*:\s*([^,\)=]+)`)

// DisambiguateOverloads renames same-named functions within one file so
// names stay unique. Singletons pass through untouched. Colliding functions
// are renamed to name(t1,t2,...) when parameter types are recoverable from
// the signature, otherwise to name_L<start_line>; a residual collision gets
// _L<start_line> appended once more. The original name and an is_overloaded
// flag land in metadata. Classes and variables are never renamed.
func DisambiguateOverloads(entities []model.Entity) []model.Entity {
	groups := map[string][]int{}
	for i, e := range entities {
		if e.Kind != model.KindFunction {
			continue
		}
		key := e.FilePath + "\x00" + e.Name
		groups[key] = append(groups[key], i)
	}

	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}

		renamed := make([]string, len(idxs))
		for j, i := range idxs {
			e := &entities[i]
			if types := paramTypes(e.Signature, e.Language); len(types) > 0 {
				renamed[j] = fmt.Sprintf("%s(%s)", e.Name, strings.Join(types, ","))
			} else {
				renamed[j] = fmt.Sprintf("%s_L%d", e.Name, e.StartLine)
			}
		}

		// Typed renames can still collide when overloads share a parameter
		// list shape.
		seen := map[string]int{}
		for _, name := range renamed {
			seen[name]++
		}
		for j, i := range idxs {
			if seen[renamed[j]] > 1 {
				renamed[j] = fmt.Sprintf("%s_L%d", renamed[j], entities[i].StartLine)
			}
		}

		for j, i := range idxs {
			e := &entities[i]
			if e.Metadata == nil {
				e.Metadata = map[string]any{}
			}
			e.Metadata["original_name"] = e.Name
			e.Metadata["is_overloaded"] = true
			e.Name = renamed[j]
		}
	}

	return entities
}

// paramTypes recovers parameter types from a signature. Python and
// TypeScript use name:type annotations; Java puts the type first in each
// parameter. An empty slice means types are not recoverable.
func paramTypes(signature string, lang model.Language) []string {
	open := strings.IndexByte(signature, '(')
	close := strings.LastIndexByte(signature, ')')
	if open < 0 || close <= open {
		return nil
	}
	params := signature[open+1 : close]
	if strings.TrimSpace(params) == "" {
		return nil
	}

	if lang == model.LangJava {
		var types []string
		for _, param := range splitParams(params) {
			fields := strings.Fields(param)
			if len(fields) < 2 {
				return nil
			}
			// Skip modifiers such as final.
			typeIdx := 0
			if fields[0] == "final" && len(fields) > 2 {
				typeIdx = 1
			}
			types = append(types, fields[typeIdx])
		}
		return types
	}

	matches := annotatedTypeRe.FindAllStringSubmatch(params, -1)
	if len(matches) == 0 {
		return nil
	}
	types := make([]string, 0, len(matches))
	for _, m := range matches {
		types = append(types, strings.TrimSpace(m[1]))
	}
	return types
}

// splitParams splits a parameter list on top-level commas, respecting
// generic brackets.
func splitParams(params string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range params {
		switch r {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(params[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(params[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
