package enrich

import (
	"encoding/json"
	"path"
	"strings"
)

// TSConfig carries the subset of tsconfig.json that import resolution
// needs: baseUrl and path aliases.
type TSConfig struct {
	// Dir is the directory containing the tsconfig, project-relative.
	Dir     string
	BaseURL string
	Paths   map[string][]string
}

type tsconfigFile struct {
	CompilerOptions struct {
		BaseURL string              `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
}

// ParseTSConfig reads path aliases out of a tsconfig.json body. Comment
// lines are stripped first since tsconfig files commonly carry them.
func ParseTSConfig(configPath string, content []byte) (*TSConfig, error) {
	var parsed tsconfigFile
	if err := json.Unmarshal(stripLineComments(content), &parsed); err != nil {
		return nil, err
	}
	return &TSConfig{
		Dir:     path.Dir(configPath),
		BaseURL: parsed.CompilerOptions.BaseURL,
		Paths:   parsed.CompilerOptions.Paths,
	}, nil
}

// Resolve expands a module string through the path aliases. A trailing *
// in an alias matches any suffix, which is substituted into each mapped
// pattern. Returned candidates are project-relative and still need
// extension probing.
func (c *TSConfig) Resolve(module string) []string {
	var out []string
	for alias, targets := range c.Paths {
		suffix, ok := matchAlias(alias, module)
		if !ok {
			continue
		}
		for _, target := range targets {
			expanded := strings.Replace(target, "*", suffix, 1)
			out = append(out, c.join(expanded))
		}
	}
	return out
}

func (c *TSConfig) join(p string) string {
	parts := []string{}
	if c.Dir != "" && c.Dir != "." {
		parts = append(parts, c.Dir)
	}
	if c.BaseURL != "" && c.BaseURL != "." {
		parts = append(parts, c.BaseURL)
	}
	parts = append(parts, p)
	return path.Join(parts...)
}

// matchAlias reports whether module matches the alias pattern and returns
// the wildcard suffix when it does.
func matchAlias(alias, module string) (string, bool) {
	if idx := strings.IndexByte(alias, '*'); idx >= 0 {
		prefix := alias[:idx]
		if strings.HasPrefix(module, prefix) {
			return module[len(prefix):], true
		}
		return "", false
	}
	if alias == module {
		return "", true
	}
	return "", false
}

// stripLineComments removes // comments outside string literals so that
// commented tsconfig files still parse.
func stripLineComments(content []byte) []byte {
	var out []byte
	inString := false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		if ch == '"' && (i == 0 || content[i-1] != '\\') {
			inString = !inString
		}
		if !inString && ch == '/' && i+1 < len(content) && content[i+1] == '/' {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			if i < len(content) {
				out = append(out, '\n')
			}
			continue
		}
		out = append(out, ch)
	}
	return out
}
