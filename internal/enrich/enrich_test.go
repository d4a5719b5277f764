package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/extract"
	"github.com/codeatlas/atlas/internal/model"
)

func parseAll(projectID string, files map[string]string) ([]model.ParseResult, map[string]string) {
	var results []model.ParseResult
	sources := map[string]string{}
	for filePath, content := range files {
		result := extract.File(filePath, content, projectID, "")
		sources[result.FilePath] = content
		results = append(results, result)
	}
	return results, sources
}

func findResult(t *testing.T, results []model.ParseResult, filePath string) *model.ParseResult {
	t.Helper()
	for i := range results {
		if results[i].FilePath == filePath {
			return &results[i]
		}
	}
	t.Fatalf("no parse result for %s", filePath)
	return nil
}

func TestEnsureFileEntityForEmptyFile(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results := []model.ParseResult{{FilePath: "empty.py"}}
	sources := map[string]string{"empty.py": ""}
	e.Project("P", results, sources, nil)

	require.Len(t, results[0].Entities, 1)
	file := results[0].Entities[0]
	assert.Equal(t, model.KindFile, file.Kind)
	assert.Equal(t, 1, file.EndLine)
	assert.NotEmpty(t, file.ID)
}

func TestEnsureFileEntitySkipsUnsupported(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results := []model.ParseResult{{FilePath: "README.md"}}
	e.Project("P", results, map[string]string{"README.md": "# hi\n"}, nil)
	assert.Empty(t, results[0].Entities)
}

func TestResolveRelativeImport(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results, sources := parseAll("P", map[string]string{
		"src/main.ts": "import { helper } from './util/helper';\n",
		"src/util/helper.ts": "export function helper() {\n  return 1;\n}\n",
	})
	e.Project("P", results, sources, nil)

	main := findResult(t, results, "src/main.ts")
	helper := findResult(t, results, "src/util/helper.ts")

	var mainFile, helperFile, helperFn, importEntity model.Entity
	for _, entity := range main.Entities {
		switch entity.Kind {
		case model.KindFile:
			mainFile = entity
		case model.KindImport:
			importEntity = entity
		}
	}
	for _, entity := range helper.Entities {
		switch {
		case entity.Kind == model.KindFile:
			helperFile = entity
		case entity.Name == "helper":
			helperFn = entity
		}
	}

	var imports, uses []model.Relationship
	for _, rel := range main.Relationships {
		switch rel.Kind {
		case model.RelImports:
			imports = append(imports, rel)
		case model.RelUses:
			uses = append(uses, rel)
		}
	}

	require.Len(t, imports, 1)
	assert.Equal(t, mainFile.ID, imports[0].SourceID)
	assert.Equal(t, helperFile.ID, imports[0].TargetID)
	assert.Equal(t, "file_match", imports[0].Metadata["resolution"])
	assert.Equal(t, "./util/helper", imports[0].Metadata["resolved_from_module"])

	require.Len(t, uses, 1)
	assert.Equal(t, importEntity.ID, uses[0].SourceID)
	assert.Equal(t, helperFn.ID, uses[0].TargetID)
}

func TestResolveTSConfigAlias(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	tsconfig, err := ParseTSConfig("tsconfig.json", []byte(`{
  "compilerOptions": {
    "baseUrl": "src",
    "paths": { "@app/*": ["utils/*"] }
  }
}`))
	require.NoError(t, err)

	results, sources := parseAll("P", map[string]string{
		"src/main.ts": "import { helper } from '@app/helper';\n",
		"src/utils/helper.ts": "export function helper() {\n  return 1;\n}\n",
	})
	e.Project("P", results, sources, tsconfig)

	main := findResult(t, results, "src/main.ts")
	helper := findResult(t, results, "src/utils/helper.ts")

	var helperFileID string
	for _, entity := range helper.Entities {
		if entity.Kind == model.KindFile {
			helperFileID = entity.ID
		}
	}

	found := false
	for _, rel := range main.Relationships {
		if rel.Kind == model.RelImports && rel.TargetID == helperFileID {
			assert.Equal(t, "@app/helper", rel.Metadata["resolved_from_module"])
			found = true
		}
	}
	assert.True(t, found, "expected alias import resolved to src/utils/helper.ts")

	usesFound := false
	for _, rel := range main.Relationships {
		if rel.Kind == model.RelUses {
			usesFound = true
		}
	}
	assert.True(t, usesFound, "expected USES edge to the helper symbol")
}

func TestResolveUniqueStemFallback(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results, sources := parseAll("P", map[string]string{
		"src/main.ts":        "import { helper } from 'lib/helper';\n",
		"src/deep/helper.ts": "export function helper() {\n  return 1;\n}\n",
	})
	e.Project("P", results, sources, nil)

	main := findResult(t, results, "src/main.ts")
	resolved := false
	for _, rel := range main.Relationships {
		if rel.Kind == model.RelImports && rel.Metadata["resolution"] == "file_match" {
			resolved = true
		}
	}
	assert.True(t, resolved, "expected unique-stem resolution")
}

func TestUnresolvedImportStaysExternal(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results, sources := parseAll("P", map[string]string{
		"src/main.ts": "import express from 'express';\n",
	})
	e.Project("P", results, sources, nil)

	main := findResult(t, results, "src/main.ts")
	found := false
	for _, rel := range main.Relationships {
		if rel.Kind == model.RelImports {
			assert.Equal(t, "external:express", rel.TargetID)
			found = true
		}
	}
	assert.True(t, found)
}

func TestTSConfigCommentsTolerated(t *testing.T) {
	tsconfig, err := ParseTSConfig("tsconfig.json", []byte(`{
  // path aliases
  "compilerOptions": {
    "baseUrl": ".",
    "paths": { "@lib/*": ["lib/*"] }
  }
}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/helper"}, tsconfig.Resolve("@lib/helper"))
}

func TestLinkTestCallsAddsTestsEdges(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results, sources := parseAll("P", map[string]string{
		"test_math.py": "def add(a, b):\n    return a + b\n\ndef test_add():\n    assert add(1, 2) == 3\n",
	})
	e.Project("P", results, sources, nil)

	r := findResult(t, results, "test_math.py")
	var addID, testID string
	for _, entity := range r.Entities {
		switch entity.Name {
		case "add":
			addID = entity.ID
		case "test_add":
			testID = entity.ID
		}
	}
	require.NotEmpty(t, addID)
	require.NotEmpty(t, testID)

	found := false
	for _, rel := range r.Relationships {
		if rel.Kind == model.RelTests {
			assert.Equal(t, testID, rel.SourceID)
			assert.Equal(t, addID, rel.TargetID)
			found = true
		}
	}
	assert.True(t, found, "expected a TESTS edge from test_add to add")
}

func TestLinkTestCallsIgnoresNonTestFunctions(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results, sources := parseAll("P", map[string]string{
		"math.py": "def add(a, b):\n    return a + b\n\ndef total(xs):\n    return add(xs[0], xs[1])\n",
	})
	e.Project("P", results, sources, nil)

	for _, rel := range findResult(t, results, "math.py").Relationships {
		assert.NotEqual(t, model.RelTests, rel.Kind)
	}
}

func TestIsTestContext(t *testing.T) {
	assert.True(t, isTestContext("test_add", "math.py"))
	assert.True(t, isTestContext("whatever", "widget.test.ts"))
	assert.True(t, isTestContext("whatever", "widget.spec.js"))
	assert.True(t, isTestContext("whatever", "math_test.py"))
	assert.False(t, isTestContext("add", "math.py"))
}

func TestDuplicateUsesEdgesSuppressed(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	results, sources := parseAll("P", map[string]string{
		"src/main.ts":   "import { helper } from './helper';\n",
		"src/helper.ts": "export function helper() {\n  return 1;\n}\n",
	})
	// Running enrichment twice must not duplicate edges.
	e.Project("P", results, sources, nil)
	before := len(findResult(t, results, "src/main.ts").Relationships)
	e.Project("P", results, sources, nil)
	after := len(findResult(t, results, "src/main.ts").Relationships)
	assert.Equal(t, before, after)
}
