package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeatlas/atlas/internal/model"
)

const tsFixture = `import { helper, format } from './util';
import * as path from 'path';

export const VERSION = "1.0";

// Doubles a number.
function double(x: number): number {
  return x * 2;
}

const triple = (x: number) => x * 3;

/** Base widget. */
class Widget extends Base implements Drawable {
  render() {
    return double(1);
  }
}

interface Drawable extends Printable {
  draw(): void;
}
`

func TestScriptExtractFunction(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")
	require.Empty(t, result.Errors)

	fn := entityByName(t, result.Entities, "double")
	assert.Equal(t, model.KindFunction, fn.Kind)
	assert.Contains(t, fn.Signature, "double(x: number)")
	assert.Equal(t, "Doubles a number.", fn.Docstring)
	assert.Equal(t, model.LangTypeScript, fn.Language)
}

func TestScriptExtractArrowFunction(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")

	fn := entityByName(t, result.Entities, "triple")
	assert.Equal(t, model.KindFunction, fn.Kind)
	assert.Equal(t, true, fn.Metadata["is_arrow"])
}

func TestScriptExtractClassHeritage(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")

	class := entityByName(t, result.Entities, "Widget")
	assert.Equal(t, model.KindClass, class.Kind)
	assert.Equal(t, "Base widget.", class.Docstring)
	assert.Equal(t, []string{"Base"}, class.Metadata["base_classes"])
	assert.Equal(t, []string{"Drawable"}, class.Metadata["implements"])
	assert.Equal(t, []string{"render"}, class.Metadata["methods"])
}

func TestScriptExtractInterface(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")

	iface := entityByName(t, result.Entities, "Drawable")
	assert.Equal(t, model.KindClass, iface.Kind)
	assert.Equal(t, true, iface.Metadata["is_interface"])
	assert.Equal(t, []string{"Printable"}, iface.Metadata["base_classes"])
}

func TestScriptExtractImports(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")

	named := entityByName(t, result.Entities, "./util")
	assert.Equal(t, model.KindImport, named.Kind)
	assert.Equal(t, []string{"helper", "format"}, named.Metadata["symbols"])

	namespace := entityByName(t, result.Entities, "path")
	assert.Equal(t, "path", namespace.Metadata["alias"])
	assert.Equal(t, true, namespace.Metadata["star_import"])
}

func TestScriptExtractTopLevelVariable(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")

	v := entityByName(t, result.Entities, "VERSION")
	assert.Equal(t, model.KindVariable, v.Kind)
	assert.Equal(t, "module", v.Metadata["scope"])
}

func TestScriptMethodCallEdge(t *testing.T) {
	result := File("src/app.ts", tsFixture, "P", "")

	render := entityByName(t, result.Entities, "render")
	double := entityByName(t, result.Entities, "double")

	found := false
	for _, rel := range result.Relationships {
		if rel.Kind == model.RelCalls && rel.SourceID == render.ID && rel.TargetID == double.ID {
			found = true
		}
	}
	assert.True(t, found, "expected CALLS edge from render to double")
}

func TestScriptPlainJavaScript(t *testing.T) {
	code := "function greet(name) {\n  return 'hi ' + name;\n}\n"
	result := File("app.js", code, "P", "")

	fn := entityByName(t, result.Entities, "greet")
	assert.Equal(t, model.LangJavaScript, fn.Language)
}
