package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeatlas/atlas/internal/model"
)

const pythonFixture = `"""Module docstring."""
import os
from typing import List as L

MAX_SIZE = 100


def fetch(url: str) -> str:
    """Fetch a URL."""
    return url


async def stream():
    yield 1


@register
class Service(BaseService):
    """Service docstring."""

    def handle(self, req):
        return fetch(req)
`

func TestPythonExtractFunction(t *testing.T) {
	result := File("svc.py", pythonFixture, "P", "")
	require.Empty(t, result.Errors)

	fn := entityByName(t, result.Entities, "fetch")
	assert.Equal(t, model.KindFunction, fn.Kind)
	assert.Equal(t, "def fetch(url: str) -> str", fn.Signature)
	assert.Equal(t, "Fetch a URL.", fn.Docstring)
	assert.Equal(t, model.LangPython, fn.Language)
}

func TestPythonExtractAsyncGenerator(t *testing.T) {
	result := File("svc.py", pythonFixture, "P", "")

	fn := entityByName(t, result.Entities, "stream")
	assert.Equal(t, true, fn.Metadata["is_async"])
	assert.Equal(t, true, fn.Metadata["is_generator"])
	assert.Contains(t, fn.Signature, "async def stream")
}

func TestPythonExtractClass(t *testing.T) {
	result := File("svc.py", pythonFixture, "P", "")

	class := entityByName(t, result.Entities, "Service")
	assert.Equal(t, model.KindClass, class.Kind)
	assert.Equal(t, "Service docstring.", class.Docstring)
	assert.Equal(t, []string{"BaseService"}, class.Metadata["base_classes"])
	assert.Equal(t, []string{"handle"}, class.Metadata["methods"])
	assert.Equal(t, []string{"register"}, class.Metadata["decorators"])
}

func TestPythonExtractMethodClassName(t *testing.T) {
	result := File("svc.py", pythonFixture, "P", "")

	method := entityByName(t, result.Entities, "handle")
	assert.Equal(t, model.KindFunction, method.Kind)
	assert.Equal(t, "Service", method.Metadata["class_name"])
}

func TestPythonExtractImports(t *testing.T) {
	result := File("svc.py", pythonFixture, "P", "")

	osImport := entityByName(t, result.Entities, "os")
	assert.Equal(t, model.KindImport, osImport.Kind)

	typingImport := entityByName(t, result.Entities, "typing")
	assert.Equal(t, []string{"List"}, typingImport.Metadata["symbols"])
}

func TestPythonExtractModuleVariable(t *testing.T) {
	result := File("svc.py", pythonFixture, "P", "")

	v := entityByName(t, result.Entities, "MAX_SIZE")
	assert.Equal(t, model.KindVariable, v.Kind)
	assert.Equal(t, "module", v.Metadata["scope"])
}

func TestPythonLocalVariablesSkipped(t *testing.T) {
	code := "def f():\n    local = 1\n    return local\n"
	result := File("m.py", code, "P", "")
	for _, e := range result.Entities {
		assert.NotEqual(t, "local", e.Name)
	}
}

func TestPythonAliasedImport(t *testing.T) {
	result := File("m.py", "import numpy as np\n", "P", "")
	imp := entityByName(t, result.Entities, "numpy")
	assert.Equal(t, "np", imp.Metadata["alias"])
}

func TestPythonStarImport(t *testing.T) {
	result := File("m.py", "from os.path import *\n", "P", "")
	imp := entityByName(t, result.Entities, "os.path")
	assert.Equal(t, true, imp.Metadata["star_import"])
}
