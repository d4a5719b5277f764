package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeatlas/atlas/internal/apperr"
)

func TestValidateRepoURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		ok   bool
	}{
		{"github https", "https://github.com/owner/repo", true},
		{"with git suffix", "https://github.com/owner/repo.git", true},
		{"gitlab nested group", "https://gitlab.com/group/sub/repo", true},
		{"http rejected", "http://github.com/owner/repo", false},
		{"ssh rejected", "git@github.com:owner/repo.git", false},
		{"missing repo", "https://github.com/owner", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRepoURL(tc.url)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
			}
		})
	}
}

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, content, 0644))
	}
	return root
}

func TestCollectFilesSkipsExcludedDirs(t *testing.T) {
	root := writeTree(t, map[string][]byte{
		"src/main.py":            []byte("print('hi')\n"),
		"node_modules/lib/x.js":  []byte("module.exports = 1\n"),
		".git/config":            []byte("[core]\n"),
		"docs/readme.md":         []byte("# readme\n"),
		"build/out/generated.py": []byte("x = 1\n"),
	})

	files, err := CollectFiles(root, CloneOptions{
		Exclude: []string{"node_modules", ".git", "build/**"},
	})
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"src/main.py", "docs/readme.md"}, paths)
}

func TestCollectFilesSkipsBinaryAndOversized(t *testing.T) {
	root := writeTree(t, map[string][]byte{
		"ok.py":     []byte("a = 1\n"),
		"image.png": {0xff, 0xfe, 0x00, 0x01},
		"big.txt":   bytesOf('a', 2048),
	})

	files, err := CollectFiles(root, CloneOptions{MaxFileBytes: 1024})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ok.py", files[0].Path)
}

func TestCollectFilesEnforcesFileCap(t *testing.T) {
	root := writeTree(t, map[string][]byte{
		"a.py": []byte("a = 1\n"),
		"b.py": []byte("b = 2\n"),
		"c.py": []byte("c = 3\n"),
	})

	_, err := CollectFiles(root, CloneOptions{MaxFiles: 2})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "2 file limit")
}

func TestExcludedMatchesSegmentsAnywhere(t *testing.T) {
	assert.True(t, excluded("a/node_modules/b.js", []string{"node_modules"}))
	assert.True(t, excluded("vendor/pkg/x.go", []string{"vendor/**"}))
	assert.True(t, excluded("src/app.test.ts", []string{"*.test.ts"}))
	assert.False(t, excluded("src/app.ts", []string{"node_modules", "*.test.ts"}))
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
