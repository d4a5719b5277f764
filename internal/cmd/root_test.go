package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommandInfoCoversSubcommands(t *testing.T) {
	info := buildCommandInfo(rootCmd)

	names := make([]string, 0, len(info.Subcommands))
	for _, sub := range info.Subcommands {
		names = append(names, sub.Name)
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "ingest")
	assert.Contains(t, names, "query")
	assert.Contains(t, names, "projects")
	assert.Contains(t, names, "hotspots")
	assert.Contains(t, names, "mcp")
	assert.Contains(t, names, "analyze")
}

func TestBuildCommandInfoFlagsAndExamples(t *testing.T) {
	info := buildCommandInfo(querySearchCmd)

	require.NotEmpty(t, info.Flags)
	flagNames := make([]string, 0, len(info.Flags))
	for _, f := range info.Flags {
		flagNames = append(flagNames, f.Name)
	}
	assert.Contains(t, flagNames, "project")
	assert.Contains(t, flagNames, "top-k")
	assert.NotEmpty(t, info.Examples)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("30m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	d, err = parseDuration("0")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = parseDuration("nope")
	assert.Error(t, err)
}

func TestTruncateName(t *testing.T) {
	assert.Equal(t, "short", truncateName("short", 10))
	assert.Equal(t, "abcdefg...", truncateName("abcdefghijklmnop", 10))
}
