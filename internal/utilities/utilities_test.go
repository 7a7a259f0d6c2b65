package utilities

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "raw")

	require.NoError(t, CreateLog(dir, "ALLTRACKINGS", "first"))
	require.NoError(t, CreateLog(dir, "ALLTRACKINGS", "second"))

	matches, err := filepath.Glob(filepath.Join(dir, "ALLTRACKINGS_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " - first"))
	assert.True(t, strings.HasSuffix(lines[1], " - second"))
}

func TestCreateLog_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Error(t, CreateLog(file, "ALLTRACKINGS", "x"))
}
