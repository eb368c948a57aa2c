package fileindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupArea(t *testing.T) (root, indexPath string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shared", "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "shared", "docs", "readme.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "shared", "budget.csv"), []byte("a,b"), 0o644))
	indexPath = filepath.Join(t.TempDir(), "index.csv")
	return root, indexPath
}

func TestRebuildThenSearchFindsFile(t *testing.T) {
	root, indexPath := setupArea(t)
	idx := New(indexPath, root, nil)
	require.NoError(t, idx.Rebuild())
	require.False(t, idx.IsDirty())

	results := idx.Search("readme", "")
	require.Len(t, results, 1)
	require.Equal(t, "readme.txt", results[0].Name)
}

func TestSearchSecondaryTokenAndsAgainstPath(t *testing.T) {
	root, indexPath := setupArea(t)
	idx := New(indexPath, root, nil)
	require.NoError(t, idx.Rebuild())

	results := idx.Search("readme sv", "")
	require.Empty(t, results, "secondary 2-char token must AND against the path")
}

func TestSearchDiscardsSingleCharTokens(t *testing.T) {
	root, indexPath := setupArea(t)
	idx := New(indexPath, root, nil)
	require.NoError(t, idx.Rebuild())

	results := idx.Search("readme x", "")
	require.Len(t, results, 1, "a 1-char token is discarded, not ANDed")
}

func TestSearchAreaPrefixFilter(t *testing.T) {
	root, indexPath := setupArea(t)
	idx := New(indexPath, root, nil)
	require.NoError(t, idx.Rebuild())

	results := idx.Search("budget", "docs")
	require.Empty(t, results, "area_prefix excludes non-matching paths")
}

func TestSearchMissingIndexReturnsEmpty(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "missing.csv"), t.TempDir(), nil)
	results := idx.Search("anything", "")
	require.Empty(t, results)
}

func TestMarkDirtyAndRebuildClearsFlag(t *testing.T) {
	root, indexPath := setupArea(t)
	idx := New(indexPath, root, nil)
	idx.MarkDirty()
	require.True(t, idx.IsDirty())
	require.NoError(t, idx.Rebuild())
	require.False(t, idx.IsDirty())
}
