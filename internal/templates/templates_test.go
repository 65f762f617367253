package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const digestTemplate = `
id: daily-digest
name: Daily Digest
graph:
  nodes:
    - id: outline
      type: text
      content: "Write an outline about {{topic}}"
    - id: draft
      type: text
      content: "{{outline}}"
  edges:
    - from: outline
      to: draft
`

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDirLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "daily-digest.yaml", digestTemplate)

	l, err := NewDirLoader(dir, false)
	require.NoError(t, err)

	tpl, err := l.Load(context.Background(), "daily-digest")
	require.NoError(t, err)
	require.Equal(t, "Daily Digest", tpl.Name)
	require.Len(t, tpl.Graph.Nodes, 2)
	require.Len(t, tpl.Graph.Edges, 1)
}

func TestDirLoader_LoadByEmbeddedID(t *testing.T) {
	dir := t.TempDir()
	// File name differs from the declared id.
	writeTemplate(t, dir, "digest-v2.yaml", digestTemplate)

	l, err := NewDirLoader(dir, false)
	require.NoError(t, err)

	tpl, err := l.Load(context.Background(), "daily-digest")
	require.NoError(t, err)
	require.Equal(t, "daily-digest", tpl.ID)
}

func TestDirLoader_LoadMissing(t *testing.T) {
	l, err := NewDirLoader(t.TempDir(), false)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDirLoader_IDFallsBackToFileName(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "unnamed.yaml", `
graph:
  nodes:
    - id: a
      type: text
      content: hello
`)

	l, err := NewDirLoader(dir, false)
	require.NoError(t, err)

	tpl, err := l.Load(context.Background(), "unnamed")
	require.NoError(t, err)
	require.Equal(t, "unnamed", tpl.ID)
	require.Equal(t, "unnamed", tpl.Name)
}

func TestDirLoader_ListSkipsBroken(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "daily-digest.yaml", digestTemplate)
	writeTemplate(t, dir, "broken.yaml", "nodes: [not a template")
	writeTemplate(t, dir, "cyclic.yaml", `
graph:
  nodes:
    - id: a
      type: text
      content: x
    - id: b
      type: text
      content: y
  edges:
    - from: a
      to: b
    - from: b
      to: a
`)
	writeTemplate(t, dir, "notes.txt", "not yaml")

	l, err := NewDirLoader(dir, false)
	require.NoError(t, err)

	infos, err := l.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "daily-digest", infos[0].ID)
}

func TestDirLoader_WatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "daily-digest.yaml", digestTemplate)

	l, err := NewDirLoader(dir, true)
	require.NoError(t, err)
	defer l.Close()

	tpl, err := l.Load(context.Background(), "daily-digest")
	require.NoError(t, err)
	require.Equal(t, "Daily Digest", tpl.Name)

	writeTemplate(t, dir, "daily-digest.yaml", "# changed\n"+digestTemplate)

	// The watcher event is asynchronous; poll for the cache drop.
	require.Eventually(t, func() bool {
		l.mu.RLock()
		defer l.mu.RUnlock()
		return len(l.cache) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirLoader_MissingDirectory(t *testing.T) {
	_, err := NewDirLoader(filepath.Join(t.TempDir(), "nope"), false)
	require.Error(t, err)
	require.True(t, errors.Is(err, os.ErrNotExist))
}
