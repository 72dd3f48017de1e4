package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/hrrag/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leave.txt"), "Sick leave")
	writeFile(t, filepath.Join(dir, "nested", "remote.md"), "# Remote")
	writeFile(t, filepath.Join(dir, "nested", "handbook.PDF"), "%PDF")
	writeFile(t, filepath.Join(dir, "payroll.xlsx"), "x")
	extra := filepath.Join(t.TempDir(), "travel.markdown")
	writeFile(t, extra, "Travel")

	files, skipped, err := collectFiles([]string{dir, extra})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "leave.txt"),
		filepath.Join(dir, "nested", "handbook.PDF"),
		filepath.Join(dir, "nested", "remote.md"),
		extra,
	}, files)
	assert.Equal(t, []string{filepath.Join(dir, "payroll.xlsx")}, skipped)
}

func TestCollectFiles_ExplicitUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payroll.xlsx")
	writeFile(t, path, "x")

	_, _, err := collectFiles([]string{path})
	assert.ErrorIs(t, err, types.ErrUnsupportedFileType)

	_, _, err = collectFiles([]string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "ask", "search", "email", "analytics", "chunks", "serve", "chat"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestIngest_RejectsBeforeOpening(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leave.txt")
	writeFile(t, path, "Sick leave")

	open := func(cmd *cobra.Command) (*app, error) {
		t.Fatal("open must not be called")
		return nil, nil
	}

	empty := t.TempDir()
	writeFile(t, filepath.Join(empty, "notes.docx"), "x")

	tests := []struct {
		name string
		args []string
	}{
		{"invalid mode", []string{path, "--mode", "replace"}},
		{"nothing ingestible", []string{empty}},
		{"unsupported file", []string{filepath.Join(empty, "notes.docx")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newIngestCmd(open)
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SilenceUsage = true
			assert.Error(t, cmd.ExecuteContext(context.Background()))
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "vector_store:\n  backend: faiss\nprocessor:\n  chunk_size: 100\n  chunk_overlap: 100\n")

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector_store.backend")
	assert.Contains(t, err.Error(), "processor.chunk_overlap")
}

func TestNewApp_InMemory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QDRANT_URL", "")
	t.Setenv("HRRAG_COLLECTION", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
vector_store:
  backend: memory
metadata:
  backend: memory
retrieval:
  collection: test_hr
  k: 3
`)

	a, err := newApp(context.Background(), path)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, "test_hr", a.engine.Config().Collection)
	assert.Equal(t, 3, a.engine.Config().DefaultK)

	records, err := a.engine.ChunksBySource(context.Background(), "leave.txt")
	require.NoError(t, err)
	assert.Empty(t, records)

	report, err := a.engine.Analytics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TotalQueries)
	assert.Empty(t, report.TopQuestions)
}
