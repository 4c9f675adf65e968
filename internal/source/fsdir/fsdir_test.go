package fsdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pollsync/internal/engine"
	"github.com/dokzlo13/pollsync/internal/resource"
)

func writeFile(t *testing.T, root, rel, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestGetMetadata(t *testing.T) {
	root := t.TempDir()
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	writeFile(t, root, "a.json", `{"a":1}`, mtime)
	writeFile(t, root, "nested/b.json", `{"b":2}`, mtime.Add(time.Hour))
	writeFile(t, root, "notes.txt", "skip me", mtime)

	src, err := New(root, WithPattern("*.json"))
	require.NoError(t, err)

	descs, err := src.GetMetadata(context.Background(), engine.Filter{Tenant: "t"})
	require.NoError(t, err)
	require.Len(t, descs, 2)

	byID := map[string]resource.Descriptor[FileInfo]{}
	for _, d := range descs {
		byID[d.ID] = d
	}
	require.Contains(t, byID, "a.json")
	require.Contains(t, byID, "nested/b.json")
	assert.True(t, byID["a.json"].Marker.At.Equal(mtime))
	assert.Equal(t, int64(7), byID["a.json"].Extensions.Size)
	assert.True(t, byID["nested/b.json"].Marker.At.Equal(mtime.Add(time.Hour)))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	root := t.TempDir()
	_, err = New(root, WithPattern("[unclosed"))
	assert.Error(t, err)
}

func TestGetResource(t *testing.T) {
	root := t.TempDir()
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second).UTC()
	writeFile(t, root, "doc.json", `{"x":1}`, mtime)

	src, err := New(root, WithConditionalFetch(true))
	require.NoError(t, err)

	d := resource.Descriptor[FileInfo]{ID: "doc.json", Marker: resource.At(mtime), Extensions: FileInfo{Size: 7}}

	p, err := src.GetResource(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(p.Body))
	assert.Equal(t, "application/json", p.ContentType)

	retrieved := time.Now()
	last := &resource.State[FileInfo]{
		ResourceID:  "doc.json",
		Marker:      resource.At(mtime),
		RetrievedAt: &retrieved,
		Extensions:  FileInfo{Size: 7},
	}
	_, err = src.GetResource(context.Background(), d, last)
	assert.ErrorIs(t, err, resource.ErrNotModified)

	failing := last.Clone()
	failing.RetryCount = 1
	_, err = src.GetResource(context.Background(), d, failing)
	assert.NoError(t, err, "a failing resource is always re-read")

	resized := last.Clone()
	resized.Extensions.Size = 3
	_, err = src.GetResource(context.Background(), d, resized)
	assert.NoError(t, err)

	unconditional, err := New(root)
	require.NoError(t, err)
	_, err = unconditional.GetResource(context.Background(), d, last)
	assert.NoError(t, err)
}

func TestGetResource_BackdatedRewriteIsRead(t *testing.T) {
	root := t.TempDir()
	now := time.Now().Truncate(time.Second).UTC()
	observed := now.Add(-2 * time.Hour)
	retrieved := now.Add(-time.Hour)

	// same size, older preserved mtime, as after cp -p or a tar extract
	backdated := now.Add(-48 * time.Hour)
	writeFile(t, root, "doc.json", `{"x":2}`, backdated)

	src, err := New(root, WithConditionalFetch(true))
	require.NoError(t, err)

	last := &resource.State[FileInfo]{
		ResourceID:  "doc.json",
		Marker:      resource.At(observed),
		RetrievedAt: &retrieved,
		Extensions:  FileInfo{Size: 7},
	}
	d := resource.Descriptor[FileInfo]{ID: "doc.json", Marker: resource.At(backdated), Extensions: FileInfo{Size: 7}}
	require.True(t, d.Marker.ChangedSince(last.Marker))

	p, err := src.GetResource(context.Background(), d, last)
	require.NoError(t, err)
	assert.Equal(t, `{"x":2}`, string(p.Body))
}

func TestGetResource_MissingFile(t *testing.T) {
	src, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = src.GetResource(context.Background(), resource.Descriptor[FileInfo]{ID: "gone.txt"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
