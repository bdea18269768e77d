package storage

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, filename, content string) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func TestLocalFileStoreSave(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalFileStore(dir, "/uploads/", nil)

	ref, err := store.Save(context.Background(), "alice", fileHeader(t, "Photo.PNG", "png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "/uploads/alice/"), ref)
	assert.True(t, strings.HasSuffix(ref, ".png"), ref)

	data, err := os.ReadFile(filepath.Join(dir, "alice", filepath.Base(ref)))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestLocalFileStoreUniqueNames(t *testing.T) {
	store := NewLocalFileStore(t.TempDir(), "/uploads", nil)
	first, err := store.Save(context.Background(), "alice", fileHeader(t, "a.txt", "1"))
	require.NoError(t, err)
	second, err := store.Save(context.Background(), "alice", fileHeader(t, "a.txt", "2"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLocalFileStoreRejectsOwnerTraversal(t *testing.T) {
	store := NewLocalFileStore(t.TempDir(), "/uploads", nil)
	for _, owner := range []string{"", "..", "../etc", "a/b"} {
		_, err := store.Save(context.Background(), owner, fileHeader(t, "a.txt", "x"))
		assert.ErrorIs(t, err, ErrInvalidOwner, owner)
	}
}

func TestLocalFileStoreRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalFileStore(dir, "/uploads", nil)

	ref, err := store.Save(context.Background(), "alice", fileHeader(t, "a.txt", "x"))
	require.NoError(t, err)
	require.NoError(t, store.Remove(context.Background(), ref))

	entries, err := os.ReadDir(filepath.Join(dir, "alice"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, ref := range []string{"/other/alice/a.txt", "/uploads/alice", "/uploads/../a.txt", "/uploads/alice/../../x"} {
		assert.ErrorIs(t, store.Remove(context.Background(), ref), ErrUnknownRef, ref)
	}
}
