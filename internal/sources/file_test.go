package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactdir/contactdir-server/internal/config"
)

func writeContactsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFileSource_FetchPage(t *testing.T) {
	t.Parallel()

	path := writeContactsFile(t, `{"contacts":[
		{"id":"a","displayName":"Alice"},
		{"id":"b","displayName":"Bob"},
		{"id":"c","displayName":"Carol"}
	]}`)
	src, err := NewFileSource(path)
	require.NoError(t, err)

	var (
		ids    []string
		cursor string
		pages  int
	)
	for {
		page, err := src.FetchPage(context.Background(), cursor, 2)
		require.NoError(t, err)
		pages++
		for _, r := range page.Records {
			ids = append(ids, r.ExternalID)
		}
		if page.IsLast() {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 2, pages)
}

func TestFileSource_FetchPage_Errors(t *testing.T) {
	t.Parallel()

	missing, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	_, err = missing.FetchPage(context.Background(), "", 10)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, kind)

	invalid, err := NewFileSource(writeContactsFile(t, `not json`))
	require.NoError(t, err)
	_, err = invalid.FetchPage(context.Background(), "", 10)
	require.ErrorContains(t, err, "failed to parse contacts file")

	valid, err := NewFileSource(writeContactsFile(t, `{"contacts":[]}`))
	require.NoError(t, err)
	_, err = valid.FetchPage(context.Background(), "", 10)
	require.NoError(t, err)
	_, err = valid.FetchPage(context.Background(), "7", 10)
	require.ErrorContains(t, err, "invalid cursor")
	_, err = valid.FetchPage(context.Background(), "", 0)
	require.ErrorContains(t, err, "page size must be positive")

	_, err = NewFileSource("")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	src, err := New(context.Background(), &config.SourceConfig{
		Type: config.SourceTypeFile,
		File: &config.FileConfig{Path: "/data/contacts.json"},
	})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)

	src, err = New(context.Background(), &config.SourceConfig{
		Type: config.SourceTypeAPI,
		API:  defaultAPIConfig("https://contacts.example.com"),
	})
	require.NoError(t, err)
	assert.IsType(t, &APISource{}, src)

	_, err = New(context.Background(), &config.SourceConfig{Type: "ldap"})
	require.ErrorContains(t, err, "unsupported source type")
}
