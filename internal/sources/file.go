package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/contactdir/contactdir-server/internal/contacts"
)

// FileSource reads contacts from a local JSON file of the form
// {"contacts": [...]}. The file is re-read on the first page of each pull,
// and cursors are record offsets into that snapshot. A FileSource serves
// one pull at a time.
type FileSource struct {
	path string

	snapshot []contacts.RemoteRecord
}

var _ Source = (*FileSource)(nil)

type contactsFile struct {
	Contacts []contacts.RemoteRecord `json:"contacts"`
}

// NewFileSource creates a file source
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	return &FileSource{path: filepath.Clean(path)}, nil
}

// FetchPage returns up to pageSize records starting at the cursor offset
func (s *FileSource) FetchPage(ctx context.Context, cursor string, pageSize int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	offset := 0
	if cursor == "" {
		records, err := s.load()
		if err != nil {
			return nil, err
		}
		s.snapshot = records
	} else {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(s.snapshot) {
			return nil, &Error{Kind: KindUnavailable, Err: fmt.Errorf("invalid cursor %q", cursor)}
		}
		offset = n
	}

	end := min(offset+pageSize, len(s.snapshot))
	page := &Page{Records: append([]contacts.RemoteRecord(nil), s.snapshot[offset:end]...)}
	if end < len(s.snapshot) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *FileSource) load() ([]contacts.RemoteRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Err: fmt.Errorf("failed to read contacts file: %w", err)}
	}

	var file contactsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &Error{Kind: KindUnavailable, Err: fmt.Errorf("failed to parse contacts file: %w", err)}
	}
	return file.Contacts, nil
}
