package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const indexFileVersion = 1

// File stores the whole index as one JSON document
type File struct {
	path string
	mu   sync.Mutex
}

var _ interfaces.IndexRepository = (*File)(nil)

// NewFile creates a file repository at path
func NewFile(path string) *File {
	return &File{path: path}
}

type indexFile struct {
	Version    int                                       `json:"version"`
	Categories map[model.Category]*model.CategoryListing `json:"categories"`
}

func (f *File) LoadIndex(_ context.Context) (*model.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(interfaces.ErrIndexNotFound, "index file does not exist", goerr.V("path", f.path))
		}
		return nil, goerr.Wrap(err, "failed to read index file", goerr.V("path", f.path))
	}

	var doc indexFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse index file", goerr.V("path", f.path))
	}
	if doc.Version != indexFileVersion {
		return nil, goerr.New("unsupported index file version", goerr.V("version", doc.Version))
	}

	idx := &model.Index{Categories: doc.Categories}
	if idx.Categories == nil {
		idx.Categories = make(map[model.Category]*model.CategoryListing)
	}
	return idx, nil
}

// SaveIndex replaces the index file atomically with a rename
func (f *File) SaveIndex(_ context.Context, idx *model.Index, _ ...model.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(indexFile{
		Version:    indexFileVersion,
		Categories: idx.Categories,
	}, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal index")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create index directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp index file", goerr.V("dir", dir))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write index file")
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close index file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return goerr.Wrap(err, "failed to replace index file", goerr.V("path", f.path))
	}
	return nil
}
