package adapter

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/goerr/v2"
)

// LocalStorage stores blobs as files below a root directory
type LocalStorage struct {
	root string
}

var _ interfaces.BlobStore = (*LocalStorage)(nil)

// NewLocalStorage creates the root directory if needed
func NewLocalStorage(root string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve storage root", goerr.V("root", root))
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage root", goerr.V("root", abs))
	}
	return &LocalStorage{root: abs}, nil
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes data to a temporary file and links it into place so that a reader never
// observes a partially written blob and an existing blob is never replaced.
func (s *LocalStorage) Put(_ context.Context, key string, data []byte) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create category directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write blob", goerr.V("key", key))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close blob", goerr.V("key", key))
	}

	if err := os.Link(tmpName, dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return goerr.Wrap(interfaces.ErrBlobExists, "blob exists", goerr.V("key", key))
		}
		return goerr.Wrap(err, "failed to link blob", goerr.V("key", key))
	}
	return nil
}

func (s *LocalStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(interfaces.ErrBlobNotFound, "no such blob", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open blob", goerr.V("key", key))
	}
	return f, nil
}

func (s *LocalStorage) List(_ context.Context, prefix string) ([]interfaces.BlobInfo, error) {
	var blobs []interfaces.BlobInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) || !strings.Contains(key, "/") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		blobs = append(blobs, interfaces.BlobInfo{
			Key:       key,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list blobs", goerr.V("prefix", prefix))
	}
	return blobs, nil
}

func (s *LocalStorage) Locate(key string) string {
	p, err := s.path(key)
	if err != nil {
		return ""
	}
	return p
}
