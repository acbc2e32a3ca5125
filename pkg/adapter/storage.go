package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// CloudStorage implements interfaces.BlobStore on a Cloud Storage bucket
type CloudStorage struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

var _ interfaces.BlobStore = (*CloudStorage)(nil)

// NewCloudStorage creates a Cloud Storage backed blob store. prefix is prepended to every
// key so several archives can share one bucket.
func NewCloudStorage(ctx context.Context, bucketName, prefix string, opts ...option.ClientOption) (*CloudStorage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}

	return &CloudStorage{
		bucketName: bucketName,
		prefix:     prefix,
		client:     client,
	}, nil
}

func (s *CloudStorage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.prefix + key)
}

// Put uploads data with a DoesNotExist precondition so existing objects are never replaced
func (s *CloudStorage) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}

	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return goerr.Wrap(interfaces.ErrBlobExists, "object exists", goerr.V("key", key))
		}
		return goerr.Wrap(err, "failed to close object writer", goerr.V("key", key))
	}
	return nil
}

func (s *CloudStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(interfaces.ErrBlobNotFound, "no such object", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

func (s *CloudStorage) List(ctx context.Context, prefix string) ([]interfaces.BlobInfo, error) {
	it := s.client.Bucket(s.bucketName).Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})

	var blobs []interfaces.BlobInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list objects", goerr.V("prefix", prefix))
		}

		key := attrs.Name[len(s.prefix):]
		blobs = append(blobs, interfaces.BlobInfo{
			Key:       key,
			Size:      attrs.Size,
			CreatedAt: attrs.Created,
		})
	}
	return blobs, nil
}

func (s *CloudStorage) Locate(key string) string {
	return "gs://" + s.bucketName + "/" + s.prefix + key
}
