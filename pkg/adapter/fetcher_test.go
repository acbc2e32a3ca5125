package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	gt.NoError(t, os.WriteFile(path, []byte("pixels"), 0o644))

	f := adapter.NewFetcher()
	data, err := f.Fetch(context.Background(), path)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "pixels")

	data, err = f.Fetch(context.Background(), "file://"+path)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "pixels")

	_, err = f.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	gt.True(t, errors.Is(err, adapter.ErrDownloadFailed))
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write([]byte("remote pixels"))
		case "/big.png":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	data, err := adapter.NewFetcher().Fetch(ctx, srv.URL+"/ok.png")
	gt.NoError(t, err)
	gt.Equal(t, string(data), "remote pixels")

	_, err = adapter.NewFetcher().Fetch(ctx, srv.URL+"/missing.png")
	gt.True(t, errors.Is(err, adapter.ErrDownloadFailed))

	_, err = adapter.NewFetcher(adapter.WithMaxBytes(16)).Fetch(ctx, srv.URL+"/big.png")
	gt.True(t, errors.Is(err, adapter.ErrMediaTooLarge))
}

func TestFetchInsecureDowngrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain"))
	}))
	defer srv.Close()

	secure := strings.Replace(srv.URL, "http://", "https://", 1) + "/img"
	ctx := context.Background()

	// without opt-in the TLS handshake against a plain server fails
	_, err := adapter.NewFetcher().Fetch(ctx, secure)
	gt.True(t, errors.Is(err, adapter.ErrDownloadFailed))

	data, err := adapter.NewFetcher(adapter.WithInsecureDowngrade(true)).Fetch(ctx, secure)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "plain")
}

func TestFetchErrorHidesLocatorPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	link := srv.URL + "/file/botSECRET123:ABC/photos/x.jpg"
	srv.Close()

	_, err := adapter.NewFetcher().Fetch(context.Background(), link)
	gt.True(t, errors.Is(err, adapter.ErrDownloadFailed))
	gt.False(t, strings.Contains(err.Error(), "SECRET123"))
	gt.False(t, strings.Contains(fmt.Sprintf("%+v", err), "SECRET123"))

	values := goerr.Values(err)
	gt.NotEqual(t, len(values), 0)
	for key, v := range values {
		gt.Bool(t, strings.Contains(fmt.Sprint(v), "SECRET123")).Describef("value %q leaks the link", key).False()
	}
}
