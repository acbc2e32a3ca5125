package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrDownloadFailed = goerr.New("failed to download media")
	ErrMediaTooLarge  = goerr.New("media is too large")
)

const DefaultMaxMediaBytes int64 = 20 * 1024 * 1024

// Fetcher retrieves raw media bytes from a local path or a remote locator
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

type httpFetcher struct {
	client    *http.Client
	downgrade bool
	maxBytes  int64
}

type FetcherOption func(*httpFetcher)

func WithFetchHTTPClient(client *http.Client) FetcherOption {
	return func(f *httpFetcher) {
		f.client = client
	}
}

// WithInsecureDowngrade rewrites https locators to http before fetching. Only for
// environments that cannot reach the media host over TLS.
func WithInsecureDowngrade(enabled bool) FetcherOption {
	return func(f *httpFetcher) {
		f.downgrade = enabled
	}
}

func WithMaxBytes(n int64) FetcherOption {
	return func(f *httpFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// NewFetcher creates a Fetcher for file paths, file:// and http(s):// locators
func NewFetcher(opts ...FetcherOption) Fetcher {
	f := &httpFetcher{
		client:   http.DefaultClient,
		maxBytes: DefaultMaxMediaBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *httpFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// no scheme (or a windows drive letter) means a local path
		return f.readFile(locator)
	}

	switch u.Scheme {
	case "file":
		return f.readFile(u.Path)
	case "http", "https":
		return f.get(ctx, u)
	default:
		return nil, goerr.Wrap(ErrDownloadFailed, "unsupported locator scheme", goerr.V("scheme", u.Scheme))
	}
}

func (f *httpFetcher) readFile(path string) ([]byte, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(ErrDownloadFailed, "failed to open media file",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	defer fd.Close()
	return f.readLimited(fd)
}

func (f *httpFetcher) get(ctx context.Context, u *url.URL) ([]byte, error) {
	if f.downgrade && u.Scheme == "https" {
		u = &url.URL{Scheme: "http", Host: u.Host, Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, goerr.Wrap(ErrDownloadFailed, "failed to create request",
			goerr.V("host", u.Host), goerr.V("cause", requestCause(err)))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(ErrDownloadFailed, "failed to fetch media",
			goerr.V("host", u.Host), goerr.V("cause", requestCause(err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.Wrap(ErrDownloadFailed, "unexpected status code",
			goerr.V("host", u.Host), goerr.V("status", resp.StatusCode))
	}

	return f.readLimited(resp.Body)
}

// requestCause drops the request URL from err. Locators may carry credentials in their
// path, e.g. Telegram file links.
func requestCause(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Op + ": " + ue.Err.Error()
	}
	return err.Error()
}

func (f *httpFetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, goerr.Wrap(ErrDownloadFailed, "failed to read media", goerr.V("cause", err.Error()))
	}
	if int64(len(data)) > f.maxBytes {
		return nil, goerr.Wrap(ErrMediaTooLarge, "media exceeds limit", goerr.V("max_bytes", f.maxBytes))
	}
	return data, nil
}

// IsRemote reports whether locator needs a network fetch
func IsRemote(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}
