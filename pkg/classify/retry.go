package classify

import (
	"context"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// retryBackend retries failed backend calls. It is opt-in; Port never retries by itself.
type retryBackend struct {
	backend  Backend
	attempts int
	backoff  time.Duration
}

// WithRetry wraps backend so that each call is tried up to attempts times with a linear
// backoff. attempts <= 1 returns backend unchanged.
func WithRetry(backend Backend, attempts int, backoff time.Duration) Backend {
	if attempts <= 1 {
		return backend
	}
	return &retryBackend{
		backend:  backend,
		attempts: attempts,
		backoff:  backoff,
	}
}

func (r *retryBackend) ClassifyImage(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*Label, error) {
	return r.do(ctx, "image", func() (*Label, error) {
		return r.backend.ClassifyImage(ctx, data, mimeType, categories)
	})
}

func (r *retryBackend) ClassifyText(ctx context.Context, text string, categories []model.Category) (*Label, error) {
	return r.do(ctx, "text", func() (*Label, error) {
		return r.backend.ClassifyText(ctx, text, categories)
	})
}

func (r *retryBackend) do(ctx context.Context, kind string, fn func() (*Label, error)) (*Label, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			logging.From(ctx).Debug("retry classification", "kind", kind, "attempt", i+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, goerr.Wrap(ctx.Err(), "classification canceled", goerr.V("last_error", lastErr))
			case <-time.After(r.backoff * time.Duration(i)):
			}
		}

		label, err := fn()
		if err == nil {
			return label, nil
		}
		lastErr = err
	}

	return nil, goerr.Wrap(lastErr, "classification failed after retries", goerr.V("attempts", r.attempts))
}
