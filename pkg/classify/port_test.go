package classify_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/gt"
)

type mockBackend struct {
	imageFunc func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error)
	textFunc  func(ctx context.Context, text string, categories []model.Category) (*classify.Label, error)
	calls     int
}

func (m *mockBackend) ClassifyImage(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
	m.calls++
	if m.imageFunc != nil {
		return m.imageFunc(ctx, data, mimeType, categories)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBackend) ClassifyText(ctx context.Context, text string, categories []model.Category) (*classify.Label, error) {
	m.calls++
	if m.textFunc != nil {
		return m.textFunc(ctx, text, categories)
	}
	return nil, errors.New("not implemented")
}

func score(v float64) *float64 {
	return &v
}

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func testTaxonomy(t *testing.T) *model.Taxonomy {
	t.Helper()
	tx, err := model.NewTaxonomy(
		[]model.Category{"happy", "sad", "angry"},
		map[string]model.Category{"joy": "happy", "sorrow": "sad"},
	)
	gt.NoError(t, err)
	return tx
}

func TestClassifyImage(t *testing.T) {
	ctx := context.Background()

	t.Run("scored label", func(t *testing.T) {
		backend := &mockBackend{
			imageFunc: func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
				gt.Equal(t, mimeType, "image/png")
				gt.A(t, categories).Length(3)
				return &classify.Label{Token: "Sad", Score: score(0.8)}, nil
			},
		}
		result, err := classify.New(backend, testTaxonomy(t)).ClassifyImage(ctx, testImage(t))
		gt.NoError(t, err)
		gt.Equal(t, result.Category, model.Category("sad"))
		gt.Equal(t, result.Confidence, 0.8)
		gt.True(t, result.Scored)
	})

	t.Run("label only backend gets neutral confidence", func(t *testing.T) {
		backend := &mockBackend{
			imageFunc: func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
				return &classify.Label{Token: "joy"}, nil
			},
		}
		result, err := classify.New(backend, testTaxonomy(t)).ClassifyImage(ctx, testImage(t))
		gt.NoError(t, err)
		gt.Equal(t, result.Category, model.Category("happy"))
		gt.Equal(t, result.Confidence, model.NeutralConfidence)
		gt.False(t, result.Scored)
		gt.Equal(t, result.Raw, "joy")
	})

	t.Run("score is clamped", func(t *testing.T) {
		backend := &mockBackend{
			imageFunc: func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
				return &classify.Label{Token: "angry", Score: score(1.7)}, nil
			},
		}
		result, err := classify.New(backend, testTaxonomy(t)).ClassifyImage(ctx, testImage(t))
		gt.NoError(t, err)
		gt.Equal(t, result.Confidence, 1.0)
	})

	t.Run("unmapped label", func(t *testing.T) {
		backend := &mockBackend{
			imageFunc: func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
				return &classify.Label{Token: "neutral", Score: score(0.9)}, nil
			},
		}
		_, err := classify.New(backend, testTaxonomy(t)).ClassifyImage(ctx, testImage(t))
		gt.True(t, errors.Is(err, classify.ErrUnrecognizedLabel))
	})

	t.Run("invalid media never reaches backend", func(t *testing.T) {
		backend := &mockBackend{}
		port := classify.New(backend, testTaxonomy(t))

		_, err := port.ClassifyImage(ctx, nil)
		gt.True(t, errors.Is(err, classify.ErrInvalidMedia))

		_, err = port.ClassifyImage(ctx, []byte("text, not pixels"))
		gt.True(t, errors.Is(err, classify.ErrInvalidMedia))

		img := testImage(t)
		_, err = port.ClassifyImage(ctx, img[:len(img)/2])
		gt.True(t, errors.Is(err, classify.ErrInvalidMedia))
		gt.Equal(t, backend.calls, 0)
	})

	t.Run("backend failure is a transport error", func(t *testing.T) {
		backend := &mockBackend{
			imageFunc: func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
				return nil, errors.New("503 service unavailable")
			},
		}
		_, err := classify.New(backend, testTaxonomy(t)).ClassifyImage(ctx, testImage(t))
		gt.True(t, errors.Is(err, classify.ErrTransport))
		gt.Equal(t, backend.calls, 1)
	})
}

func TestClassifyText(t *testing.T) {
	ctx := context.Background()
	backend := &mockBackend{
		textFunc: func(ctx context.Context, text string, categories []model.Category) (*classify.Label, error) {
			gt.Equal(t, text, "what a lovely day")
			return &classify.Label{Token: "joy", Score: score(0.99)}, nil
		},
	}
	port := classify.New(backend, testTaxonomy(t))

	c, err := port.ClassifyText(ctx, "what a lovely day")
	gt.NoError(t, err)
	gt.Equal(t, c, model.Category("happy"))

	_, err = port.ClassifyText(ctx, "")
	gt.True(t, errors.Is(err, classify.ErrInvalidMedia))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after failures", func(t *testing.T) {
		failures := 2
		backend := &mockBackend{
			imageFunc: func(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*classify.Label, error) {
				if failures > 0 {
					failures--
					return nil, errors.New("temporary")
				}
				return &classify.Label{Token: "happy"}, nil
			},
		}
		port := classify.New(classify.WithRetry(backend, 3, time.Millisecond), testTaxonomy(t))
		result, err := port.ClassifyImage(ctx, testImage(t))
		gt.NoError(t, err)
		gt.Equal(t, result.Category, model.Category("happy"))
		gt.Equal(t, backend.calls, 3)
	})

	t.Run("gives up", func(t *testing.T) {
		backend := &mockBackend{}
		port := classify.New(classify.WithRetry(backend, 2, time.Millisecond), testTaxonomy(t))
		_, err := port.ClassifyText(ctx, "hello")
		gt.True(t, errors.Is(err, classify.ErrTransport))
		gt.Equal(t, backend.calls, 2)
	})

	t.Run("disabled", func(t *testing.T) {
		backend := &mockBackend{}
		gt.Equal(t, classify.WithRetry(backend, 1, time.Second), classify.Backend(backend))
	})
}
