package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/policy"
	"github.com/m-mizutani/emoshelf/pkg/repository"
	"github.com/m-mizutani/emoshelf/pkg/usecase/ingest"
	"github.com/m-mizutani/emoshelf/pkg/utils/imaging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockClassifier struct {
	imageFunc func(ctx context.Context, data []byte) (*model.ClassificationResult, error)
	calls     int
}

func (m *mockClassifier) ClassifyImage(ctx context.Context, data []byte) (*model.ClassificationResult, error) {
	m.calls++
	return m.imageFunc(ctx, data)
}

func (m *mockClassifier) ClassifyText(ctx context.Context, text string) (model.Category, error) {
	return "", errors.New("not implemented")
}

func fixed(category model.Category, confidence float64) *mockClassifier {
	return &mockClassifier{
		imageFunc: func(ctx context.Context, data []byte) (*model.ClassificationResult, error) {
			return &model.ClassificationResult{Category: category, Confidence: confidence, Scored: true}, nil
		},
	}
}

func pngImage(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	archive *archive.Archive
	store   *adapter.LocalStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := adapter.NewLocalStorage(t.TempDir())
	gt.NoError(t, err)
	a, err := archive.New(context.Background(), model.DefaultTaxonomy(), store, repository.NewMemory())
	gt.NoError(t, err)
	return &fixture{archive: a, store: store}
}

func (f *fixture) count(t *testing.T, c model.Category) int {
	t.Helper()
	refs, err := f.archive.Listing(c)
	gt.NoError(t, err)
	return len(refs)
}

func TestIngestThreshold(t *testing.T) {
	ctx := context.Background()

	t.Run("above threshold is admitted", func(t *testing.T) {
		f := newFixture(t)
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("happy", 0.9), ingest.WithThreshold(0.6))

		result := uc.Ingest(ctx, &model.IngestionRequest{Source: "alice", Data: pngImage(t, 1)})
		gt.True(t, result.Admitted())
		gt.Equal(t, result.Category, model.Category("happy"))
		gt.Equal(t, result.Reference.Format, model.FormatJPEG)
		gt.Equal(t, f.count(t, "happy"), 1)
		gt.S(t, result.Message()).Contains("added happy")
	})

	t.Run("below threshold leaves the store unchanged", func(t *testing.T) {
		f := newFixture(t)
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("sad", 0.4), ingest.WithThreshold(0.6))

		result := uc.Ingest(ctx, &model.IngestionRequest{Source: "alice", Data: pngImage(t, 2)})
		gt.False(t, result.Admitted())
		gt.Equal(t, result.Reason, model.RejectLowConfidence)
		gt.Equal(t, result.Category, model.Category("sad"))
		gt.Equal(t, f.count(t, "sad"), 0)

		blobs, err := f.store.List(ctx, "")
		gt.NoError(t, err)
		gt.A(t, blobs).Length(0)
	})

	t.Run("neutral confidence passes the default threshold", func(t *testing.T) {
		f := newFixture(t)
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("angry", model.NeutralConfidence))

		result := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 3)})
		gt.True(t, result.Admitted())
	})
}

func TestIngestExplicitLabel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	classifier := fixed("happy", 0.9)
	uc := ingest.New(model.DefaultTaxonomy(), f.archive, classifier, ingest.WithThreshold(0.6))

	result := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 4), Label: "Angry"})
	gt.True(t, result.Admitted())
	gt.Equal(t, result.Category, model.Category("angry"))
	gt.Equal(t, result.Confidence, 1.0)
	gt.Equal(t, classifier.calls, 0)

	result = uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 5), Label: "生气"})
	gt.True(t, result.Admitted())
	gt.Equal(t, result.Category, model.Category("angry"))

	result = uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 6), Label: "bored"})
	gt.Equal(t, result.Reason, model.RejectUnknownCategory)
	gt.S(t, result.Message()).Contains("bored")
	gt.Equal(t, f.count(t, "angry"), 2)
}

func TestIngestRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("no media", func(t *testing.T) {
		f := newFixture(t)
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("happy", 1))
		result := uc.Ingest(ctx, &model.IngestionRequest{Source: "bob"})
		gt.Equal(t, result.Reason, model.RejectNoMedia)
		gt.True(t, result.ID != "")
	})

	t.Run("download failure", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		f := newFixture(t)
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("happy", 1))
		result := uc.Ingest(ctx, &model.IngestionRequest{Locator: ts.URL + "/missing.png"})
		gt.Equal(t, result.Reason, model.RejectDownloadFailed)
		gt.True(t, errors.Is(result.Err, adapter.ErrDownloadFailed))
	})

	t.Run("unsupported format", func(t *testing.T) {
		f := newFixture(t)
		classifier := fixed("happy", 1)
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, classifier)
		result := uc.Ingest(ctx, &model.IngestionRequest{Data: []byte("plain text, not an image")})
		gt.Equal(t, result.Reason, model.RejectUnsupportedFormat)
		gt.Equal(t, classifier.calls, 0)
	})

	t.Run("unrecognized label", func(t *testing.T) {
		f := newFixture(t)
		classifier := &mockClassifier{
			imageFunc: func(ctx context.Context, data []byte) (*model.ClassificationResult, error) {
				return nil, goerr.Wrap(classify.ErrUnrecognizedLabel, "neutral")
			},
		}
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, classifier)
		result := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 7)})
		gt.Equal(t, result.Reason, model.RejectUnrecognizedLabel)
	})

	t.Run("classification failure", func(t *testing.T) {
		f := newFixture(t)
		classifier := &mockClassifier{
			imageFunc: func(ctx context.Context, data []byte) (*model.ClassificationResult, error) {
				return nil, goerr.Wrap(classify.ErrTransport, "timeout")
			},
		}
		uc := ingest.New(model.DefaultTaxonomy(), f.archive, classifier)
		result := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 8)})
		gt.Equal(t, result.Reason, model.RejectClassificationFailed)
		gt.S(t, result.Message()).Contains("try again")
	})
}

func TestIngestPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := policy.New(ctx, map[string]string{"admission.rego": `package admission

allow if input.category != "disgust"

reason := "no disgust please" if not allow
`})
	gt.NoError(t, err)

	f := newFixture(t)
	uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("disgust", 0.9), ingest.WithPolicy(p))
	result := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 9)})
	gt.Equal(t, result.Reason, model.RejectPolicyDenied)
	gt.Equal(t, result.Detail, "no disgust please")
	gt.Equal(t, f.count(t, "disgust"), 0)

	uc = ingest.New(model.DefaultTaxonomy(), f.archive, fixed("love", 0.9), ingest.WithPolicy(p))
	result = uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 9)})
	gt.True(t, result.Admitted())
}

func TestIngestDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("surprised", 0.9))

	first := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 10)})
	gt.True(t, first.Admitted())
	gt.False(t, first.Duplicate)

	second := uc.Ingest(ctx, &model.IngestionRequest{Data: pngImage(t, 10)})
	gt.True(t, second.Admitted())
	gt.True(t, second.Duplicate)
	gt.Equal(t, second.Reference.Key, first.Reference.Key)
	gt.Equal(t, f.count(t, "surprised"), 1)
}

func TestIngestWithoutNormalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uc := ingest.New(model.DefaultTaxonomy(), f.archive, fixed("happy", 0.9),
		ingest.WithNormalize(false, imaging.DefaultOptions()))

	data := pngImage(t, 11)
	result := uc.Ingest(ctx, &model.IngestionRequest{Data: data})
	gt.True(t, result.Admitted())
	gt.Equal(t, result.Reference.Format, model.FormatPNG)
	gt.Equal(t, result.Reference.Hash, model.ContentHash(data))
}

func TestIngestTimeout(t *testing.T) {
	f := newFixture(t)
	classifier := &mockClassifier{
		imageFunc: func(ctx context.Context, data []byte) (*model.ClassificationResult, error) {
			<-ctx.Done()
			return nil, goerr.Wrap(classify.ErrTransport, "canceled", goerr.V("cause", ctx.Err()))
		},
	}
	uc := ingest.New(model.DefaultTaxonomy(), f.archive, classifier, ingest.WithTimeout(10*time.Millisecond))

	result := uc.Ingest(context.Background(), &model.IngestionRequest{Data: pngImage(t, 12)})
	gt.Equal(t, result.Reason, model.RejectClassificationFailed)
	gt.Equal(t, f.count(t, "happy"), 0)
}

func TestIngestTruncatedImage(t *testing.T) {
	ctx := context.Background()
	data := pngImage(t, 13)
	truncated := data[:len(data)/2]

	for _, normalize := range []bool{true, false} {
		t.Run(fmt.Sprintf("normalize=%v", normalize), func(t *testing.T) {
			f := newFixture(t)
			classifier := fixed("happy", 0.9)
			uc := ingest.New(model.DefaultTaxonomy(), f.archive, classifier,
				ingest.WithNormalize(normalize, imaging.DefaultOptions()))

			result := uc.Ingest(ctx, &model.IngestionRequest{Data: truncated, Label: "happy"})
			gt.False(t, result.Admitted())
			gt.Equal(t, result.Reason, model.RejectUnsupportedFormat)

			result = uc.Ingest(ctx, &model.IngestionRequest{Data: truncated})
			gt.Equal(t, result.Reason, model.RejectUnsupportedFormat)
			gt.Equal(t, classifier.calls, 0)
			gt.Equal(t, f.count(t, "happy"), 0)
		})
	}
}
