// Package classify maps images and text to a category of the configured taxonomy.
// The inference itself is delegated to a swappable Backend.
package classify

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "golang.org/x/image/webp"
)

var (
	ErrInvalidMedia       = goerr.New("invalid media")
	ErrUnrecognizedLabel  = goerr.New("unrecognized label")
	ErrTransport          = goerr.New("classification backend failed")
	ErrUnsupportedRequest = goerr.New("backend does not support this modality")
)

// Label is the raw answer of a backend. Score is nil for label-only backends.
type Label struct {
	Token string
	Score *float64
}

// Backend is an inference provider. Implementations return the raw label token; mapping
// into the taxonomy is done by Port.
type Backend interface {
	ClassifyImage(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*Label, error)
	ClassifyText(ctx context.Context, text string, categories []model.Category) (*Label, error)
}

// Classifier is the classification capability consumed by the pipeline and the dispatcher
type Classifier interface {
	ClassifyImage(ctx context.Context, data []byte) (*model.ClassificationResult, error)
	ClassifyText(ctx context.Context, text string) (model.Category, error)
}

// Port validates input, calls the backend and maps its answer into the taxonomy
type Port struct {
	backend  Backend
	taxonomy *model.Taxonomy
}

var _ Classifier = (*Port)(nil)

// New creates a classification port
func New(backend Backend, taxonomy *model.Taxonomy) *Port {
	return &Port{
		backend:  backend,
		taxonomy: taxonomy,
	}
}

// ClassifyImage classifies a still image
func (p *Port) ClassifyImage(ctx context.Context, data []byte) (*model.ClassificationResult, error) {
	if len(data) == 0 {
		return nil, goerr.Wrap(ErrInvalidMedia, "empty image")
	}
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidMedia, "image is not decodable", goerr.V("cause", err.Error()))
	}

	label, err := p.backend.ClassifyImage(ctx, data, "image/"+format, p.taxonomy.Names())
	if err != nil {
		return nil, wrapTransport(err)
	}

	category, err := p.mapLabel(label)
	if err != nil {
		return nil, err
	}

	result := &model.ClassificationResult{
		Category:   category,
		Confidence: model.NeutralConfidence,
		Raw:        label.Token,
	}
	if label.Score != nil {
		result.Confidence = clamp(*label.Score)
		result.Scored = true
	}
	return result, nil
}

// ClassifyText classifies a piece of conversational text
func (p *Port) ClassifyText(ctx context.Context, text string) (model.Category, error) {
	if text == "" {
		return "", goerr.Wrap(ErrInvalidMedia, "empty text")
	}

	label, err := p.backend.ClassifyText(ctx, text, p.taxonomy.Names())
	if err != nil {
		return "", wrapTransport(err)
	}

	return p.mapLabel(label)
}

func (p *Port) mapLabel(label *Label) (model.Category, error) {
	if label == nil || label.Token == "" {
		return "", goerr.Wrap(ErrUnrecognizedLabel, "backend returned no label")
	}
	category, ok := p.taxonomy.Resolve(label.Token)
	if !ok {
		return "", goerr.Wrap(ErrUnrecognizedLabel, "label is not in taxonomy", goerr.V("label", label.Token))
	}
	return category, nil
}

func wrapTransport(err error) error {
	if errors.Is(err, ErrUnsupportedRequest) {
		return err
	}
	return goerr.Wrap(ErrTransport, "backend call failed", goerr.V("cause", err.Error()))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
