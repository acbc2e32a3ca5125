package classify

import (
	"context"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultImageModel = "DunnBC22/cnn_image_classification_emotion_detection"
	DefaultTextModel  = "bhadresh-savani/distilbert-base-uncased-emotion"
)

// Dedicated uses one purpose-built classifier model per modality. The highest scored
// prediction wins.
type Dedicated struct {
	client     adapter.Inference
	imageModel string
	textModel  string
}

var _ Backend = (*Dedicated)(nil)

// NewDedicated creates the backend. An empty textModel disables text classification.
func NewDedicated(client adapter.Inference, imageModel, textModel string) *Dedicated {
	return &Dedicated{
		client:     client,
		imageModel: imageModel,
		textModel:  textModel,
	}
}

func (d *Dedicated) ClassifyImage(ctx context.Context, data []byte, mimeType string, _ []model.Category) (*Label, error) {
	if d.imageModel == "" {
		return nil, goerr.Wrap(ErrUnsupportedRequest, "no image model configured")
	}
	predictions, err := d.client.ClassifyImage(ctx, d.imageModel, data, mimeType)
	if err != nil {
		return nil, err
	}
	return topLabel(predictions), nil
}

func (d *Dedicated) ClassifyText(ctx context.Context, text string, _ []model.Category) (*Label, error) {
	if d.textModel == "" {
		return nil, goerr.Wrap(ErrUnsupportedRequest, "no text model configured")
	}
	predictions, err := d.client.ClassifyText(ctx, d.textModel, text)
	if err != nil {
		return nil, err
	}
	return topLabel(predictions), nil
}

// topLabel expects predictions sorted by score
func topLabel(predictions []adapter.Prediction) *Label {
	if len(predictions) == 0 {
		return &Label{}
	}
	score := predictions[0].Score
	return &Label{Token: predictions[0].Label, Score: &score}
}
