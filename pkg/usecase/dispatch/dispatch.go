// Package dispatch decides when to send a stored image along with a conversational
// response, and which one.
package dispatch

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultProbability = 0.7
	DefaultDelay       = 500 * time.Millisecond
)

var (
	ErrInvalidProbability = goerr.New("emit probability must be within [0, 1]")
	ErrInvalidMode        = goerr.New("unknown react mode")
)

// Mode selects how the target category of a response is determined
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeClassify Mode = "classify"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeKeyword, ModeClassify:
		return Mode(s), nil
	default:
		return "", goerr.Wrap(ErrInvalidMode, "invalid react mode", goerr.V("mode", s))
	}
}

// Library is the read side of the archive
type Library interface {
	Sample(category model.Category) (*model.MediaReference, error)
}

// Emitter delivers a stored image to the conversation
type Emitter interface {
	Emit(ctx context.Context, ref *model.MediaReference) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, ref *model.MediaReference) error

func (f EmitterFunc) Emit(ctx context.Context, ref *model.MediaReference) error {
	return f(ctx, ref)
}

// Dispatcher picks stored images explicitly or in reaction to responses
type Dispatcher struct {
	taxonomy   *model.Taxonomy
	library    Library
	classifier classify.Classifier

	mode        Mode
	probability float64
	delay       time.Duration
	roll        func() float64
}

type Option func(*Dispatcher)

// WithProbability sets the chance that a response triggers an emission
func WithProbability(p float64) Option {
	return func(d *Dispatcher) {
		d.probability = p
	}
}

// WithDelay sets the pause before a reactive emission
func WithDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.delay = delay
	}
}

// WithClassifier switches targeting to text classification
func WithClassifier(classifier classify.Classifier) Option {
	return func(d *Dispatcher) {
		d.classifier = classifier
		d.mode = ModeClassify
	}
}

// WithRoll replaces the random source of the probability gate. It must return values
// in [0, 1).
func WithRoll(roll func() float64) Option {
	return func(d *Dispatcher) {
		d.roll = roll
	}
}

// New creates a dispatcher in keyword mode unless WithClassifier is given
func New(taxonomy *model.Taxonomy, library Library, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		taxonomy:    taxonomy,
		library:     library,
		mode:        ModeKeyword,
		probability: DefaultProbability,
		delay:       DefaultDelay,
		roll:        rand.Float64,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.probability < 0 || d.probability > 1 {
		return nil, goerr.Wrap(ErrInvalidProbability, "invalid emit probability", goerr.V("probability", d.probability))
	}
	if d.mode == ModeClassify && d.classifier == nil {
		return nil, goerr.Wrap(ErrInvalidMode, "classify mode requires a classifier")
	}
	return d, nil
}

// Pick samples a reference of category without delay. It returns nil when the
// category is empty.
func (d *Dispatcher) Pick(category model.Category) (*model.MediaReference, error) {
	return d.library.Sample(category)
}

// React may emit an image matching the emotion of resp. It returns the emitted
// reference, or nil when nothing was sent. Failures are logged, not returned.
func (d *Dispatcher) React(ctx context.Context, resp *model.Response, emitter Emitter) *model.MediaReference {
	logger := logging.From(ctx)

	text := strings.TrimSpace(resp.PlainText())
	if text == "" {
		return nil
	}

	if d.roll() >= d.probability {
		logger.Debug("reaction skipped by probability", "probability", d.probability)
		return nil
	}

	category, ok := d.target(ctx, text)
	if !ok {
		return nil
	}

	ref, err := d.library.Sample(category)
	if err != nil {
		logger.Warn("failed to sample media", "category", category, "error", err)
		return nil
	}
	if ref == nil {
		logger.Debug("no media in category", "category", category)
		return nil
	}

	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			logger.Debug("reaction canceled", "category", category)
			return nil
		case <-timer.C:
		}
	}

	if err := emitter.Emit(ctx, ref); err != nil {
		logger.Warn("failed to emit media", "category", category, "key", ref.Key, "error", err)
		return nil
	}

	logger.Info("media emitted", "category", category, "key", ref.Key)
	return ref
}

func (d *Dispatcher) target(ctx context.Context, text string) (model.Category, bool) {
	if d.mode == ModeClassify {
		category, err := d.classifier.ClassifyText(ctx, text)
		if err != nil {
			logging.From(ctx).Warn("failed to classify response text", "error", err)
			return "", false
		}
		return category, true
	}

	return d.taxonomy.Match(text)
}
