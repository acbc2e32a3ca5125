// Package ingest runs one media item from receipt to admission or rejection
package ingest

import (
	"context"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/policy"
	"github.com/m-mizutani/emoshelf/pkg/utils/imaging"
)

// DefaultThreshold lets label-only backends, which report NeutralConfidence, pass
const DefaultThreshold = model.NeutralConfidence

// Store is the admission side of the archive
type Store interface {
	Admit(ctx context.Context, category model.Category, data []byte, format model.Format, source string) (*model.MediaReference, bool, error)
}

// UseCase is the ingestion pipeline
type UseCase struct {
	taxonomy   *model.Taxonomy
	store      Store
	classifier classify.Classifier
	fetcher    adapter.Fetcher
	policy     policy.Evaluator

	threshold float64
	normalize bool
	imaging   imaging.Options
	timeout   time.Duration
}

type Option func(*UseCase)

// WithThreshold sets the minimum confidence for admission
func WithThreshold(threshold float64) Option {
	return func(uc *UseCase) {
		uc.threshold = threshold
	}
}

// WithFetcher replaces the fetcher used for locators
func WithFetcher(fetcher adapter.Fetcher) Option {
	return func(uc *UseCase) {
		uc.fetcher = fetcher
	}
}

// WithPolicy enables the admission policy
func WithPolicy(p policy.Evaluator) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// WithNormalize toggles re-encoding. Disabled stores media as received.
func WithNormalize(enabled bool, opts imaging.Options) Option {
	return func(uc *UseCase) {
		uc.normalize = enabled
		uc.imaging = opts
	}
}

// WithTimeout bounds a single ingestion. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		uc.timeout = d
	}
}

// New creates the pipeline
func New(taxonomy *model.Taxonomy, store Store, classifier classify.Classifier, opts ...Option) *UseCase {
	uc := &UseCase{
		taxonomy:   taxonomy,
		store:      store,
		classifier: classifier,
		fetcher:    adapter.NewFetcher(),
		threshold:  DefaultThreshold,
		normalize:  true,
		imaging:    imaging.DefaultOptions(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
