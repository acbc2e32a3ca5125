// Package archive owns the category index and the blob store. Admission is the only
// way to add media; every other component reads through the index.
package archive

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrIOFailure = goerr.New("archive io failure")
	ErrEmptyData = goerr.New("media data is empty")
)

// shelf holds one category. mu serializes admissions; listing is replaced, never mutated.
type shelf struct {
	mu      sync.Mutex
	listing atomic.Pointer[model.CategoryListing]
}

// Archive is the category index plus its blob store
type Archive struct {
	taxonomy *model.Taxonomy
	blobs    interfaces.BlobStore
	repo     interfaces.IndexRepository

	shelves map[model.Category]*shelf

	// saveMu serializes index persistence and publication of new listings
	saveMu sync.Mutex

	intn func(n int) int
	now  func() time.Time
}

type Option func(*Archive)

// WithRandom replaces the random source used by Sample
func WithRandom(intn func(n int) int) Option {
	return func(a *Archive) {
		a.intn = intn
	}
}

// WithClock replaces the clock used for AddedAt
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		a.now = now
	}
}

// New loads the index or creates it. When no index exists but blobs do, the index is
// rebuilt from the blob listing.
func New(ctx context.Context, taxonomy *model.Taxonomy, blobs interfaces.BlobStore, repo interfaces.IndexRepository, opts ...Option) (*Archive, error) {
	a := &Archive{
		taxonomy: taxonomy,
		blobs:    blobs,
		repo:     repo,
		shelves:  make(map[model.Category]*shelf),
		intn:     rand.IntN,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, c := range taxonomy.Names() {
		s := &shelf{}
		s.listing.Store(&model.CategoryListing{Category: c, NextSeq: 1})
		a.shelves[c] = s
	}

	idx, err := repo.LoadIndex(ctx)
	switch {
	case errors.Is(err, interfaces.ErrIndexNotFound):
		if err := a.initialize(ctx); err != nil {
			return nil, err
		}
		return a, nil
	case err != nil:
		return nil, goerr.Wrap(err, "failed to load index")
	}

	for c, listing := range idx.Categories {
		s, ok := a.shelves[c]
		if !ok {
			logging.From(ctx).Warn("ignore index category outside taxonomy", "category", c, "count", len(listing.Refs))
			continue
		}
		if listing.NextSeq < 1 {
			listing.NextSeq = int64(len(listing.Refs)) + 1
		}
		listing.Category = c
		s.listing.Store(listing)
	}

	logging.From(ctx).Debug("index loaded", "stats", a.Stats())
	return a, nil
}

func (a *Archive) initialize(ctx context.Context) error {
	blobs, err := a.blobs.List(ctx, "")
	if err != nil {
		return goerr.Wrap(err, "failed to list blobs")
	}

	if len(blobs) > 0 {
		logging.From(ctx).Info("index not found, rebuilding from blobs", "blobs", len(blobs))
		if _, err := a.Rebuild(ctx); err != nil {
			return goerr.Wrap(err, "failed to rebuild index")
		}
		return nil
	}

	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if err := a.repo.SaveIndex(ctx, a.snapshot(nil)); err != nil {
		return goerr.Wrap(ErrIOFailure, "failed to create index", goerr.V("cause", err))
	}
	return nil
}

// Taxonomy returns the configured categories
func (a *Archive) Taxonomy() *model.Taxonomy {
	return a.taxonomy
}

func (a *Archive) shelf(c model.Category) (*shelf, error) {
	s, ok := a.shelves[c]
	if !ok {
		return nil, goerr.Wrap(model.ErrUnknownCategory, "category is not configured", goerr.V("category", c))
	}
	return s, nil
}

// Admit stores data under category and appends it to the index. Identical content already
// listed in the category is not stored again; the existing reference is returned with
// duplicate set to true.
func (a *Archive) Admit(ctx context.Context, category model.Category, data []byte, format model.Format, source string) (ref *model.MediaReference, duplicate bool, err error) {
	s, err := a.shelf(category)
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, ErrEmptyData
	}

	hash := model.ContentHash(data)
	key := model.BlobKey(category, hash, format)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.listing.Load()
	for _, r := range current.Refs {
		if r.Hash == hash {
			return r, true, nil
		}
	}

	// blob first: a crash after this point leaves an orphan blob, never a dangling entry
	if err := a.blobs.Put(ctx, key, data); err != nil {
		if !errors.Is(err, interfaces.ErrBlobExists) {
			return nil, false, goerr.Wrap(ErrIOFailure, "failed to write blob",
				goerr.V("key", key), goerr.V("cause", err))
		}
		logging.From(ctx).Info("adopting orphan blob", "key", key)
	}

	ref = &model.MediaReference{
		Category: category,
		Key:      key,
		Hash:     hash,
		Format:   format,
		Seq:      current.NextSeq,
		Size:     int64(len(data)),
		Source:   source,
		AddedAt:  a.now().UTC(),
	}
	next := &model.CategoryListing{
		Category: category,
		NextSeq:  current.NextSeq + 1,
		Refs:     append(slices.Clip(current.Refs), ref),
	}

	if err := a.commit(ctx, map[model.Category]*model.CategoryListing{category: next}); err != nil {
		return nil, false, err
	}

	logging.From(ctx).Info("media admitted", "category", category, "key", key, "seq", ref.Seq)
	return ref, false, nil
}

// commit persists the index with the replaced listings and publishes them. Every
// replaced category must be configured. The save
// itself ignores cancellation so that an aborted caller does not leave an orphan blob.
func (a *Archive) commit(ctx context.Context, replaced map[model.Category]*model.CategoryListing) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	changed := make([]model.Category, 0, len(replaced))
	for c := range replaced {
		changed = append(changed, c)
	}

	if err := a.repo.SaveIndex(context.WithoutCancel(ctx), a.snapshot(replaced), changed...); err != nil {
		return goerr.Wrap(ErrIOFailure, "failed to save index", goerr.V("cause", err))
	}

	for c, listing := range replaced {
		a.shelves[c].listing.Store(listing)
	}
	return nil
}

// snapshot builds the full index from published listings, overlaid with replaced.
// Caller must hold saveMu.
func (a *Archive) snapshot(replaced map[model.Category]*model.CategoryListing) *model.Index {
	idx := &model.Index{Categories: make(map[model.Category]*model.CategoryListing, len(a.shelves))}
	for c, s := range a.shelves {
		idx.Categories[c] = s.listing.Load()
	}
	for c, listing := range replaced {
		idx.Categories[c] = listing
	}
	return idx
}

// Listing returns the references of a category in insertion order
func (a *Archive) Listing(category model.Category) ([]*model.MediaReference, error) {
	s, err := a.shelf(category)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.listing.Load().Refs), nil
}

// Sample picks a reference of the category uniformly at random. It returns nil when the
// category is empty.
func (a *Archive) Sample(category model.Category) (*model.MediaReference, error) {
	s, err := a.shelf(category)
	if err != nil {
		return nil, err
	}
	refs := s.listing.Load().Refs
	if len(refs) == 0 {
		return nil, nil
	}
	return refs[a.intn(len(refs))], nil
}

// CategoryStat is the number of stored items of one category
type CategoryStat struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

// Stats returns item counts in taxonomy order
func (a *Archive) Stats() []CategoryStat {
	stats := make([]CategoryStat, 0, len(a.shelves))
	for _, c := range a.taxonomy.Names() {
		stats = append(stats, CategoryStat{
			Category: c,
			Count:    len(a.shelves[c].listing.Load().Refs),
		})
	}
	return stats
}

// Open reads the blob of a reference
func (a *Archive) Open(ctx context.Context, ref *model.MediaReference) (io.ReadCloser, error) {
	r, err := a.blobs.Get(ctx, ref.Key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open media", goerr.V("key", ref.Key))
	}
	return r, nil
}

// ReadAll reads the whole blob of a reference
func (a *Archive) ReadAll(ctx context.Context, ref *model.MediaReference) ([]byte, error) {
	r, err := a.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read media", goerr.V("key", ref.Key))
	}
	return data, nil
}

// Locate returns where the blob of a reference is stored
func (a *Archive) Locate(ref *model.MediaReference) string {
	return a.blobs.Locate(ref.Key)
}
