package archive

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/utils/imaging"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

const rebuildConcurrency = 8

// RebuildReport summarizes a rebuild per category
type RebuildReport struct {
	Added   map[model.Category]int
	Removed map[model.Category]int
	Total   int
	// Skipped are blobs that were not adopted: outside the taxonomy, not named like
	// media, or not decodable as an image
	Skipped []string
}

// Rebuild re-derives the index from the blob listing. Entries whose blob exists keep
// their sequence number; new blobs are appended in creation order; entries without a
// blob are dropped. Hashes are recomputed from content. Only configured categories and
// decodable images are adopted.
func (a *Archive) Rebuild(ctx context.Context) (*RebuildReport, error) {
	names := a.taxonomy.Names()
	for _, c := range names {
		a.shelves[c].mu.Lock()
	}
	defer func() {
		for _, c := range names {
			a.shelves[c].mu.Unlock()
		}
	}()

	blobs, err := a.blobs.List(ctx, "")
	if err != nil {
		return nil, goerr.Wrap(ErrIOFailure, "failed to list blobs", goerr.V("cause", err))
	}

	report := &RebuildReport{
		Added:   make(map[model.Category]int),
		Removed: make(map[model.Category]int),
	}

	grouped := make(map[model.Category][]interfaces.BlobInfo, len(names))
	for _, b := range blobs {
		c, ok := a.mediaCategory(b.Key)
		if !ok {
			logging.From(ctx).Warn("skip blob outside archive layout", "key", b.Key)
			report.Skipped = append(report.Skipped, b.Key)
			continue
		}
		grouped[c] = append(grouped[c], b)
	}

	current := a.currentListings()
	replaced := make(map[model.Category]*model.CategoryListing, len(names))
	for _, c := range names {
		listing, added, removed, skipped, err := a.rebuildCategory(ctx, c, current[c], grouped[c])
		if err != nil {
			return nil, err
		}
		replaced[c] = listing
		report.Added[c] = added
		report.Removed[c] = removed
		report.Total += len(listing.Refs)
		report.Skipped = append(report.Skipped, skipped...)
	}
	slices.Sort(report.Skipped)

	if err := a.commit(ctx, replaced); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("index rebuilt", "total", report.Total)
	return report, nil
}

func (a *Archive) currentListings() map[model.Category]*model.CategoryListing {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	listings := make(map[model.Category]*model.CategoryListing, len(a.shelves))
	for c, s := range a.shelves {
		listings[c] = s.listing.Load()
	}
	return listings
}

// mediaCategory returns the category of a blob key named like archived media
func (a *Archive) mediaCategory(key string) (model.Category, bool) {
	c, _, format, ok := model.ParseBlobKey(key)
	if !ok || format == model.FormatUnknown || !a.taxonomy.Has(c) {
		return "", false
	}
	return c, true
}

func (a *Archive) rebuildCategory(ctx context.Context, c model.Category, prev *model.CategoryListing, infos []interfaces.BlobInfo) (*model.CategoryListing, int, int, []string, error) {
	known := make(map[string]*model.MediaReference)
	nextSeq := int64(1)
	if prev != nil {
		nextSeq = prev.NextSeq
		for _, r := range prev.Refs {
			known[r.Key] = r
			nextSeq = max(nextSeq, r.Seq+1)
		}
	}

	slices.SortFunc(infos, func(x, y interfaces.BlobInfo) int {
		if cmp := x.CreatedAt.Compare(y.CreatedAt); cmp != 0 {
			return cmp
		}
		return strings.Compare(x.Key, y.Key)
	})

	refs := make([]*model.MediaReference, len(infos))
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(rebuildConcurrency)
	for i, info := range infos {
		if r, ok := known[info.Key]; ok {
			refs[i] = r
			continue
		}
		eg.Go(func() error {
			ref, err := a.deriveReference(egCtx, c, info)
			if err != nil {
				return err
			}
			mu.Lock()
			refs[i] = ref
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, 0, nil, err
	}

	// known entries keep their position, new ones follow in blob creation order
	var kept, added []*model.MediaReference
	var skipped []string
	for i, r := range refs {
		switch {
		case r == nil:
			skipped = append(skipped, infos[i].Key)
		case r.Seq > 0:
			kept = append(kept, r)
		default:
			added = append(added, r)
		}
	}
	slices.SortFunc(kept, func(x, y *model.MediaReference) int {
		return int(x.Seq - y.Seq)
	})
	for _, r := range added {
		r.Seq = nextSeq
		nextSeq++
	}

	removed := 0
	if prev != nil {
		removed = len(prev.Refs) - len(kept)
	}

	return &model.CategoryListing{
		Category: c,
		NextSeq:  nextSeq,
		Refs:     append(kept, added...),
	}, len(added), removed, skipped, nil
}

// deriveReference reads a blob and builds its reference. It returns nil without error
// when the blob is not a decodable image.
func (a *Archive) deriveReference(ctx context.Context, c model.Category, info interfaces.BlobInfo) (*model.MediaReference, error) {
	r, err := a.blobs.Get(ctx, info.Key)
	if err != nil {
		return nil, goerr.Wrap(ErrIOFailure, "failed to open blob", goerr.V("key", info.Key), goerr.V("cause", err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(ErrIOFailure, "failed to read blob", goerr.V("key", info.Key), goerr.V("cause", err))
	}

	format, err := imaging.Validate(data)
	if err != nil {
		logging.From(ctx).Warn("skip blob that is not a decodable image", "key", info.Key, "error", err)
		return nil, nil
	}

	_, nameHash, _, _ := model.ParseBlobKey(info.Key)
	hash := model.ContentHash(data)
	if hash != nameHash {
		logging.From(ctx).Warn("blob name is not its content hash", "key", info.Key, "hash", hash)
	}

	return &model.MediaReference{
		Category: c,
		Key:      info.Key,
		Hash:     hash,
		Format:   format,
		Size:     int64(len(data)),
		Source:   "rebuild",
		AddedAt:  info.CreatedAt.UTC(),
	}, nil
}

// VerifyReport lists the differences between the index and the blob store
type VerifyReport struct {
	// Orphans are blobs that no index entry refers to
	Orphans []string
	// Dangling are index entries without a blob
	Dangling []string
	// Foreign are blobs outside configured categories or not named like media. They are
	// never adopted and do not make the archive inconsistent.
	Foreign []string
}

// Consistent reports whether the index and the blob store match exactly
func (r *VerifyReport) Consistent() bool {
	return len(r.Orphans) == 0 && len(r.Dangling) == 0
}

// Verify compares the index with the blob listing
func (a *Archive) Verify(ctx context.Context) (*VerifyReport, error) {
	blobs, err := a.blobs.List(ctx, "")
	if err != nil {
		return nil, goerr.Wrap(ErrIOFailure, "failed to list blobs", goerr.V("cause", err))
	}

	stored := make(map[string]bool, len(blobs))
	report := &VerifyReport{}
	for _, b := range blobs {
		if _, ok := a.mediaCategory(b.Key); ok {
			stored[b.Key] = true
		} else {
			report.Foreign = append(report.Foreign, b.Key)
		}
	}

	for _, listing := range a.currentListings() {
		for _, r := range listing.Refs {
			if stored[r.Key] {
				delete(stored, r.Key)
			} else {
				report.Dangling = append(report.Dangling, r.Key)
			}
		}
	}
	for key := range stored {
		report.Orphans = append(report.Orphans, key)
	}
	slices.Sort(report.Orphans)
	slices.Sort(report.Dangling)
	slices.Sort(report.Foreign)
	return report, nil
}
