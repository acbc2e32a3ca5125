package archive_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

var errInjected = goerr.New("injected failure")

type flakyBlobs struct {
	interfaces.BlobStore
	failPut bool
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.failPut {
		return errInjected
	}
	return f.BlobStore.Put(ctx, key, data)
}

type flakyRepo struct {
	interfaces.IndexRepository
	failSave bool
}

func (f *flakyRepo) SaveIndex(ctx context.Context, idx *model.Index, changed ...model.Category) error {
	if f.failSave {
		return errInjected
	}
	return f.IndexRepository.SaveIndex(ctx, idx, changed...)
}

func newStore(t *testing.T) *adapter.LocalStorage {
	t.Helper()
	store, err := adapter.NewLocalStorage(t.TempDir())
	gt.NoError(t, err)
	return store
}

func newArchive(t *testing.T, blobs interfaces.BlobStore, repo interfaces.IndexRepository) *archive.Archive {
	t.Helper()
	a, err := archive.New(context.Background(), model.DefaultTaxonomy(), blobs, repo)
	gt.NoError(t, err)
	return a
}

// payload returns a small PNG that is unique for i
func payload(i int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: uint8(i), G: uint8(i >> 8), B: 7, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestAdmitAndListing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := newArchive(t, store, repository.NewMemory())

	ref1, dup, err := a.Admit(ctx, "happy", payload(1), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.False(t, dup)
	gt.Equal(t, ref1.Seq, int64(1))
	gt.Equal(t, ref1.Key, model.BlobKey("happy", model.ContentHash(payload(1)), model.FormatPNG))

	ref2, _, err := a.Admit(ctx, "happy", payload(2), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.Equal(t, ref2.Seq, int64(2))

	refs, err := a.Listing("happy")
	gt.NoError(t, err)
	gt.A(t, refs).Length(2)
	gt.Equal(t, refs[0].Key, ref1.Key)
	gt.Equal(t, refs[1].Key, ref2.Key)

	data, err := a.ReadAll(ctx, ref2)
	gt.NoError(t, err)
	gt.Equal(t, data, payload(2))

	for _, stat := range a.Stats() {
		if stat.Category == "happy" {
			gt.Equal(t, stat.Count, 2)
		} else {
			gt.Equal(t, stat.Count, 0)
		}
	}
}

func TestAdmitDuplicate(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t, newStore(t), repository.NewMemory())

	first, dup, err := a.Admit(ctx, "sad", payload(1), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.False(t, dup)

	second, dup, err := a.Admit(ctx, "sad", payload(1), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.True(t, dup)
	gt.Equal(t, second.Key, first.Key)

	refs, err := a.Listing("sad")
	gt.NoError(t, err)
	gt.A(t, refs).Length(1)

	// same bytes in another category are stored separately
	other, dup, err := a.Admit(ctx, "angry", payload(1), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.False(t, dup)
	gt.True(t, other.Key != first.Key)
}

func TestAdmitUnknownCategory(t *testing.T) {
	a := newArchive(t, newStore(t), repository.NewMemory())

	_, _, err := a.Admit(context.Background(), "bored", payload(1), model.FormatPNG, "test")
	gt.Error(t, err).Is(model.ErrUnknownCategory)

	_, err = a.Listing("bored")
	gt.Error(t, err).Is(model.ErrUnknownCategory)
}

func TestSampleEmptyCategory(t *testing.T) {
	a := newArchive(t, newStore(t), repository.NewMemory())

	ref, err := a.Sample("surprised")
	gt.NoError(t, err)
	gt.True(t, ref == nil)
}

func TestSampleUsesRandomSource(t *testing.T) {
	ctx := context.Background()
	a, err := archive.New(ctx, model.DefaultTaxonomy(), newStore(t), repository.NewMemory(),
		archive.WithRandom(func(n int) int { return n - 1 }))
	gt.NoError(t, err)

	for i := range 3 {
		_, _, err := a.Admit(ctx, "love", payload(i), model.FormatGIF, "test")
		gt.NoError(t, err)
	}

	ref, err := a.Sample("love")
	gt.NoError(t, err)
	gt.Equal(t, ref.Seq, int64(3))
}

func TestConcurrentAdmit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := repository.NewMemory()
	a := newArchive(t, store, repo)

	const n = 40
	categories := []model.Category{"happy", "sad"}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = a.Admit(ctx, categories[i%2], payload(i), model.FormatJPEG, "test")
		}()
	}
	wg.Wait()
	for _, err := range errs {
		gt.NoError(t, err)
	}

	blobs, err := store.List(ctx, "")
	gt.NoError(t, err)
	gt.A(t, blobs).Length(n)

	for _, c := range categories {
		refs, err := a.Listing(c)
		gt.NoError(t, err)
		gt.A(t, refs).Length(n / 2)

		seen := map[int64]bool{}
		for _, r := range refs {
			gt.False(t, seen[r.Seq])
			seen[r.Seq] = true
		}
	}

	// persisted index agrees with memory after reload
	reloaded := newArchive(t, store, repo)
	for _, c := range categories {
		refs, err := reloaded.Listing(c)
		gt.NoError(t, err)
		gt.A(t, refs).Length(n / 2)
	}

	report, err := reloaded.Verify(ctx)
	gt.NoError(t, err)
	gt.True(t, report.Consistent())
}

func TestBlobWriteFailureLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyBlobs{BlobStore: newStore(t)}
	repo := repository.NewMemory()
	a := newArchive(t, blobs, repo)
	saves := repo.Saves()

	blobs.failPut = true
	_, _, err := a.Admit(ctx, "happy", payload(1), model.FormatPNG, "test")
	gt.Error(t, err).Is(archive.ErrIOFailure)

	refs, err := a.Listing("happy")
	gt.NoError(t, err)
	gt.A(t, refs).Length(0)
	gt.Equal(t, repo.Saves(), saves)
}

func TestIndexSaveFailureLeavesOrphanOnly(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := &flakyRepo{IndexRepository: repository.NewMemory()}
	a := newArchive(t, store, repo)

	repo.failSave = true
	_, _, err := a.Admit(ctx, "happy", payload(1), model.FormatPNG, "test")
	gt.Error(t, err).Is(archive.ErrIOFailure)

	refs, err := a.Listing("happy")
	gt.NoError(t, err)
	gt.A(t, refs).Length(0)

	report, err := a.Verify(ctx)
	gt.NoError(t, err)
	gt.A(t, report.Orphans).Length(1)
	gt.A(t, report.Dangling).Length(0)

	// retrying adopts the orphan blob
	repo.failSave = false
	ref, dup, err := a.Admit(ctx, "happy", payload(1), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.False(t, dup)
	gt.Equal(t, ref.Seq, int64(1))

	report, err = a.Verify(ctx)
	gt.NoError(t, err)
	gt.True(t, report.Consistent())
}

func TestRebuildWhenIndexMissing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := archive.New(ctx, model.DefaultTaxonomy(), store, repository.NewMemory(),
		archive.WithClock(func() time.Time { return now }))
	gt.NoError(t, err)
	for i := range 3 {
		_, _, err := a.Admit(ctx, "angry", payload(i), model.FormatPNG, "test")
		gt.NoError(t, err)
	}

	// a fresh repository forces a rebuild from the blobs
	rebuilt := newArchive(t, store, repository.NewMemory())
	refs, err := rebuilt.Listing("angry")
	gt.NoError(t, err)
	gt.A(t, refs).Length(3)
	for i, r := range refs {
		gt.Equal(t, r.Seq, int64(i+1))
		data, err := rebuilt.ReadAll(ctx, r)
		gt.NoError(t, err)
		gt.Equal(t, r.Hash, model.ContentHash(data))
	}
}

func TestRebuildKeepsSequenceAndDropsDangling(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := repository.NewMemory()
	a := newArchive(t, store, repo)

	for i := range 2 {
		_, _, err := a.Admit(ctx, "disgust", payload(i), model.FormatPNG, "test")
		gt.NoError(t, err)
	}

	// a blob written behind the archive's back
	orphan := payload(99)
	gt.NoError(t, store.Put(ctx, model.BlobKey("disgust", model.ContentHash(orphan), model.FormatPNG), orphan))

	report, err := a.Rebuild(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Added["disgust"], 1)
	gt.Equal(t, report.Removed["disgust"], 0)

	refs, err := a.Listing("disgust")
	gt.NoError(t, err)
	gt.A(t, refs).Length(3)
	gt.Equal(t, refs[0].Seq, int64(1))
	gt.Equal(t, refs[1].Seq, int64(2))
	gt.Equal(t, refs[2].Seq, int64(3))
	gt.Equal(t, refs[2].Hash, model.ContentHash(orphan))

	// a listed entry whose blob is gone is dropped by the next rebuild
	idx, err := repo.LoadIndex(ctx)
	gt.NoError(t, err)
	idx.Categories["disgust"].Refs = append(idx.Categories["disgust"].Refs, &model.MediaReference{
		Category: "disgust",
		Key:      "disgust/missing.png",
		Hash:     "missing",
		Seq:      4,
	})
	idx.Categories["disgust"].NextSeq = 5
	gt.NoError(t, repo.SaveIndex(ctx, idx))

	reloaded := newArchive(t, store, repo)
	verify, err := reloaded.Verify(ctx)
	gt.NoError(t, err)
	gt.A(t, verify.Dangling).Length(1)

	report, err = reloaded.Rebuild(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Removed["disgust"], 1)

	refs, err = reloaded.Listing("disgust")
	gt.NoError(t, err)
	gt.A(t, refs).Length(3)

	// the counter never moves backwards
	ref, _, err := reloaded.Admit(ctx, "disgust", payload(100), model.FormatPNG, "test")
	gt.NoError(t, err)
	gt.Equal(t, ref.Seq, int64(5))
}

func TestCategoryOutsideTaxonomyIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := repository.NewMemory()

	wide, err := model.NewTaxonomy([]model.Category{"happy", "bored"}, nil)
	gt.NoError(t, err)
	a, err := archive.New(ctx, wide, store, repo)
	gt.NoError(t, err)
	_, _, err = a.Admit(ctx, "bored", payload(1), model.FormatPNG, "test")
	gt.NoError(t, err)

	narrow, err := model.NewTaxonomy([]model.Category{"happy"}, nil)
	gt.NoError(t, err)
	b, err := archive.New(ctx, narrow, store, repo)
	gt.NoError(t, err)
	_, _, err = b.Admit(ctx, "happy", payload(2), model.FormatPNG, "test")
	gt.NoError(t, err)

	idx, err := repo.LoadIndex(ctx)
	gt.NoError(t, err)
	gt.Equal(t, idx.Len("happy"), 1)
	_, ok := idx.Categories["bored"]
	gt.False(t, ok)

	// the blob itself stays where it is and is reported as foreign
	report, err := b.Verify(ctx)
	gt.NoError(t, err)
	gt.True(t, report.Consistent())
	gt.A(t, report.Foreign).Length(1)
}

func TestRebuildSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := adapter.NewLocalStorage(root)
	gt.NoError(t, err)

	gt.NoError(t, os.MkdirAll(filepath.Join(root, "backup"), 0o755))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "backup", "notes.txt"), []byte("not media"), 0o644))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "backup", "old.png"), payload(1), 0o644))
	gt.NoError(t, os.MkdirAll(filepath.Join(root, "happy"), 0o755))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "happy", "readme.txt"), []byte("hello"), 0o644))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "happy", "broken.png"), []byte("\x89PNG but not really"), 0o644))
	good := payload(2)
	gt.NoError(t, store.Put(ctx, model.BlobKey("happy", model.ContentHash(good), model.FormatPNG), good))

	repo := repository.NewMemory()
	a := newArchive(t, store, repo)

	refs, err := a.Listing("happy")
	gt.NoError(t, err)
	gt.A(t, refs).Length(1)
	gt.Equal(t, refs[0].Hash, model.ContentHash(good))

	idx, err := repo.LoadIndex(ctx)
	gt.NoError(t, err)
	for c := range idx.Categories {
		gt.True(t, model.DefaultTaxonomy().Has(c))
	}
	_, ok := idx.Categories["backup"]
	gt.False(t, ok)

	report, err := a.Rebuild(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Total, 1)
	gt.A(t, report.Skipped).Length(4)

	verify, err := a.Verify(ctx)
	gt.NoError(t, err)
	gt.A(t, verify.Foreign).Length(3)
	gt.A(t, verify.Dangling).Length(0)
	// broken.png is named like media but undecodable, so it stays an orphan
	gt.A(t, verify.Orphans).Length(1)
}
