package repository

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultCollection = "emoshelf_index"

// Firestore stores one document per category listing
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ interfaces.IndexRepository = (*Firestore)(nil)

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		if name != "" {
			f.collection = name
		}
	}
}

// New creates a new Firestore repository
func New(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: DefaultCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close closes the underlying client
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) LoadIndex(ctx context.Context) (*model.Index, error) {
	iter := f.client.Collection(f.collection).Documents(ctx)
	defer iter.Stop()

	idx := &model.Index{Categories: make(map[model.Category]*model.CategoryListing)}
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrIndexNotFound, "index collection not found", goerr.V("collection", f.collection))
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate index documents", goerr.V("collection", f.collection))
		}

		var listing model.CategoryListing
		if err := doc.DataTo(&listing); err != nil {
			return nil, goerr.Wrap(err, "failed to decode category listing", goerr.V("doc", doc.Ref.ID))
		}
		if listing.Category == "" {
			listing.Category = model.Category(doc.Ref.ID)
		}
		idx.Categories[listing.Category] = &listing
	}

	if len(idx.Categories) == 0 {
		return nil, goerr.Wrap(interfaces.ErrIndexNotFound, "no index document", goerr.V("collection", f.collection))
	}
	return idx, nil
}

// SaveIndex writes the changed category documents in one transaction
func (f *Firestore) SaveIndex(ctx context.Context, idx *model.Index, changed ...model.Category) error {
	targets := changed
	if len(targets) == 0 {
		for c := range idx.Categories {
			targets = append(targets, c)
		}
	}

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, c := range targets {
			listing, ok := idx.Categories[c]
			if !ok {
				continue
			}
			if err := tx.Set(f.client.Collection(f.collection).Doc(string(c)), listing); err != nil {
				return goerr.Wrap(err, "failed to set category listing", goerr.V("category", c))
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to save index", goerr.V("collection", f.collection))
	}
	return nil
}
