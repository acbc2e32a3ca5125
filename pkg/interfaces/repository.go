package interfaces

import (
	"context"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrIndexNotFound = goerr.New("index not found")
)

// IndexRepository persists the category index as a whole
type IndexRepository interface {
	// LoadIndex loads the persisted index. It returns ErrIndexNotFound when nothing was saved yet.
	LoadIndex(ctx context.Context) (*model.Index, error)

	// SaveIndex writes idx. changed names the categories modified since the last save;
	// empty means all of them. Implementations may ignore the hint.
	SaveIndex(ctx context.Context, idx *model.Index, changed ...model.Category) error
}
