package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/emoshelf/pkg/interfaces"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Memory keeps the index in process. The saved index is deep copied so callers can not
// alias the stored state.
type Memory struct {
	mu    sync.Mutex
	raw   []byte
	saves int
}

var _ interfaces.IndexRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadIndex(_ context.Context) (*model.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raw == nil {
		return nil, interfaces.ErrIndexNotFound
	}
	var idx model.Index
	if err := json.Unmarshal(m.raw, &idx); err != nil {
		return nil, goerr.Wrap(err, "failed to decode index")
	}
	return &idx, nil
}

func (m *Memory) SaveIndex(_ context.Context, idx *model.Index, _ ...model.Category) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return goerr.Wrap(err, "failed to encode index")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	m.saves++
	return nil
}

// Saves returns how many times the index was saved
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
