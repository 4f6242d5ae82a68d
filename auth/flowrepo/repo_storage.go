package flowrepo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/immutable/go-passport/storage"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const keyPrefix = "flow:"

// StorageRepo persists flows in a storage.Store so a callback handled by a
// fresh process can still complete the login. Flows that cannot be persisted
// are kept in memory, and consumed flows that could not be removed are
// remembered so they are not handed out twice.
type StorageRepo struct {
	store    *storage.Store
	fallback *InMemoryRepo
	logger   zerolog.Logger

	mu       sync.Mutex
	consumed map[string]struct{}
}

var _ Repo = (*StorageRepo)(nil)

// NewStorageRepo creates a repo writing to store.
func NewStorageRepo(store *storage.Store, logger zerolog.Logger) *StorageRepo {
	return &StorageRepo{
		store:    store,
		fallback: NewInMemoryRepo(),
		logger:   logger,
		consumed: make(map[string]struct{}),
	}
}

func (r *StorageRepo) Upsert(ctx context.Context, state string, flow *FlowState) error {
	if state == "" || flow == nil {
		return r.fallback.Upsert(ctx, state, flow)
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return pkgerrors.Wrap(err, "[flowrepo.StorageRepo.Upsert] encode")
	}
	if err := r.store.SetItem(ctx, keyPrefix+state, data); err != nil {
		if errors.Is(err, storage.ErrStorageUnavailable) {
			r.logger.Warn().Err(err).Msg("login flow kept in memory only")
			return r.fallback.Upsert(ctx, state, flow)
		}
		return pkgerrors.Wrap(err, "[flowrepo.StorageRepo.Upsert]")
	}
	return nil
}

func (r *StorageRepo) Take(ctx context.Context, state string) (*FlowState, error) {
	if flow, err := r.fallback.Take(ctx, state); err == nil {
		return flow, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumed[state]; ok {
		return nil, ErrNotFound
	}

	data, err := r.store.GetItem(ctx, keyPrefix+state)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[flowrepo.StorageRepo.Take]")
	}

	if err := r.store.RemoveItem(ctx, keyPrefix+state); err != nil {
		r.logger.Warn().Err(err).Msg("removing consumed flow failed")
		r.consumed[state] = struct{}{}
	}

	var flow FlowState
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, pkgerrors.Wrap(err, "[flowrepo.StorageRepo.Take] decode")
	}
	return &flow, nil
}
