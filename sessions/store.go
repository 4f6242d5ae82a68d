package sessions

import (
	"context"
	"encoding/json"
	"errors"

	interrors "github.com/immutable/go-passport/internal/errors"
	"github.com/immutable/go-passport/storage"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const sessionKey = "session"

// Store persists the current Session as JSON.
type Store struct {
	storage *storage.Store
	logger  zerolog.Logger
}

// NewStore creates a session store over s.
func NewStore(s *storage.Store, logger zerolog.Logger) *Store {
	return &Store{storage: s, logger: logger}
}

// Load returns the stored session. ErrSessionNotFound is returned when nothing
// usable is stored; corrupt or partial sessions are removed first.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	data, err := s.storage.GetItem(ctx, sessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, interrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[sessions.Store.Load]")
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.discard(ctx, err)
		return nil, interrors.ErrSessionNotFound
	}
	if err := session.Validate(); err != nil {
		s.discard(ctx, err)
		return nil, interrors.ErrSessionNotFound
	}
	return &session, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return pkgerrors.Wrap(err, "[sessions.Store.Save]")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return pkgerrors.Wrap(err, "[sessions.Store.Save] encode")
	}
	if err := s.storage.SetItem(ctx, sessionKey, data); err != nil {
		return pkgerrors.Wrap(err, "[sessions.Store.Save]")
	}
	return nil
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.storage.RemoveItem(ctx, sessionKey); err != nil {
		return pkgerrors.Wrap(err, "[sessions.Store.Clear]")
	}
	return nil
}

func (s *Store) discard(ctx context.Context, reason error) {
	s.logger.Warn().Err(reason).Str("namespace", s.storage.Namespace()).Msg("discarding unusable stored session")
	if err := s.storage.RemoveItem(ctx, sessionKey); err != nil {
		s.logger.Warn().Err(err).Msg("failed to remove unusable stored session")
	}
}
