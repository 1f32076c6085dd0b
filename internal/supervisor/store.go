package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/types"
)

// ErrStoreUnavailable is returned while no store connection exists.
var ErrStoreUnavailable = errors.New("store unavailable")

// The supervisor doubles as a store.Store, delegating to the current
// connection. Callers built before the first successful connect keep
// working once the monitor brings the store up.
var _ store.Store = (*Supervisor)(nil)

func (s *Supervisor) current() (store.Store, error) {
	st := s.Store()
	if st == nil {
		return nil, ErrStoreUnavailable
	}
	return st, nil
}

func (s *Supervisor) Insert(ctx context.Context, msg types.Message) (types.Message, error) {
	st, err := s.current()
	if err != nil {
		return types.Message{}, err
	}
	return st.Insert(ctx, msg)
}

func (s *Supervisor) FindById(ctx context.Context, messageId string) (types.Message, error) {
	st, err := s.current()
	if err != nil {
		return types.Message{}, err
	}
	return st.FindById(ctx, messageId)
}

func (s *Supervisor) UpdateContent(ctx context.Context, messageId, newContent string, editedAt time.Time) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.UpdateContent(ctx, messageId, newContent, editedAt)
}

func (s *Supervisor) Delete(ctx context.Context, messageId string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.Delete(ctx, messageId)
}

func (s *Supervisor) ListByRoom(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.ListByRoom(ctx, roomId, limit, before)
}

func (s *Supervisor) CountByRoom(ctx context.Context, roomId string) (int, error) {
	st, err := s.current()
	if err != nil {
		return 0, err
	}
	return st.CountByRoom(ctx, roomId)
}

func (s *Supervisor) CapRoom(ctx context.Context, roomId string, keep int) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.CapRoom(ctx, roomId, keep)
}

func (s *Supervisor) DeleteRoom(ctx context.Context, roomId string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.DeleteRoom(ctx, roomId)
}

func (s *Supervisor) UpsertUser(ctx context.Context, user types.User) (types.User, error) {
	st, err := s.current()
	if err != nil {
		return types.User{}, err
	}
	return st.UpsertUser(ctx, user)
}

func (s *Supervisor) GetUserById(ctx context.Context, userId int) (types.User, error) {
	st, err := s.current()
	if err != nil {
		return types.User{}, err
	}
	return st.GetUserById(ctx, userId)
}

func (s *Supervisor) Ping(ctx context.Context) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.Ping(ctx)
}

func (s *Supervisor) Close() error {
	return s.Stop()
}
