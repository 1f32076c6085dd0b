package store

import (
	"context"
	"time"

	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) FindById(ctx context.Context, messageId string) (types.Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) UpdateContent(ctx context.Context, messageId, newContent string, editedAt time.Time) error {
	args := m.Called(ctx, messageId, newContent, editedAt)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, messageId string) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}

func (m *MockStore) ListByRoom(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error) {
	args := m.Called(ctx, roomId, limit, before)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) CountByRoom(ctx context.Context, roomId string) (int, error) {
	args := m.Called(ctx, roomId)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CapRoom(ctx context.Context, roomId string, keep int) error {
	args := m.Called(ctx, roomId, keep)
	return args.Error(0)
}

func (m *MockStore) DeleteRoom(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockStore) UpsertUser(ctx context.Context, user types.User) (types.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockStore) GetUserById(ctx context.Context, userId int) (types.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
