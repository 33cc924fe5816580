package db

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/speedrun-hq/settler/models"
	"github.com/stretchr/testify/mock"
)

// MockDB is a mock implementation of the Journal interface for testing
type MockDB struct {
	mock.Mock
}

var _ Journal = (*MockDB)(nil)

func (m *MockDB) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDB) InitDB(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDB) CreateFill(ctx context.Context, fill *models.Fill) error {
	args := m.Called(ctx, fill)
	return args.Error(0)
}

func (m *MockDB) MarkFillSubmitted(ctx context.Context, id uuid.UUID, txHash common.Hash, nonce uint64) error {
	args := m.Called(ctx, id, txHash, nonce)
	return args.Error(0)
}

func (m *MockDB) MarkFillProgress(
	ctx context.Context,
	id uuid.UUID,
	callsSent int,
	txHash common.Hash,
	nonce uint64,
) error {
	args := m.Called(ctx, id, callsSent, txHash, nonce)
	return args.Error(0)
}

func (m *MockDB) MarkFillFailed(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockDB) GetFill(ctx context.Context, id uuid.UUID) (*models.Fill, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fill), args.Error(1)
}

func (m *MockDB) ListFills(ctx context.Context, page, pageSize int, status string) ([]*models.Fill, int, error) {
	args := m.Called(ctx, page, pageSize, status)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Fill), args.Int(1), args.Error(2)
}

func (m *MockDB) ListFillsByIntent(ctx context.Context, intentHash common.Hash) ([]*models.Fill, error) {
	args := m.Called(ctx, intentHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Fill), args.Error(1)
}

func (m *MockDB) LatestFill(ctx context.Context, intentHash common.Hash) (*models.Fill, error) {
	args := m.Called(ctx, intentHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fill), args.Error(1)
}
