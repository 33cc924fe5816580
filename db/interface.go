package db

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/models"
)

// ErrNotFound is returned when a fill doesn't exist.
var ErrNotFound = errors.New("not found")

// Journal records every fill attempt of the solver.
type Journal interface {
	Close() error
	Ping(ctx context.Context) error

	// InitDB creates the schema if missing
	InitDB(ctx context.Context) error

	// CreateFill records a new pending attempt
	CreateFill(ctx context.Context, fill *models.Fill) error
	MarkFillSubmitted(ctx context.Context, id uuid.UUID, txHash common.Hash, nonce uint64) error

	// MarkFillProgress records the number of transactions of a pending attempt accepted so far
	MarkFillProgress(ctx context.Context, id uuid.UUID, callsSent int, txHash common.Hash, nonce uint64) error
	MarkFillFailed(ctx context.Context, id uuid.UUID, reason string) error

	GetFill(ctx context.Context, id uuid.UUID) (*models.Fill, error)
	ListFills(ctx context.Context, page, pageSize int, status string) ([]*models.Fill, int, error)
	ListFillsByIntent(ctx context.Context, intentHash common.Hash) ([]*models.Fill, error)

	// LatestFill returns the most recent attempt for the intent, or ErrNotFound
	LatestFill(ctx context.Context, intentHash common.Hash) (*models.Fill, error)
}
