package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/settler/models"
)

const fillColumns = `id, intent_hash, protocol, source_chain, destination_chain, status, calls_sent, tx_hash, nonce, error, created_at, updated_at`

// PostgresDB implements the Journal interface using PostgreSQL
type PostgresDB struct {
	db *sql.DB
}

var _ Journal = (*PostgresDB)(nil)

// NewPostgresDB creates a new PostgreSQL database connection and initializes the schema
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return initPostgresDB(ctx, db)
}

// initPostgresDB checks the connection and prepares the schema.
// The connection is closed if either step fails.
func initPostgresDB(ctx context.Context, db *sql.DB) (*PostgresDB, error) {
	postgresDB := &PostgresDB{db: db}

	if err := postgresDB.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := postgresDB.InitDB(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	return postgresDB, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateFill inserts a fill attempt
func (p *PostgresDB) CreateFill(ctx context.Context, fill *models.Fill) error {
	query := `
		INSERT INTO fills (
			id, intent_hash, protocol, source_chain, destination_chain, status, calls_sent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if fill.ID == uuid.Nil {
		fill.ID = uuid.New()
	}

	if fill.Status == "" {
		fill.Status = models.FillStatusPending
	}

	now := time.Now().UTC()
	if fill.CreatedAt.IsZero() {
		fill.CreatedAt = now
	}
	if fill.UpdatedAt.IsZero() {
		fill.UpdatedAt = now
	}

	_, err := p.db.ExecContext(ctx, query,
		fill.ID,
		fill.IntentHash.Hex(),
		string(fill.Protocol),
		fill.SourceChain,
		fill.DestinationChain,
		string(fill.Status),
		fill.CallsSent,
		fill.CreatedAt,
		fill.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create fill")
	}

	return nil
}

// MarkFillSubmitted moves a pending fill to submitted
func (p *PostgresDB) MarkFillSubmitted(ctx context.Context, id uuid.UUID, txHash common.Hash, nonce uint64) error {
	query := `
		UPDATE fills
		SET status = $1,
			tx_hash = $2,
			nonce = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	result, err := p.db.ExecContext(ctx, query,
		string(models.FillStatusSubmitted),
		txHash.Hex(),
		nonce,
		id,
		string(models.FillStatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update fill")
	}

	return expectOneRow(result, id)
}

// MarkFillProgress stores the count and the last accepted transaction of a pending fill
func (p *PostgresDB) MarkFillProgress(
	ctx context.Context,
	id uuid.UUID,
	callsSent int,
	txHash common.Hash,
	nonce uint64,
) error {
	query := `
		UPDATE fills
		SET calls_sent = $1,
			tx_hash = $2,
			nonce = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	result, err := p.db.ExecContext(ctx, query,
		callsSent,
		txHash.Hex(),
		nonce,
		id,
		string(models.FillStatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update fill progress")
	}

	return expectOneRow(result, id)
}

// MarkFillFailed moves a pending fill to failed
func (p *PostgresDB) MarkFillFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE fills
		SET status = $1,
			error = $2,
			updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := p.db.ExecContext(ctx, query,
		string(models.FillStatusFailed),
		reason,
		id,
		string(models.FillStatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update fill")
	}

	return expectOneRow(result, id)
}

// GetFill retrieves a fill by ID
func (p *PostgresDB) GetFill(ctx context.Context, id uuid.UUID) (*models.Fill, error) {
	query := `SELECT ` + fillColumns + ` FROM fills WHERE id = $1`

	fill, err := scanFill(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "fill %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get fill")
	}

	return fill, nil
}

// ListFills returns a page of fills, newest first, and the total count.
// An empty status matches every fill.
func (p *PostgresDB) ListFills(ctx context.Context, page, pageSize int, status string) ([]*models.Fill, int, error) {
	offset := (page - 1) * pageSize

	var total int
	countQuery := `SELECT COUNT(*) FROM fills WHERE ($1 = '' OR status = $1)`
	if err := p.db.QueryRowContext(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count fills")
	}

	query := `
		SELECT ` + fillColumns + `
		FROM fills
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := p.db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list fills")
	}
	defer rows.Close()

	fills, err := scanFills(rows)
	if err != nil {
		return nil, 0, err
	}

	return fills, total, nil
}

// ListFillsByIntent returns every attempt for an intent, oldest first
func (p *PostgresDB) ListFillsByIntent(ctx context.Context, intentHash common.Hash) ([]*models.Fill, error) {
	query := `
		SELECT ` + fillColumns + `
		FROM fills
		WHERE intent_hash = $1
		ORDER BY created_at ASC
	`

	rows, err := p.db.QueryContext(ctx, query, intentHash.Hex())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fills by intent")
	}
	defer rows.Close()

	return scanFills(rows)
}

// LatestFill returns the newest attempt for an intent
func (p *PostgresDB) LatestFill(ctx context.Context, intentHash common.Hash) (*models.Fill, error) {
	query := `
		SELECT ` + fillColumns + `
		FROM fills
		WHERE intent_hash = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	fill, err := scanFill(p.db.QueryRowContext(ctx, query, intentHash.Hex()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "fills of intent %s", intentHash.Hex())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest fill")
	}

	return fill, nil
}

// InitDB initializes the database schema
func (p *PostgresDB) InitDB(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS fills (
			id UUID PRIMARY KEY,
			intent_hash VARCHAR(66) NOT NULL,
			protocol VARCHAR(20) NOT NULL,
			source_chain BIGINT NOT NULL,
			destination_chain BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			calls_sent INTEGER NOT NULL DEFAULT 0,
			tx_hash VARCHAR(66),
			nonce BIGINT,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		ALTER TABLE fills ADD COLUMN IF NOT EXISTS calls_sent INTEGER NOT NULL DEFAULT 0;

		CREATE INDEX IF NOT EXISTS idx_fills_intent_hash ON fills(intent_hash);
		CREATE INDEX IF NOT EXISTS idx_fills_status ON fills(status);
		CREATE INDEX IF NOT EXISTS idx_fills_created_at ON fills(created_at DESC);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to initialize database schema")
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFill(row rowScanner) (*models.Fill, error) {
	var (
		fill       models.Fill
		intentHash string
		protocol   string
		status     string
		txHash     sql.NullString
		nonce      sql.NullInt64
	)

	err := row.Scan(
		&fill.ID,
		&intentHash,
		&protocol,
		&fill.SourceChain,
		&fill.DestinationChain,
		&status,
		&fill.CallsSent,
		&txHash,
		&nonce,
		&fill.Error,
		&fill.CreatedAt,
		&fill.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fill.IntentHash = common.HexToHash(intentHash)
	fill.Protocol = models.Protocol(protocol)
	fill.Status = models.FillStatus(status)

	if txHash.Valid {
		hash := common.HexToHash(txHash.String)
		fill.TxHash = &hash
	}

	if nonce.Valid {
		n := uint64(nonce.Int64)
		fill.Nonce = &n
	}

	return &fill, nil
}

func scanFills(rows *sql.Rows) ([]*models.Fill, error) {
	fills := make([]*models.Fill, 0)

	for rows.Next() {
		fill, err := scanFill(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fill")
		}

		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating fills")
	}

	return fills, nil
}

func expectOneRow(result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}

	if rowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "pending fill %s", id)
	}

	return nil
}
