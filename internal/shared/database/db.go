package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aiagentplatform/api-gateway/internal/shared/models"
	"github.com/lib/pq"
)

// ErrInvalidKey is returned when an API key is unknown or deactivated
var ErrInvalidKey = errors.New("invalid API key")

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Authenticate resolves a raw API key to the tenant it belongs to. Keys are
// stored hashed, so the raw value never touches the database.
func (db *DB) Authenticate(ctx context.Context, rawKey string) (*models.TenantContext, error) {
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	query := `
		SELECT id, tenant_id, plan, permissions
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var tenant models.TenantContext
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(
		&tenant.KeyID,
		&tenant.TenantID,
		&tenant.Plan,
		pq.Array(&tenant.Permissions),
	)

	if err == sql.ErrNoRows {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &tenant, nil
}

// TouchAPIKey updates the last_used_at timestamp
func (db *DB) TouchAPIKey(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, keyID)
	return err
}
