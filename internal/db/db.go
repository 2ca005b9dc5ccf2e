// Package db provides PostgreSQL persistence for the webhook audit trail:
// deliveries and the actions dispatched for them.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the underlying *sql.DB and provides typed query methods.
type DB struct {
	conn *sql.DB
}

// New opens a PostgreSQL connection, verifies connectivity and applies
// pending migrations.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := ApplyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping backs the /healthz database check.
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// Delivery is one received webhook. RecordID is ours; DeliveryID is the
// forge's and repeats on redelivery.
type Delivery struct {
	RecordID       string    `json:"record_id"`
	DeliveryID     string    `json:"delivery_id"`
	Event          string    `json:"event"`
	Action         string    `json:"action"`
	InstallationID int64     `json:"installation_id"`
	Repo           string    `json:"repo"`
	Status         string    `json:"status"`
	ErrorCode      *string   `json:"error_code,omitempty"`
	EvidenceHash   string    `json:"evidence_hash"`
	DurationMS     int64     `json:"duration_ms"`
	ReceivedAt     time.Time `json:"received_at"`
}

// DispatchedAction is one action key executed for a delivery.
type DispatchedAction struct {
	ActionID  string    `json:"action_id"`
	RecordID  string    `json:"record_id"`
	ActionKey string    `json:"action_key"`
	Status    string    `json:"status"`
	ErrorCode *string   `json:"error_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertDelivery stores a delivery and its actions in one transaction.
func (d *DB) InsertDelivery(ctx context.Context, del *Delivery, actions []*DispatchedAction) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert delivery: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO deliveries (record_id, delivery_id, event, action, installation_id, repo, status, error_code, evidence_hash, duration_ms, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		del.RecordID, del.DeliveryID, del.Event, del.Action, del.InstallationID, del.Repo,
		del.Status, del.ErrorCode, del.EvidenceHash, del.DurationMS, del.ReceivedAt,
	); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	for _, a := range actions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dispatched_actions (action_id, record_id, action_key, status, error_code, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ActionID, a.RecordID, a.ActionKey, a.Status, a.ErrorCode, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert dispatched action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the most recent deliveries, newest first.
func (d *DB) ListDeliveries(ctx context.Context, limit int) ([]*Delivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT record_id, delivery_id, event, action, installation_id, repo, status, error_code, evidence_hash, duration_ms, received_at
		 FROM deliveries ORDER BY received_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		del := &Delivery{}
		if err := rows.Scan(&del.RecordID, &del.DeliveryID, &del.Event, &del.Action, &del.InstallationID, &del.Repo,
			&del.Status, &del.ErrorCode, &del.EvidenceHash, &del.DurationMS, &del.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, del)
	}
	return out, rows.Err()
}

// ListActionsByRecord returns the actions dispatched for one delivery record.
func (d *DB) ListActionsByRecord(ctx context.Context, recordID string) ([]*DispatchedAction, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT action_id, record_id, action_key, status, error_code, created_at
		 FROM dispatched_actions WHERE record_id = $1 ORDER BY created_at`, recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list dispatched actions: %w", err)
	}
	defer rows.Close()

	var out []*DispatchedAction
	for rows.Next() {
		a := &DispatchedAction{}
		if err := rows.Scan(&a.ActionID, &a.RecordID, &a.ActionKey, &a.Status, &a.ErrorCode, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dispatched action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
