package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Notifications ---

// Notification is one archived dispatch attempt. The in-memory history ring
// in the tracker stays authoritative for the status endpoints; this table
// is the durable log.
type Notification struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Direction   string    `json:"direction"`
	Status      string    `json:"status"`
	Text        string    `json:"text"`
	TweetID     string    `json:"tweet_id,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

func (s *Store) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (created_at, direction, status, text, tweet_id, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.CreatedAt, n.Direction, n.Status, n.Text, n.TweetID, n.ErrorDetail)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, direction, status, text, tweet_id, error_detail
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.CreatedAt, &n.Direction, &n.Status, &n.Text, &n.TweetID, &n.ErrorDetail); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Detected transfers ---

// Transfer is one newly detected transfer, archived the first time the
// monitor sees it.
type Transfer struct {
	ExtrinsicID string `json:"extrinsic_id"`
	BlockNumber string `json:"block_number"`
	FromAddr    string `json:"from_addr"`
	ToAddr      string `json:"to_addr"`
	AmountTAO   string `json:"amount_tao"`
	Direction   string `json:"direction"`
	Timestamp   string `json:"timestamp"`
}

// InsertTransfers batch-inserts detected transfers in one transaction.
func (s *Store) InsertTransfers(ctx context.Context, groups ...[]Transfer) error {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, g := range groups {
		for _, t := range g {
			_, err := tx.Exec(ctx, `
				INSERT INTO detected_transfers (extrinsic_id, block_number, from_addr, to_addr, amount_tao, direction, observed_at, chain_timestamp)
				VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
				t.ExtrinsicID, t.BlockNumber, t.FromAddr, t.ToAddr, t.AmountTAO, t.Direction, t.Timestamp)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

// CountTransfers returns how many transfers were detected in a direction
// within the given window.
func (s *Store) CountTransfers(ctx context.Context, direction string, window time.Duration) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM detected_transfers
		WHERE direction = $1 AND observed_at > $2`,
		direction, time.Now().Add(-window)).Scan(&count)
	return count, err
}
