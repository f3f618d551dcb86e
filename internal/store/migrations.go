package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS notifications (
    id BIGSERIAL PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    direction TEXT NOT NULL,
    status TEXT NOT NULL,
    text TEXT NOT NULL,
    tweet_id TEXT NOT NULL DEFAULT '',
    error_detail TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS notifications_created_at_idx
    ON notifications (created_at DESC);

CREATE TABLE IF NOT EXISTS detected_transfers (
    id BIGSERIAL PRIMARY KEY,
    extrinsic_id TEXT NOT NULL DEFAULT '',
    block_number TEXT NOT NULL DEFAULT '',
    from_addr TEXT NOT NULL,
    to_addr TEXT NOT NULL,
    amount_tao NUMERIC(20, 4) NOT NULL DEFAULT 0,
    direction TEXT NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    chain_timestamp TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS detected_transfers_observed_at_idx
    ON detected_transfers (observed_at DESC);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
