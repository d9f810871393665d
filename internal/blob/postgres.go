package blob

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/db"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sdm_blobs (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres stores blobs as rows of the sdm_blobs table.
type Postgres struct {
	pool db.Pool
}

// NewPostgres returns a store backed by pool. Call Migrate once before use.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the blob table if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "blob: postgres migrate")
	}
	return nil
}

func (s *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	k, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sdm_blobs WHERE key = $1)`, k).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "blob: postgres exists %s", key)
	}
	return ok, nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.pool.QueryRow(ctx, `SELECT data FROM sdm_blobs WHERE key = $1`, k).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: postgres get %s", key)
	}
	return data, nil
}

func (s *Postgres) Put(ctx context.Context, key string, data []byte) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO sdm_blobs (key, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, k, data)
	if err != nil {
		return eris.Wrapf(err, "blob: postgres put %s", key)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM sdm_blobs WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: postgres list %s", prefix)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "blob: postgres scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "blob: postgres list rows")
	}
	return keys, nil
}
