// Package postgresstore persists recordings in Postgres through pgx.
package postgresstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"runthru/internal/domain"
	"runthru/internal/logging"
	"runthru/internal/store"
)

const recordingTable = "runthru_recordings"

// pool is the subset of pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Store keeps the recording document in a JSONB column next to the
// columns used for filtering and ordering.
type Store struct {
	pool   pool
	logger logging.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("postgres store requires pool")
	}
	return &Store{
		pool:   p,
		logger: logging.NewComponentLogger("RecordingPostgresStore"),
		now:    time.Now,
	}, nil
}

// EnsureSchema creates the recordings table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s (created_at DESC);
`, recordingTable)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, rec *domain.Recording) error {
	if rec == nil || rec.ID == "" {
		return errors.New("recording id is required")
	}
	cp := rec.Clone()
	if cp.Steps == nil {
		cp.Steps = []domain.Step{}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`, recordingTable),
		cp.ID, string(cp.Status), data, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s already exists", domain.ErrConflict, cp.ID)
		}
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Recording, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, recordingTable), id)
	return scanRecording(row, id)
}

func scanRecording(row pgx.Row, id string) (*domain.Recording, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("load recording %s: %w", id, err)
	}
	return decode(data)
}

func decode(data []byte) (*domain.Recording, error) {
	var rec domain.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	if rec.Steps == nil {
		rec.Steps = []domain.Step{}
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	var before any
	if !opts.CreatedBefore.IsZero() {
		before = opts.CreatedBefore
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT data FROM %s
WHERE ($1 = '' OR status = $1) AND ($2::timestamptz IS NULL OR created_at < $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, recordingTable),
		string(opts.Status), before, limit, max(opts.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	out := []*domain.Recording{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		rec, err := decode(data)
		if err != nil {
			s.logger.Warn("skip undecodable recording row: %v", err)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return out, nil
}

// modify runs fn on the locked row and writes the result back in one
// transaction.
func (s *Store) modify(ctx context.Context, id string, fn func(rec *domain.Recording) error) (*domain.Recording, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	row := tx.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 FOR UPDATE`, recordingTable), id)
	rec, err := scanRecording(row, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $2, data = $3, updated_at = $4 WHERE id = $1`, recordingTable),
		id, string(rec.Status), data, rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update recording: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id string, p store.Patch) (*domain.Recording, error) {
	return s.modify(ctx, id, func(rec *domain.Recording) error {
		return store.Apply(rec, p, s.now())
	})
}

func (s *Store) AppendStep(ctx context.Context, id string, step domain.Step) error {
	_, err := s.modify(ctx, id, func(rec *domain.Recording) error {
		if err := store.CheckAppend(rec, step); err != nil {
			return err
		}
		rec.Steps = append(rec.Steps, step)
		rec.UpdatedAt = s.now()
		return nil
	})
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, recordingTable), id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
