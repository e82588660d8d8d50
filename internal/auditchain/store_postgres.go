package auditchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustnet/pkg/platform/sentinel"
)

// Schema creates the audit table. Details are stored as TEXT so the exact bytes
// that were hashed survive the round trip (JSONB would re-order and re-space them).
const Schema = `
CREATE TABLE IF NOT EXISTS audit_chain (
	seq           BIGINT PRIMARY KEY,
	hash          TEXT NOT NULL UNIQUE,
	previous_hash TEXT NOT NULL,
	action        TEXT NOT NULL,
	actor         TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	details       TEXT NOT NULL
)`

// PostgresStore persists the chain with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit_chain: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_chain (seq, hash, previous_hash, action, actor, ts, details) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.Seq, e.Hash, e.PreviousHash, e.Action, e.Actor, e.Timestamp, string(e.Details))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const entryColumns = `seq, hash, previous_hash, action, actor, ts, details`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e       Entry
		details string
	)
	if err := row.Scan(&e.Seq, &e.Hash, &e.PreviousHash, &e.Action, &e.Actor, &e.Timestamp, &details); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Details = []byte(details)
	return &e, nil
}

func (s *PostgresStore) Last(ctx context.Context) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit_chain ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load audit head: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]*Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM audit_chain ORDER BY seq ASC`)
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return s.query(ctx, `SELECT `+entryColumns+` FROM audit_chain ORDER BY seq DESC`)
	}
	return s.query(ctx, `SELECT `+entryColumns+` FROM audit_chain ORDER BY seq DESC LIMIT $1`, limit)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
