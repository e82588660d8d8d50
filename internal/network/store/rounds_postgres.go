package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"trustnet/internal/network/models"
	"trustnet/pkg/platform/sentinel"
)

// RoundsSchema creates the consensus round table. Rows are never updated.
const RoundsSchema = `
CREATE TABLE IF NOT EXISTS consensus_rounds (
	seq               BIGSERIAL PRIMARY KEY,
	round_id          TEXT NOT NULL UNIQUE,
	subject           TEXT NOT NULL,
	verification_type TEXT NOT NULL,
	initiator         TEXT NOT NULL,
	validator_ids     TEXT[] NOT NULL,
	ballots           JSONB NOT NULL,
	quorum_needed     INT NOT NULL,
	approvals         INT NOT NULL,
	rejections        INT NOT NULL,
	outcome           TEXT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ NOT NULL,
	duration_ms       BIGINT NOT NULL
)`

const uniqueViolation = "23505"

// PostgresRoundStore persists consensus rounds in PostgreSQL.
type PostgresRoundStore struct {
	db *sql.DB
}

func NewPostgresRoundStore(db *sql.DB) *PostgresRoundStore {
	return &PostgresRoundStore{db: db}
}

// Migrate creates the table if it does not exist.
func (s *PostgresRoundStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, RoundsSchema); err != nil {
		return fmt.Errorf("migrate consensus_rounds: %w", err)
	}
	return nil
}

func (s *PostgresRoundStore) Append(ctx context.Context, r *models.Round) error {
	ballots, err := json.Marshal(r.Ballots)
	if err != nil {
		return fmt.Errorf("encode ballots: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consensus_rounds (round_id, subject, verification_type, initiator, validator_ids, ballots,
			quorum_needed, approvals, rejections, outcome, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.Subject, string(r.VerificationType), r.Initiator, pq.Array(r.ValidatorIDs()), ballots,
		r.QuorumNeeded, r.Approvals, r.Rejections, string(r.Outcome), r.StartedAt, r.CompletedAt, r.DurationMs,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

const roundColumns = `round_id, subject, verification_type, initiator, ballots,
	quorum_needed, approvals, rejections, outcome, started_at, completed_at, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*models.Round, error) {
	var (
		r         models.Round
		vtype     string
		outcome   string
		ballotRaw []byte
	)
	if err := row.Scan(&r.ID, &r.Subject, &vtype, &r.Initiator, &ballotRaw,
		&r.QuorumNeeded, &r.Approvals, &r.Rejections, &outcome, &r.StartedAt, &r.CompletedAt, &r.DurationMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ballotRaw, &r.Ballots); err != nil {
		return nil, fmt.Errorf("decode ballots: %w", err)
	}
	r.VerificationType = models.Capability(vtype)
	r.Outcome = models.Outcome(outcome)
	return &r, nil
}

func (s *PostgresRoundStore) FindByID(ctx context.Context, id string) (*models.Round, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM consensus_rounds WHERE round_id = $1`, id)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find round: %w", err)
	}
	return r, nil
}

func (s *PostgresRoundStore) Recent(ctx context.Context, limit int) ([]*models.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM consensus_rounds ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	out := []*models.Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresRoundStore) Stats(ctx context.Context) (models.RoundStats, error) {
	var stats models.RoundStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE outcome = 'VERIFIED'),
		       COUNT(*) FILTER (WHERE outcome <> 'VERIFIED')
		FROM consensus_rounds`).Scan(&stats.TotalRounds, &stats.SuccessfulRounds, &stats.FailedRounds)
	if err != nil {
		return models.RoundStats{}, fmt.Errorf("round stats: %w", err)
	}
	return stats, nil
}
