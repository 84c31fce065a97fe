package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ussd-service/internal/domain"
)

const sessionColumns = `session_id, phone_number, step, step_data, depth, last_reply, active, version, created_at, last_activity`

// PostgresSessionStore keeps sessions in the `ussd_sessions` table. A partial unique index
// on (phone_number) WHERE active guarantees one active session per phone.
type PostgresSessionStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
	now     func() time.Time
}

func NewPostgresSessionStore(db *pgxpool.Pool, timeout time.Duration) *PostgresSessionStore {
	return &PostgresSessionStore{db: db, timeout: timeout, now: time.Now}
}

func (s *PostgresSessionStore) Start(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("encode step data: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := s.now()
	if _, err := tx.Exec(ctx, `
		UPDATE ussd_sessions SET active = FALSE, version = version + 1
		WHERE phone_number = $1 AND active
	`, session.PhoneNumber); err != nil {
		return fmt.Errorf("deactivate previous sessions: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ussd_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, 1, $7, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			step = EXCLUDED.step,
			step_data = EXCLUDED.step_data,
			depth = EXCLUDED.depth,
			last_reply = EXCLUDED.last_reply,
			active = TRUE,
			version = ussd_sessions.version + 1,
			created_at = EXCLUDED.created_at,
			last_activity = EXCLUDED.last_activity
		RETURNING version
	`, session.SessionID, session.PhoneNumber, string(session.Step), string(data), session.Depth, session.LastReply, now).Scan(&session.Version)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	session.Active = true
	session.CreatedAt = now
	session.LastActivity = now
	return nil
}

func (s *PostgresSessionStore) Load(ctx context.Context, sessionID, phone string) (*domain.Session, error) {
	now := s.now()
	session, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM ussd_sessions WHERE session_id = $1`, sessionID))
	if err == nil {
		if !session.Active || session.ExpiredAt(now, s.timeout) {
			return nil, ErrSessionNotFound
		}
		return session, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if phone == "" {
		return nil, ErrSessionNotFound
	}
	return scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM ussd_sessions
		WHERE phone_number = $1 AND active AND last_activity >= $2
		ORDER BY last_activity DESC
		LIMIT 1
	`, phone, now.Add(-s.timeout)))
}

func (s *PostgresSessionStore) Upsert(ctx context.Context, session *domain.Session) error {
	return s.write(ctx, session, true)
}

func (s *PostgresSessionStore) Close(ctx context.Context, session *domain.Session) error {
	return s.write(ctx, session, false)
}

// write is a compare-and-swap on version; only one writer per version wins.
func (s *PostgresSessionStore) write(ctx context.Context, session *domain.Session, active bool) error {
	data, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("encode step data: %w", err)
	}
	now := s.now()
	var version int64
	err = s.db.QueryRow(ctx, `
		UPDATE ussd_sessions
		SET step = $3, step_data = $4, depth = $5, last_reply = $6, active = $7,
			version = version + 1, last_activity = $8
		WHERE session_id = $1 AND version = $2 AND active
		RETURNING version
	`, session.SessionID, session.Version, string(session.Step), string(data), session.Depth, session.LastReply, active, now).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionConflict
		}
		return err
	}
	session.Version = version
	session.Active = active
	session.LastActivity = now
	return nil
}

func (s *PostgresSessionStore) Deactivate(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE ussd_sessions SET active = FALSE, version = version + 1
		WHERE session_id = $1 AND active
	`, sessionID)
	return err
}

func (s *PostgresSessionStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `
		UPDATE ussd_sessions SET active = FALSE, version = version + 1
		WHERE active AND last_activity < $1
	`, now.Add(-s.timeout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session domain.Session
		step    string
		data    string
	)
	err := row.Scan(
		&session.SessionID,
		&session.PhoneNumber,
		&step,
		&data,
		&session.Depth,
		&session.LastReply,
		&session.Active,
		&session.Version,
		&session.CreatedAt,
		&session.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	session.Step = domain.Step(step)
	if err := json.Unmarshal([]byte(data), &session.Data); err != nil {
		return nil, fmt.Errorf("decode step data for session %s: %w", session.SessionID, err)
	}
	return &session, nil
}
