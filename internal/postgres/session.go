package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seekerhq/seeker/pkg/session"
)

var _ session.Store = (*Store)(nil)

// History, context, and attachments live in JSONB columns. Appends use
// the || concatenation operator so a single UPDATE suffices; the
// per-session lane already serializes writers, the database only has
// to store.

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal session config: %w", err)
	}
	attachments, err := json.Marshal(sess.Attachments)
	if err != nil {
		return fmt.Errorf("postgres: marshal attachments: %w", err)
	}
	history, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("postgres: marshal history: %w", err)
	}
	contextEntries, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("postgres: marshal context: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions
			(id, user_id, organization_id, status, last_error, config,
			 history, context, attachments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10)`,
		sess.ID, sess.UserID, sess.OrganizationID, string(sess.Status),
		sess.LastError, cfg, history, contextEntries, attachments, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

// Session loads one session with its full history and context.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	var sess session.Session
	var status string
	var cfg, history, contextEntries, attachments []byte
	var finalAnswer []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, organization_id, status, last_error, config,
		        history, context, attachments, final_answer, created_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.OrganizationID, &status,
		&sess.LastError, &cfg, &history, &contextEntries, &attachments,
		&finalAnswer, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load session: %w", err)
	}

	sess.Status = session.Status(status)
	if err := json.Unmarshal(cfg, &sess.Config); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal session config: %w", err)
	}
	if err := json.Unmarshal(history, &sess.History); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal history: %w", err)
	}
	if err := json.Unmarshal(contextEntries, &sess.Context); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal context: %w", err)
	}
	if err := json.Unmarshal(attachments, &sess.Attachments); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal attachments: %w", err)
	}
	if finalAnswer != nil {
		sess.FinalAnswer = &session.FinalAnswerResponse{}
		if err := json.Unmarshal(finalAnswer, sess.FinalAnswer); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal final answer: %w", err)
		}
	}
	return &sess, nil
}

// SetStatus persists a status change.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status session.Status, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, last_error = $2, updated_at = now() WHERE id = $3`,
		string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("postgres: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// AppendHistory appends one message to the conversation history.
func (s *Store) AppendHistory(ctx context.Context, id uuid.UUID, msg session.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("postgres: marshal message: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET history = history || $1::jsonb, updated_at = now() WHERE id = $2`,
		data, id)
	if err != nil {
		return fmt.Errorf("postgres: append history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// AppendContext appends one context entry.
func (s *Store) AppendContext(ctx context.Context, id uuid.UUID, entry session.ContextEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("postgres: marshal context entry: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET context = context || $1::jsonb, updated_at = now() WHERE id = $2`,
		data, id)
	if err != nil {
		return fmt.Errorf("postgres: append context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// ReplaceContext swaps the whole context sequence.
func (s *Store) ReplaceContext(ctx context.Context, id uuid.UUID, entries []session.ContextEntry) error {
	if entries == nil {
		entries = []session.ContextEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("postgres: marshal context: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET context = $1::jsonb, updated_at = now() WHERE id = $2`,
		data, id)
	if err != nil {
		return fmt.Errorf("postgres: replace context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// SetFinalAnswer stores the deliverable of a completed session.
func (s *Store) SetFinalAnswer(ctx context.Context, id uuid.UUID, answer session.FinalAnswerResponse) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("postgres: marshal final answer: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET final_answer = $1::jsonb, updated_at = now() WHERE id = $2`,
		data, id)
	if err != nil {
		return fmt.Errorf("postgres: set final answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// DeleteExpired removes terminal sessions created before the cutoff.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	terminal := []string{
		string(session.StatusCompleted),
		string(session.StatusError),
		string(session.StatusTimeout),
		string(session.StatusInterrupted),
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE status = ANY($1) AND created_at < $2`,
		terminal, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
