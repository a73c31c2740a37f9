package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voice-receptionist/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the schema in migrations/0001_init.sql:
// - calls (UNIQUE provider_call_id)
// - call_logs (BIGSERIAL id, append-only)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const callColumns = `id, tenant_id, provider_call_id, caller_phone, status, duration_seconds, recording_url,
summary, intent, callback_requested, handled, archived, provider_cost_micros,
conversation_state, turn_index, silence_count, created_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c     Call
		ended sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.ProviderCallID,
		&c.CallerPhone,
		&c.Status,
		&c.DurationSeconds,
		&c.RecordingURL,
		&c.Summary,
		&c.Intent,
		&c.CallbackRequested,
		&c.Handled,
		&c.Archived,
		&c.ProviderCostMicros,
		&c.State,
		&c.TurnIndex,
		&c.SilenceCount,
		&c.CreatedAt,
		&ended,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) (Call, bool, error) {
	if c.ProviderCallID == "" || c.TenantID == "" {
		return Call{}, false, ErrInvalidArgument
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.clock().UTC()
	}

	const q = `
INSERT INTO calls (
  id, tenant_id, provider_call_id, caller_phone, status, conversation_state, turn_index, silence_count, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
RETURNING ` + callColumns

	out, err := scanCall(r.db.QueryRowContext(ctx, q,
		c.ID,
		c.TenantID,
		c.ProviderCallID,
		c.CallerPhone,
		c.Status,
		c.State,
		c.TurnIndex,
		c.SilenceCount,
		c.CreatedAt,
	))
	if err != nil {
		if utils.IsUniqueViolation(err, "calls_provider_call_id_key") {
			existing, gerr := r.GetByProviderID(ctx, c.ProviderCallID)
			if gerr != nil {
				return Call{}, false, gerr
			}
			return existing, false, nil
		}
		return Call{}, false, fmt.Errorf("insert call: %w", err)
	}
	return out, true, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) ListEntries(ctx context.Context, callID string) ([]Entry, error) {
	const q = `
SELECT id, call_id, speaker, message, created_at
FROM call_logs
WHERE call_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CallID, &e.Speaker, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) AppendTurn(ctx context.Context, w TurnWrite) error {
	if w.CallID == "" {
		return ErrInvalidArgument
	}
	at := w.At
	if at.IsZero() {
		at = r.clock().UTC()
	}
	next := w.NextState
	if next == "" {
		next = StateAwaitingInput
	}

	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// The guard is the optimistic-concurrency check: a duplicate or racing
		// delivery for the same turn sees zero rows and writes nothing.
		const advance = `
UPDATE calls
SET turn_index = turn_index + 1, silence_count = $3, conversation_state = $4
WHERE id = $1 AND turn_index = $2 AND conversation_state = 'awaiting_input'
`
		res, err := tx.ExecContext(ctx, advance, w.CallID, w.ExpectedTurn, w.SilenceCount, next)
		if err != nil {
			return fmt.Errorf("advance turn: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}

		const insert = `
INSERT INTO call_logs (call_id, speaker, message, created_at)
VALUES ($1,$2,$3,$4)
`
		if _, err := tx.ExecContext(ctx, insert, w.CallID, SpeakerCaller, w.CallerMessage, at); err != nil {
			return fmt.Errorf("insert caller entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, w.CallID, SpeakerAgent, w.AgentMessage, at); err != nil {
			return fmt.Errorf("insert agent entry: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) Finalize(ctx context.Context, providerCallID string, f Finalization) (Call, bool, error) {
	if !f.Status.Terminal() {
		return Call{}, false, ErrInvalidArgument
	}
	ended := f.EndedAt
	if ended.IsZero() {
		ended = r.clock().UTC()
	}

	q := `
UPDATE calls
SET status = $2, duration_seconds = $3, recording_url = $4, provider_cost_micros = $5,
    ended_at = $6, conversation_state = 'terminated'
WHERE provider_call_id = $1 AND status = 'in_progress'
RETURNING ` + callColumns

	c, err := scanCall(r.db.QueryRowContext(ctx, q,
		providerCallID,
		f.Status,
		f.DurationSeconds,
		f.RecordingURL,
		f.ProviderCostMicros,
		ended,
	))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Call{}, false, fmt.Errorf("finalize call: %w", err)
	}

	// Either unknown, or already terminal.
	existing, err := r.GetByProviderID(ctx, providerCallID)
	if err != nil {
		return Call{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepo) SetSummary(ctx context.Context, callID string, s Summary) error {
	const q = `
UPDATE calls
SET summary = $2, intent = $3, callback_requested = $4
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, callID, s.Text, s.Intent, s.CallbackRequested)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
