package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/agentbot/core/telegram/state"
)

// PendingLead is an undelivered lead with its delivery history.
type PendingLead struct {
	Lead
	Attempts  int
	LastError string
}

type leadRow struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	Username  string    `db:"username"`
	FullName  string    `db:"full_name"`
	Fields    string    `db:"fields"`
	LastError string    `db:"last_error"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}

// Outbox keeps leads whose notification failed.
type Outbox struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewOutbox uses the failed_leads table.
func NewOutbox(db *sqlx.DB) *Outbox {
	return &Outbox{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Save records l after its first failed delivery.
func (o *Outbox) Save(ctx context.Context, l Lead, cause error) error {
	fields, err := json.Marshal(l.Fields)
	if err != nil {
		return fmt.Errorf("lead: encode fields: %w", err)
	}
	created := l.CreatedAt
	if created.IsZero() {
		created = o.now()
	}
	q := o.db.Rebind(`INSERT INTO failed_leads (id, user_id, username, full_name, fields, last_error, attempts, created_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?)`)
	if _, err := o.db.ExecContext(ctx, q,
		l.ID.String(), l.UserID, l.Username, l.FullName, string(fields), errText(cause), created.UTC(),
	); err != nil {
		return fmt.Errorf("lead: save to outbox: %w", err)
	}
	return nil
}

// Pending lists undelivered leads with fewer than maxAttempts attempts, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit, maxAttempts int) ([]PendingLead, error) {
	if limit <= 0 {
		limit = 50
	}
	q := o.db.Rebind(`SELECT id, user_id, username, full_name, fields, last_error, attempts, created_at
FROM failed_leads
WHERE delivered_at IS NULL AND attempts < ?
ORDER BY created_at, id
LIMIT ?`)
	var rows []leadRow
	if err := o.db.SelectContext(ctx, &rows, q, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("lead: list outbox: %w", err)
	}

	out := make([]PendingLead, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("lead: outbox row %q: %w", r.ID, err)
		}
		var fields []state.Field
		if err := json.Unmarshal([]byte(r.Fields), &fields); err != nil {
			return nil, fmt.Errorf("lead: outbox row %q fields: %w", r.ID, err)
		}
		out = append(out, PendingLead{
			Lead: Lead{
				ID:        id,
				UserID:    r.UserID,
				Username:  r.Username,
				FullName:  r.FullName,
				Fields:    fields,
				CreatedAt: r.CreatedAt,
			},
			Attempts:  r.Attempts,
			LastError: r.LastError,
		})
	}
	return out, nil
}

// MarkDelivered takes id out of the pending set.
func (o *Outbox) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	q := o.db.Rebind(`UPDATE failed_leads SET delivered_at = ? WHERE id = ?`)
	if _, err := o.db.ExecContext(ctx, q, o.now(), id.String()); err != nil {
		return fmt.Errorf("lead: mark delivered: %w", err)
	}
	return nil
}

// MarkFailed counts another failed attempt.
func (o *Outbox) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	q := o.db.Rebind(`UPDATE failed_leads SET attempts = attempts + 1, last_error = ? WHERE id = ?`)
	if _, err := o.db.ExecContext(ctx, q, errText(cause), id.String()); err != nil {
		return fmt.Errorf("lead: mark failed: %w", err)
	}
	return nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
