// Package lead delivers completed applications to the operator chat.
package lead

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/agentbot/core/telegram/state"
)

// Lead is a completed application.
type Lead struct {
	ID        uuid.UUID
	UserID    int64
	Username  string
	FullName  string
	Fields    []state.Field
	CreatedAt time.Time
}

// New stamps a lead with a fresh id.
func New(userID int64, username, fullName string, fields []state.Field) Lead {
	return Lead{
		ID:        uuid.New(),
		UserID:    userID,
		Username:  username,
		FullName:  fullName,
		Fields:    append([]state.Field(nil), fields...),
		CreatedAt: time.Now().UTC(),
	}
}

// Value returns the field stored under name.
func (l Lead) Value(name string) string {
	for _, f := range l.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Notifier delivers a lead to operators.
type Notifier interface {
	Notify(ctx context.Context, l Lead) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, l Lead) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, l Lead) error {
	return f(ctx, l)
}
