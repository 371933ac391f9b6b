package state

import (
	"context"
	"errors"
	"time"
)

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	// A missing session is equivalent to StateIdle.
	StateIdle State = "idle"
)

// ErrNilSession is returned by Put when called without a session.
var ErrNilSession = errors.New("state: nil session")

// Field is one collected answer. Order follows the form steps.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Session stores the conversation step and collected fields for a user.
type Session struct {
	UserID    int64     `json:"user_id"`
	State     State     `json:"state"`
	Fields    []Field   `json:"fields,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions keyed by user id. A miss is not an error.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, bool, error)
	Put(ctx context.Context, sess *Session) error
	Remove(ctx context.Context, userID int64) error
}

// Active reports whether the session is mid-conversation.
func (s *Session) Active() bool {
	return s != nil && s.State != "" && s.State != StateIdle
}

// Value returns the collected value for name.
func (s *Session) Value(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Set stores value under name, replacing an earlier value in place.
func (s *Session) Set(name, value string) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Value = value
			return
		}
	}
	s.Fields = append(s.Fields, Field{Name: name, Value: value})
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Fields = append([]Field(nil), s.Fields...)
	return &cp
}
