package audit

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Event is one audited session action.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`    // identity UID
	Target    string    `json:"target,omitempty"`  // email or other subject of the action
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit events as JSON lines. The zero value is not usable;
// a nil *Logger discards events.
type Logger struct {
	out zerolog.Logger
	now func() time.Time
}

// New returns an audit logger writing to w (stdout when w is nil).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		out: zerolog.New(w),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Log records an audit event.
func (l *Logger) Log(action, user, target, details string, err error) {
	if l == nil {
		return
	}
	event := Event{
		Timestamp: l.now(),
		Action:    action,
		User:      user,
		Target:    target,
		Details:   details,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	l.out.Log().
		Str("kind", "audit").
		Time("timestamp", event.Timestamp).
		Str("action", event.Action).
		Str("user", event.User).
		Str("target", event.Target).
		Str("details", event.Details).
		Bool("success", event.Success).
		Str("error", event.Error).
		Msg("")
}
