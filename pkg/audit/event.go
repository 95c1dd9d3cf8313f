// Package audit records circuit changes as a JSON-lines trail.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Circuit operations that produce audit events
const (
	OpCreate   = "create"
	OpPatch    = "patch"
	OpDelete   = "delete"
	OpRedeploy = "redeploy"
)

// Change is one field-level difference produced by an operation.
type Change struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old,omitempty"`
	New   interface{} `json:"new,omitempty"`
}

// Event is one audited operation on a circuit
type Event struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	User        string        `json:"user,omitempty"`
	CircuitID   string        `json:"circuit_id"`
	CircuitName string        `json:"circuit_name,omitempty"`
	Operation   string        `json:"operation"`
	Changes     []Change      `json:"changes,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	ClientIP    string        `json:"client_ip,omitempty"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	CircuitID   string
	User        string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// Match reports whether e satisfies every criterion set in f.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.CircuitID != "" && e.CircuitID != f.CircuitID:
		return false
	case f.User != "" && e.User != f.User:
		return false
	case f.Operation != "" && e.Operation != f.Operation:
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !e.Success:
		return false
	case f.FailureOnly && e.Success:
		return false
	}
	return true
}

// NewEvent creates a new audit event
func NewEvent(user, circuitID, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		User:      user,
		CircuitID: circuitID,
		Operation: operation,
	}
}

// WithName sets the circuit name
func (e *Event) WithName(name string) *Event {
	e.CircuitName = name
	return e
}

// WithChanges sets the changes
func (e *Event) WithChanges(changes []Change) *Event {
	e.Changes = changes
	return e
}

// WithClientIP records the caller's address
func (e *Event) WithClientIP(ip string) *Event {
	e.ClientIP = ip
	return e
}

// WithResult marks the event successful when err is nil, failed otherwise.
func (e *Event) WithResult(err error) *Event {
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
