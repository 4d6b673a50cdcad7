package audit

import (
	"encoding/json"
	"errors"
	"time"
)

// Outcome classifies an audited attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeDenied  Outcome = "DENIED"
)

// Valid reports whether the outcome is known.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeDenied
}

var (
	// ErrInvalidEntry indicates an entry missing required fields.
	ErrInvalidEntry = errors.New("audit: invalid entry")
	// ErrSinkNotConfigured indicates the logger has nowhere to write.
	ErrSinkNotConfigured = errors.New("audit: sink not configured")
)

// Record is one append-only audit row. Records are never updated or deleted.
type Record struct {
	ID           string          `json:"id"`
	PrincipalID  string          `json:"principal_id"`
	TenantID     *string         `json:"tenant_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	Outcome      Outcome         `json:"outcome"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Entry is the caller-supplied content of a record.
type Entry struct {
	PrincipalID  string
	TenantID     *string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      Outcome
	// Detail is an arbitrary structured payload stored verbatim.
	Detail map[string]any
}
