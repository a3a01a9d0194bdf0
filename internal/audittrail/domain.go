// Package audittrail is the append-only event store behind every state
// transition and sign-off of the audit hub.
package audittrail

import (
	"time"

	"github.com/google/uuid"
)

// Entity types recorded on events.
const (
	EntityPeriod   = "period"
	EntityDataset  = "dataset"
	EntitySignOff  = "signoff"
	EntityArtifact = "export_artifact"
)

// Event is one immutable audit log entry.
type Event struct {
	ID         uuid.UUID `json:"id"`
	CompanyID  int64     `json:"company_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	ActorID    int64     `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    Payload   `json:"payload"`
}

// Payload captures the state before and after the recorded action.
type Payload struct {
	Old map[string]any `json:"old,omitempty"`
	New map[string]any `json:"new,omitempty"`
}

// Filter narrows an event listing. Empty fields match everything.
type Filter struct {
	EntityType string
	EntityID   string
	Page       int
	PageSize   int
}

// Page is one page of events.
type Page struct {
	Events  []Event `json:"events"`
	Page    int     `json:"page"`
	HasNext bool    `json:"has_next"`
}
