// Package actions defines the durable unit of intent recorded by the offline queue.
// An action is enqueued when a state-changing operation cannot reach the remote
// authority, and is replayed later by the sync processor.
package actions

import (
	"encoding/json"
	"strings"
	"time"
)

// QueuedAction represents one state-changing intent waiting to be synchronized.
//
// The Type field routes the action to a domain handler, while the Payload
// carries whatever that handler needs to perform the remote mutation. Only the
// Metadata is mutated after enqueue, and only by the sync processor.
type QueuedAction struct {
	// ID is a unique identifier assigned at enqueue time (UUID).
	ID string `json:"id"`

	// CreatedAt is the timestamp when the action was enqueued.
	CreatedAt time.Time `json:"created_at"`

	// Type is a namespaced tag of the form "<domain>/<verb>" (e.g. "meal/create").
	Type string `json:"type"`

	// Payload contains the domain-specific data as raw JSON.
	// The queue never inspects it; handlers decode it based on Type.
	Payload json.RawMessage `json:"payload"`

	// Metadata tracks retry state for this action.
	Metadata Metadata `json:"metadata"`
}

// Metadata is the mutable part of a queued action.
type Metadata struct {
	// RetryCount is the number of failed dispatch attempts so far.
	RetryCount int `json:"retry_count"`

	// LastAttemptAt is the time of the most recent failed attempt, nil before the first one.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// Failed is set once RetryCount exceeds the retry cap. Failed actions are
	// never dispatched automatically again.
	Failed bool `json:"failed"`

	// Error holds the message of the last failure.
	Error string `json:"error,omitempty"`

	// CorrelationID identifies the local entity the action targets. For creates
	// this is the temporary id that must later be resolved to a server id.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// MetadataPatch is a partial Metadata update. Nil fields are left untouched.
type MetadataPatch struct {
	RetryCount    *int
	LastAttemptAt *time.Time
	Failed        *bool
	Error         *string
	CorrelationID *string
}

// Apply returns a copy of m with the non-nil fields of p merged in.
func (m Metadata) Apply(p MetadataPatch) Metadata {
	if p.RetryCount != nil {
		m.RetryCount = *p.RetryCount
	}
	if p.LastAttemptAt != nil {
		t := *p.LastAttemptAt
		m.LastAttemptAt = &t
	}
	if p.Failed != nil {
		m.Failed = *p.Failed
	}
	if p.Error != nil {
		m.Error = *p.Error
	}
	if p.CorrelationID != nil {
		m.CorrelationID = *p.CorrelationID
	}
	return m
}

// Domain returns the domain part of the action type ("meal" for "meal/create").
func (a QueuedAction) Domain() string {
	domain, _ := SplitType(a.Type)
	return domain
}

// Verb returns the verb part of the action type ("create" for "meal/create").
func (a QueuedAction) Verb() string {
	_, verb := SplitType(a.Type)
	return verb
}

// Clone returns a deep copy so callers can hold snapshots without sharing
// the payload buffer or the timestamp pointer with the queue.
func (a QueuedAction) Clone() QueuedAction {
	out := a
	if a.Payload != nil {
		out.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	if a.Metadata.LastAttemptAt != nil {
		t := *a.Metadata.LastAttemptAt
		out.Metadata.LastAttemptAt = &t
	}
	return out
}

// SplitType splits "<domain>/<verb>". A type without a slash is all domain.
func SplitType(actionType string) (domain, verb string) {
	domain, verb, _ = strings.Cut(actionType, "/")
	return domain, verb
}

// Type joins a domain and a verb into an action type.
func Type(domain, verb string) string {
	return domain + "/" + verb
}

// Common verbs used by the bundled domains and the entity reconciler.
const (
	VerbCreate = "create"
	VerbUpdate = "update"
	VerbToggle = "toggle"
	VerbDelete = "delete"
)

// SyncStatus is the synchronization state carried by local domain entities.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusError   SyncStatus = "error"
)
