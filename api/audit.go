package api

import "time"

// Outcome is the result of a mutation attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeInvalid         Outcome = "invalid"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeUnauthenticated Outcome = "unauthenticated"
)

// MutationRecord is one entry of the mutation history.
type MutationRecord struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Resource  string         `json:"resource"`
	Kind      MutationKind   `json:"kind"`
	TargetID  string         `json:"target_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	Rule      string         `json:"rule,omitempty"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
}

// QueryFilter selects mutation records.
type QueryFilter struct {
	Since    time.Time    `json:"since,omitempty"`
	Until    time.Time    `json:"until,omitempty"`
	Resource string       `json:"resource,omitempty"`
	Kind     MutationKind `json:"kind,omitempty"`
	Outcome  Outcome      `json:"outcome,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

// AuditStats summarises the mutation history for the dashboard.
type AuditStats struct {
	Total      int            `json:"total"`
	Successes  int            `json:"successes"`
	Failures   int            `json:"failures"`
	Invalid    int            `json:"invalid"`
	Cancelled  int            `json:"cancelled"`
	ByResource map[string]int `json:"by_resource"`
	ByKind     map[string]int `json:"by_kind"`
}
