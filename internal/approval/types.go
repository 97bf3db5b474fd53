package approval

import "time"

// Status represents the state of a confirmation request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Request is a destructive action waiting for a user's confirmation.
type Request struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Resource  string     `json:"resource"`
	TargetID  string     `json:"target_id"`
	Message   string     `json:"message"`
	Status    Status     `json:"status"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// done is closed when the request is resolved
	done chan struct{}
}

// Wait returns a channel closed once the request is resolved.
func (r *Request) Wait() <-chan struct{} {
	return r.done
}
