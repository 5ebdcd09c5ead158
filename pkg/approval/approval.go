// Package approval implements the persistent escalation workflow: the
// record created when the Policy Engine returns escalate, its
// operator-driven approve/deny transition, and the one-shot consumption
// that binds an approval to exactly one executed action.
package approval

import "time"

// Status is an approval's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Approval is the persistent escalation record created once per escalated
// evaluation. Action/Counterparty/Context are frozen copies of the
// triggering request, stored as opaque JSON by the store layer.
type Approval struct {
	ApprovalID  string
	Tenant      string
	InteractionID string
	ManifestID  string
	AgentID     string
	Action      map[string]interface{}
	ActionHash  string
	Counterparty map[string]interface{}
	Context      map[string]interface{}
	ReasonCodes  []string

	Status Status

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	ConsumedInteractionID string

	Approver   string
	ApprovedAt *time.Time
}

// EffectiveStatus reports StatusExpired for a still-pending row whose
// expiry has passed, without mutating the stored row: expiry is observed
// and rejected at redemption time rather than swept eagerly.
func (a Approval) EffectiveStatus(now time.Time) Status {
	if a.Status == StatusPending && !a.ExpiresAt.IsZero() && a.ExpiresAt.Before(now) {
		return StatusExpired
	}
	return a.Status
}
