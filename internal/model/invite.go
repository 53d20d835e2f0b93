package model

import (
	"sort"
	"time"
)

// InviteStatus is the lifecycle state of a canonical invite.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusApproved InviteStatus = "approved"
	InviteStatusDeclined InviteStatus = "declined"
)

// Terminal reports whether the status accepts no further transitions.
func (s InviteStatus) Terminal() bool {
	return s == InviteStatusApproved || s == InviteStatusDeclined
}

// Decision is a user's answer to an invite.
type Decision string

const (
	DecisionYes   Decision = "yes"
	DecisionNo    Decision = "no"
	DecisionMaybe Decision = "maybe"
)

// NextStatus returns the status an invite moves to when the given
// decision is applied, and whether the transition is allowed at all.
// "maybe" keeps a pending invite pending (notes and confidence still
// update); approved and declined are terminal.
func NextStatus(current InviteStatus, d Decision) (InviteStatus, bool) {
	if current != InviteStatusPending {
		return current, false
	}
	switch d {
	case DecisionYes:
		return InviteStatusApproved, true
	case DecisionNo:
		return InviteStatusDeclined, true
	case DecisionMaybe:
		return InviteStatusPending, true
	}
	return current, false
}

// InvitePayload is the structured extraction result attached to an
// invite. ExternalRef, Title, and Summary are required for an
// extraction to be considered complete.
type InvitePayload struct {
	ExternalRef     string   `json:"external_ref"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Inviter         string   `json:"inviter,omitempty"`
	Location        string   `json:"location,omitempty"`
	ProposedTimes   []string `json:"proposed_times"`
	FollowUpActions []string `json:"follow_up_actions"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

// Complete reports whether the payload carries the fields required to
// create a canonical invite.
func (p InvitePayload) Complete() bool {
	return p.ExternalRef != "" && p.Title != "" && p.Summary != ""
}

// Invite is the canonical record of a detected event proposal from an
// email thread. At most one invite exists per thread; visibility for
// other users sharing the thread goes through SharedUserIDs, never
// through duplicate rows.
type Invite struct {
	ID               string       `json:"id" db:"id"`
	OwnerUserID      string       `json:"owner_user_id" db:"owner_user_id"`
	ThreadID         string       `json:"thread_id" db:"thread_id"`
	PrimaryMessageID string       `json:"primary_message_id" db:"primary_message_id"`
	Subject          string       `json:"subject" db:"subject"`
	Payload          InvitePayload `json:"payload"`

	// SharedUserIDs is the set of non-owner users who can see this
	// invite. Stored sorted; grows monotonically.
	SharedUserIDs []string `json:"shared_user_ids"`

	Status InviteStatus `json:"status" db:"status"`
	Notes  string       `json:"notes" db:"notes"`

	// Confidence holds per-stage confidence values keyed by stage name
	// (e.g. "extraction", "decision").
	Confidence map[string]float64 `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UnionSharedUsers returns the sorted union of the invite's shared set
// and the given ids, excluding the owner, and whether the set grew.
func (inv *Invite) UnionSharedUsers(ids []string) ([]string, bool) {
	seen := make(map[string]bool, len(inv.SharedUserIDs)+len(ids))
	for _, id := range inv.SharedUserIDs {
		seen[id] = true
	}
	grew := false
	for _, id := range ids {
		if id == "" || id == inv.OwnerUserID || seen[id] {
			continue
		}
		seen[id] = true
		grew = true
	}
	if !grew {
		return inv.SharedUserIDs, false
	}
	merged := make([]string, 0, len(seen))
	for id := range seen {
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged, true
}
