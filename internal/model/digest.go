package model

import "time"

// DigestItem is one invite as it appeared in a sent digest.
type DigestItem struct {
	InviteID string `json:"invite_id"`
	Title    string `json:"title"`
}

// DigestSnapshot is the immutable record of what was shown to a user
// in a digest email, including the letter shorthand assigned to each
// invite. Letters are single uppercase A..Z assigned by item order at
// creation time. Snapshots are produced by the digest sender and are
// read-only here.
type DigestSnapshot struct {
	ID     string    `json:"id" db:"id"`
	UserID string    `json:"user_id" db:"user_id"`
	SentAt time.Time `json:"sent_at" db:"sent_at"`

	// Items is the ordered list of invites in the digest.
	Items []DigestItem `json:"items"`

	// LetterMapping maps an uppercase letter to the invite id it
	// referred to. It may be partial; missing letters are derived
	// from item order when the snapshot is read back.
	LetterMapping map[string]string `json:"letter_mapping"`
}

// ReplyDecision is a single resolved decision extracted from a user's
// digest reply. It is ephemeral: produced during a pass, handed to the
// decision sink, never persisted as-is.
type ReplyDecision struct {
	// Reference is the raw reference text the user wrote ("A",
	// "Invite B", or an already-canonical invite id).
	Reference string `json:"reference"`

	// ResolvedInviteID is the canonical invite id the reference
	// resolved to.
	ResolvedInviteID string `json:"resolved_invite_id"`

	Decision   Decision `json:"decision"`
	Notes      string   `json:"notes,omitempty"`
	Confidence float64  `json:"confidence"`
}

// DecisionRecord is the downstream decision sink row. Repeated
// identical decisions are idempotent; a differing decision for the
// same (user, invite) pair overwrites.
type DecisionRecord struct {
	UserID     string    `db:"user_id"`
	InviteID   string    `db:"invite_id"`
	Decision   Decision  `db:"decision"`
	Notes      string    `db:"notes"`
	Confidence float64   `db:"confidence"`
	DecidedAt  time.Time `db:"decided_at"`
}
