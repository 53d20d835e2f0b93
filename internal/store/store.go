package store

import (
	"context"

	"github.com/nhle/invite-sync/internal/model"
)

// Store defines the persistence interface for credentials, invites,
// digest snapshots, decisions, and reauth notifications. It contains
// no domain logic: conditional updates express their condition in the
// method contract and nothing more.
type Store interface {
	// === Credentials ===

	// GetCredential returns the credential for userID, or an error if
	// it does not exist.
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)

	// ListEligibleCredentials returns all credentials that do not
	// currently require re-authentication, in stable user id order.
	ListEligibleCredentials(ctx context.Context) ([]model.Credential, error)

	// UpdateCredential applies a partial update. Nil patch fields are
	// left untouched.
	UpdateCredential(ctx context.Context, userID string, patch model.CredentialPatch) error

	// UpsertCredential inserts or replaces a full credential row.
	UpsertCredential(ctx context.Context, cred model.Credential) error

	// === Invites ===

	// GetInviteByID returns the invite with the given id, or nil when
	// absent.
	GetInviteByID(ctx context.Context, id string) (*model.Invite, error)

	// GetInviteByThreadID returns the canonical invite for a thread,
	// or nil when absent.
	GetInviteByThreadID(ctx context.Context, threadID string) (*model.Invite, error)

	// GetInviteByMessageID returns the invite whose primary message id
	// matches, or nil when absent.
	GetInviteByMessageID(ctx context.Context, messageID string) (*model.Invite, error)

	// InsertInvite inserts a new invite. It fails if an invite already
	// exists for the same thread or primary message id.
	InsertInvite(ctx context.Context, inv model.Invite) error

	// UpdateInviteShared replaces the shared user set of an invite.
	UpdateInviteShared(ctx context.Context, id string, sharedUserIDs []string) error

	// UpdateInviteStatus updates status, notes, and confidence of an
	// invite.
	UpdateInviteStatus(ctx context.Context, id string, status model.InviteStatus, notes string, confidence map[string]float64) error

	// === Digest snapshots (read-only for this engine) ===

	// LatestDigest returns the most recently sent digest snapshot for
	// a user, or nil when the user has never received one.
	LatestDigest(ctx context.Context, userID string) (*model.DigestSnapshot, error)

	// InsertDigest stores a digest snapshot. The digest sender is the
	// only writer; the engine uses this in tests and tooling.
	InsertDigest(ctx context.Context, d model.DigestSnapshot) error

	// === Decision sink ===

	// UpsertDecision records a decision. Identical repeats are no-ops;
	// a differing decision for the same (user, invite) overwrites.
	UpsertDecision(ctx context.Context, rec model.DecisionRecord) error

	// GetDecision returns the recorded decision for (user, invite), or
	// nil when absent.
	GetDecision(ctx context.Context, userID, inviteID string) (*model.DecisionRecord, error)

	// === Partner links ===

	// GetPartnerLink returns the partner link for a user, or nil when
	// the user has none.
	GetPartnerLink(ctx context.Context, userID string) (*model.PartnerLink, error)

	// SetPartnerLink inserts or replaces a partner link.
	SetPartnerLink(ctx context.Context, link model.PartnerLink) error

	// === Notifications ===

	// CreateNotification records a reauth (or other) notice for a user.
	CreateNotification(ctx context.Context, userID, kind, message string) error
}
