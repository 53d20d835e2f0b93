package model

import "time"

// Credential is the persisted OAuth state for one user against the
// mail provider. The access token is ephemeral and refreshed as needed;
// the refresh token is stored encrypted at rest.
type Credential struct {
	// UserID is the internal identifier of the credential's owner.
	UserID string `json:"user_id" db:"user_id"`

	// EmailAddress is the provider account address, used to detect
	// self-sent messages during classification.
	EmailAddress string `json:"email_address" db:"email_address"`

	// AccessToken is the current bearer token, possibly expired.
	AccessToken string `json:"-" db:"access_token"`

	// AccessTokenExpiry is when AccessToken stops being usable.
	AccessTokenExpiry time.Time `json:"-" db:"access_token_expiry"`

	// RefreshToken is the durable secret used to mint new access
	// tokens. It is ciphertext as loaded from the store.
	RefreshToken string `json:"-" db:"refresh_token"`

	// NeedsReauth marks the credential as requiring the user to repeat
	// OAuth consent. It only ever moves false -> true here; clearing it
	// happens through external re-authentication.
	NeedsReauth bool `json:"needs_reauth" db:"needs_reauth"`

	// HistoryCursor is the opaque provider watermark the next sync
	// resumes from. Empty means no cursor has been established yet.
	HistoryCursor string `json:"history_cursor" db:"history_cursor"`

	// UpdatedAt is when any field of this row last changed.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CredentialPatch describes a partial update to a credential. Nil
// fields are left untouched, so callers can update the cursor without
// rewriting token material and vice versa.
type CredentialPatch struct {
	AccessToken       *string
	AccessTokenExpiry *time.Time
	RefreshToken      *string
	NeedsReauth       *bool
	HistoryCursor     *string
}

// IsZero reports whether the patch would change nothing.
func (p CredentialPatch) IsZero() bool {
	return p.AccessToken == nil &&
		p.AccessTokenExpiry == nil &&
		p.RefreshToken == nil &&
		p.NeedsReauth == nil &&
		p.HistoryCursor == nil
}

// PartnerLink records the known partner relationship for a user,
// used to seed shared visibility when a new invite is inserted.
type PartnerLink struct {
	UserID       string `db:"user_id"`
	PartnerID    string `db:"partner_id"`
	PartnerEmail string `db:"partner_email"`
}
