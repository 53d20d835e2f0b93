// Package auth manages the OAuth token lifecycle for provider
// credentials: cached access tokens, refresh-token exchange, rotation,
// and terminal auth failure detection.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/secret"
	"github.com/nhle/invite-sync/internal/store"
)

// expirySlack is how close to expiry a cached access token may be
// before it is refreshed anyway.
const expirySlack = time.Minute

// AuthExpiredError indicates stored credentials are permanently
// unusable and the user must repeat OAuth consent. It ends the user's
// pass; the condition is surfaced upward through the needsReauth flag,
// not through this error.
type AuthExpiredError struct {
	UserID string
	Reason string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("credentials expired for user %s: %s", e.UserID, e.Reason)
}

// IsAuthExpired reports whether err (or any error in its chain) is an
// AuthExpiredError.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}

// Manager owns all credential mutation for token lifecycle: it is the
// only writer of access tokens, refresh tokens, and the needsReauth
// flag during a pass.
type Manager struct {
	cfg   *oauth2.Config
	store store.Store
	box   *secret.Box
	log   *zap.Logger

	// exchange mints a fresh token from a refresh token. Overridable
	// in tests; defaults to the oauth2 token source.
	exchange func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// NewManager creates a token lifecycle manager for the given OAuth
// client.
func NewManager(
	google model.GoogleConfig,
	st store.Store,
	box *secret.Box,
	log *zap.Logger,
) *Manager {
	m := &Manager{
		cfg:   oauthConfig(google),
		store: st,
		box:   box,
		log:   log,
	}
	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		src := m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	}
	return m
}

func oauthConfig(g model.GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  g.RedirectURL,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// EnsureAccessToken returns a usable access token for the credential,
// refreshing if the cached one is missing or about to expire. The
// credential is updated in place on refresh.
func (m *Manager) EnsureAccessToken(ctx context.Context, cred *model.Credential) (string, error) {
	if cred.NeedsReauth {
		return "", &AuthExpiredError{UserID: cred.UserID, Reason: "reauth already required"}
	}

	if cred.AccessToken != "" && time.Until(cred.AccessTokenExpiry) > expirySlack {
		return cred.AccessToken, nil
	}

	if err := m.Refresh(ctx, cred); err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Refresh exchanges the credential's refresh token for a new access
// token and persists the result. The stored refresh token is kept
// unless the provider rotates it. A permanent rejection flips
// needsReauth and returns an AuthExpiredError; transient failures
// propagate without mutating any state.
func (m *Manager) Refresh(ctx context.Context, cred *model.Credential) error {
	refreshToken, err := m.box.Decrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("decrypting refresh token for %s: %w", cred.UserID, err)
	}

	tok, err := m.exchange(ctx, refreshToken)
	if err != nil {
		if permanentAuthFailure(err) {
			if flagErr := m.FlagReauth(ctx, cred); flagErr != nil {
				return flagErr
			}
			return &AuthExpiredError{UserID: cred.UserID, Reason: err.Error()}
		}
		return fmt.Errorf("refreshing token for %s: %w", cred.UserID, err)
	}

	patch := model.CredentialPatch{
		AccessToken:       &tok.AccessToken,
		AccessTokenExpiry: &tok.Expiry,
	}

	// Keep the existing refresh token unless the provider rotated it.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		sealed, err := m.box.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypting rotated refresh token for %s: %w", cred.UserID, err)
		}
		patch.RefreshToken = &sealed
	}

	if err := m.store.UpdateCredential(ctx, cred.UserID, patch); err != nil {
		return fmt.Errorf("persisting refreshed token for %s: %w", cred.UserID, err)
	}

	cred.AccessToken = tok.AccessToken
	cred.AccessTokenExpiry = tok.Expiry
	if patch.RefreshToken != nil {
		cred.RefreshToken = *patch.RefreshToken
	}

	return nil
}

// FlagReauth marks the credential as requiring re-authentication.
// The flag is set-once: the current row is re-read first so a
// concurrent pass that already flipped it does not notify twice.
func (m *Manager) FlagReauth(ctx context.Context, cred *model.Credential) error {
	current, err := m.store.GetCredential(ctx, cred.UserID)
	if err != nil {
		return fmt.Errorf("re-reading credential %s: %w", cred.UserID, err)
	}

	cred.NeedsReauth = true
	if current.NeedsReauth {
		return nil
	}

	needsReauth := true
	if err := m.store.UpdateCredential(ctx, cred.UserID, model.CredentialPatch{
		NeedsReauth: &needsReauth,
	}); err != nil {
		return fmt.Errorf("flagging reauth for %s: %w", cred.UserID, err)
	}

	m.log.Warn("credential requires re-authentication",
		zap.String("user_id", cred.UserID),
	)

	return m.store.CreateNotification(ctx, cred.UserID, "reauth",
		"Mail access expired. Please reconnect your account.")
}

// AuthURL returns the OAuth consent URL for re-authentication.
func (m *Manager) AuthURL(state string) string {
	return m.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

// StoreAuthorized persists a freshly authorized token set for a user
// and clears the reauth flag. This is the external re-authentication
// path; it is the only way needsReauth returns to false.
func (m *Manager) StoreAuthorized(ctx context.Context, userID, email string, tok *oauth2.Token) error {
	if tok.RefreshToken == "" {
		return fmt.Errorf("authorization for %s returned no refresh token", userID)
	}

	sealed, err := m.box.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token for %s: %w", userID, err)
	}

	return m.store.UpsertCredential(ctx, model.Credential{
		UserID:            userID,
		EmailAddress:      email,
		AccessToken:       tok.AccessToken,
		AccessTokenExpiry: tok.Expiry,
		RefreshToken:      sealed,
		NeedsReauth:       false,
	})
}

// permanentAuthFailure reports whether a refresh exchange failed in a
// way that re-running it can never fix (revoked or invalid grant).
// Server-side failures and network errors are left to the next pass.
func permanentAuthFailure(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	if retrieveErr.Response == nil {
		return false
	}
	switch retrieveErr.Response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
