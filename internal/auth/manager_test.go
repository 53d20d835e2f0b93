package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/secret"
	"github.com/nhle/invite-sync/internal/store"
	"github.com/nhle/invite-sync/tests/testutil"
)

func newTestBox(t *testing.T) *secret.Box {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	box, err := secret.NewBox(key)
	require.NoError(t, err)
	return box
}

func newTestManager(t *testing.T, st store.Store, box *secret.Box) *Manager {
	t.Helper()
	return NewManager(model.GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
	}, st, box, zap.NewNop())
}

func seedCredential(t *testing.T, st store.Store, box *secret.Box, userID string, expiry time.Time) *model.Credential {
	t.Helper()
	sealed, err := box.Encrypt("refresh-" + userID)
	require.NoError(t, err)

	cred := model.Credential{
		UserID:            userID,
		EmailAddress:      userID + "@example.com",
		AccessToken:       "cached-token",
		AccessTokenExpiry: expiry,
		RefreshToken:      sealed,
	}
	require.NoError(t, st.UpsertCredential(context.Background(), cred))
	return &cred
}

func TestEnsureAccessTokenUsesCachedToken(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	calls := 0
	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		calls++
		return nil, errors.New("should not be called")
	}

	cred := seedCredential(t, st, box, "u1", time.Now().Add(time.Hour))
	token, err := m.EnsureAccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
	assert.Zero(t, calls)
}

func TestEnsureAccessTokenRefreshesNearExpiry(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		assert.Equal(t, "refresh-u1", refreshToken)
		return &oauth2.Token{
			AccessToken: "fresh-token",
			Expiry:      time.Now().Add(time.Hour),
		}, nil
	}

	cred := seedCredential(t, st, box, "u1", time.Now().Add(10*time.Second))
	token, err := m.EnsureAccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)

	stored, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", stored.AccessToken)
	// The provider did not rotate the refresh token, so the stored
	// ciphertext is unchanged.
	plain, err := box.Decrypt(stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-u1", plain)
}

func TestRefreshStoresRotatedToken(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return &oauth2.Token{
			AccessToken:  "fresh-token",
			RefreshToken: "rotated-refresh",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	}

	cred := seedCredential(t, st, box, "u1", time.Time{})
	require.NoError(t, m.Refresh(context.Background(), cred))

	stored, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	plain, err := box.Decrypt(stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", plain)
}

func TestRefreshPermanentRejectionFlagsReauth(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	}

	cred := seedCredential(t, st, box, "u1", time.Time{})
	err := m.Refresh(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, IsAuthExpired(err))
	assert.True(t, cred.NeedsReauth)

	stored, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, stored.NeedsReauth)

	// The flagged credential is no longer eligible for sync.
	eligible, err := st.ListEligibleCredentials(context.Background())
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestRefreshTransientFailureDoesNotFlag(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return nil, errors.New("connection reset")
	}

	cred := seedCredential(t, st, box, "u1", time.Time{})
	err := m.Refresh(context.Background(), cred)
	require.Error(t, err)
	assert.False(t, IsAuthExpired(err))

	stored, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.NeedsReauth)
}

func TestReauthStickiness(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	calls := 0
	m.exchange = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		calls++
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	}

	cred := seedCredential(t, st, box, "u1", time.Time{})
	require.Error(t, m.Refresh(context.Background(), cred))
	require.True(t, cred.NeedsReauth)

	// Once flagged, no further automatic refresh is attempted.
	_, err := m.EnsureAccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, IsAuthExpired(err))
	assert.Equal(t, 1, calls)
}

func TestFlagReauthSetOnce(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	// Two passes hold their own view of the same credential.
	first := seedCredential(t, st, box, "u1", time.Time{})
	second, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, m.FlagReauth(context.Background(), first))
	require.NoError(t, m.FlagReauth(context.Background(), second))
	assert.True(t, first.NeedsReauth)
	assert.True(t, second.NeedsReauth)

	stored, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, stored.NeedsReauth)
}

func TestStoreAuthorizedClearsReauth(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	cred := seedCredential(t, st, box, "u1", time.Time{})
	require.NoError(t, m.FlagReauth(context.Background(), cred))

	tok := &oauth2.Token{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, m.StoreAuthorized(context.Background(), "u1", "u1@example.com", tok))

	stored, err := st.GetCredential(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.NeedsReauth)
	plain, err := box.Decrypt(stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", plain)
}

func TestStoreAuthorizedRequiresRefreshToken(t *testing.T) {
	st := testutil.NewTestStore(t)
	box := newTestBox(t)
	m := newTestManager(t, st, box)

	err := m.StoreAuthorized(context.Background(), "u1", "u1@example.com", &oauth2.Token{
		AccessToken: "access-only",
	})
	assert.Error(t, err)
}

func TestPermanentAuthFailure(t *testing.T) {
	assert.True(t, permanentAuthFailure(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	assert.False(t, permanentAuthFailure(errors.New("timeout")))
	assert.False(t, permanentAuthFailure(nil))
}
