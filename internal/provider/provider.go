package provider

import (
	"context"

	"github.com/nhle/invite-sync/internal/model"
)

// Profile is the provider's view of the account, used to establish a
// fresh baseline cursor.
type Profile struct {
	EmailAddress string
	HistoryID    uint64
}

// HistoryPage is one page of the account's change stream.
type HistoryPage struct {
	// Refs are the message references added in this page, unfiltered.
	Refs []model.MessageReference

	// NextPageToken continues the paging session; empty when drained.
	NextPageToken string

	// HistoryID is the watermark reported with this page.
	HistoryID uint64
}

// Provider is the narrow mail-provider surface the sync engine
// consumes. All calls authenticate with a caller-supplied access
// token; token lifecycle is handled above this interface.
type Provider interface {
	// GetProfile fetches the account profile and current watermark.
	GetProfile(ctx context.Context, accessToken string) (*Profile, error)

	// ListHistory fetches one change-stream page starting from the
	// opaque cursor. A cursor the provider no longer honors yields a
	// CursorInvalidError.
	ListHistory(ctx context.Context, accessToken, cursor, pageToken string) (*HistoryPage, error)

	// ListRecent lists the most recent messages, used to seed an
	// account that has no cursor yet. The returned HistoryID is the
	// account's current watermark.
	ListRecent(ctx context.Context, accessToken string, max int) (*HistoryPage, error)

	// GetMessage fetches full message content.
	GetMessage(ctx context.Context, accessToken, id string) (*model.Message, error)

	// GetRawMessage fetches a message in raw RFC 822 form and parses
	// it, as a fallback when the structured form is unavailable.
	GetRawMessage(ctx context.Context, accessToken, id string) (*model.Message, error)

	// GetThread fetches all messages of a thread.
	GetThread(ctx context.Context, accessToken, threadID string) ([]*model.Message, error)

	// Search runs a full-text query and returns matching references.
	Search(ctx context.Context, accessToken, query string, max int) ([]model.MessageReference, error)
}
