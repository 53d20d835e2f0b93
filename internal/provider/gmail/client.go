// Package gmail adapts the Gmail REST API to the provider interface
// consumed by the sync engine.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/provider"
)

const defaultCallTimeout = 30 * time.Second

// Client implements provider.Provider over google.golang.org/api.
type Client struct {
	pageSize    int64
	callTimeout time.Duration
}

// NewClient creates a Gmail provider client. pageSize bounds the
// history entries requested per page; callTimeoutSec bounds each
// individual API call.
func NewClient(pageSize, callTimeoutSec int) *Client {
	c := &Client{
		pageSize:    int64(pageSize),
		callTimeout: time.Duration(callTimeoutSec) * time.Second,
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	return c
}

// service builds a Gmail service bound to the given access token.
// Token refresh happens above this layer, so a static source is used.
func (c *Client) service(ctx context.Context, accessToken string) (*gmailapi.Service, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return svc, cancel, nil
}

// GetProfile fetches the account profile and its current watermark.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*provider.Profile, error) {
	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "profile", "me")
	}

	return &provider.Profile{
		EmailAddress: profile.EmailAddress,
		HistoryID:    profile.HistoryId,
	}, nil
}

// ListHistory fetches one change-stream page starting from cursor.
// A 404 means the cursor has aged out on the provider side and is
// surfaced as a CursorInvalidError.
func (c *Client) ListHistory(ctx context.Context, accessToken, cursor, pageToken string) (*provider.HistoryPage, error) {
	historyID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, &provider.CursorInvalidError{Cursor: cursor}
	}

	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	call := svc.Users.History.List("me").
		StartHistoryId(historyID).
		HistoryTypes("messageAdded").
		MaxResults(c.pageSize)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil, &provider.CursorInvalidError{Cursor: cursor}
		}
		return nil, wrapErr(err, "history", cursor)
	}

	page := &provider.HistoryPage{
		NextPageToken: resp.NextPageToken,
		HistoryID:     resp.HistoryId,
	}

	seen := make(map[string]bool)
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			m := added.Message
			if m == nil || seen[m.Id] {
				continue
			}
			seen[m.Id] = true
			page.Refs = append(page.Refs, model.MessageReference{
				ID:       m.Id,
				ThreadID: m.ThreadId,
				Labels:   m.LabelIds,
			})
		}
	}

	return page, nil
}

// ListRecent lists the most recent messages together with the
// account's current watermark, used to seed a cursorless account.
func (c *Client) ListRecent(ctx context.Context, accessToken string, max int) (*provider.HistoryPage, error) {
	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if max <= 0 {
		max = int(c.pageSize)
	}

	resp, err := svc.Users.Messages.List("me").
		MaxResults(int64(max)).
		Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "messages", "recent")
	}

	page := &provider.HistoryPage{}
	for _, m := range resp.Messages {
		page.Refs = append(page.Refs, model.MessageReference{
			ID:       m.Id,
			ThreadID: m.ThreadId,
			Labels:   m.LabelIds,
		})
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "profile", "me")
	}
	page.HistoryID = profile.HistoryId

	return page, nil
}

// GetMessage fetches full structured message content.
func (c *Client) GetMessage(ctx context.Context, accessToken, id string) (*model.Message, error) {
	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "message", id)
	}

	return convertMessage(msg), nil
}

// GetRawMessage fetches a message in raw RFC 822 form and parses it
// with go-message, as a fallback when the structured form fails.
func (c *Client) GetRawMessage(ctx context.Context, accessToken, id string) (*model.Message, error) {
	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	msg, err := svc.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "message", id)
	}

	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decoding raw message %s: %w", id, err)
	}

	parsed, err := parseRawMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing raw message %s: %w", id, err)
	}

	parsed.ID = msg.Id
	parsed.ThreadID = msg.ThreadId
	parsed.Labels = msg.LabelIds
	parsed.Snippet = msg.Snippet

	return parsed, nil
}

// GetThread fetches all messages of a thread in full form.
func (c *Client) GetThread(ctx context.Context, accessToken, threadID string) ([]*model.Message, error) {
	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	thread, err := svc.Users.Threads.Get("me", threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "thread", threadID)
	}

	messages := make([]*model.Message, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		messages = append(messages, convertMessage(m))
	}
	return messages, nil
}

// Search runs a full-text query and returns matching references.
func (c *Client) Search(ctx context.Context, accessToken, query string, max int) ([]model.MessageReference, error) {
	svc, cancel, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if max <= 0 {
		max = int(c.pageSize)
	}

	resp, err := svc.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(max)).
		Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err, "search", query)
	}

	refs := make([]model.MessageReference, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, model.MessageReference{
			ID:       m.Id,
			ThreadID: m.ThreadId,
			Labels:   m.LabelIds,
		})
	}
	return refs, nil
}

// wrapErr maps a Gmail API error onto the provider error taxonomy.
func wrapErr(err error, kind, id string) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == 401:
			return &provider.AuthError{StatusCode: apiErr.Code, Message: apiErr.Message}
		case apiErr.Code == 404:
			return &provider.NotFoundError{Kind: kind, ID: id}
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return &provider.ServerError{StatusCode: apiErr.Code, Err: err}
		}
	}
	return fmt.Errorf("fetching %s %s: %w", kind, id, err)
}

// convertMessage flattens a Gmail message into the engine's message
// shape, pulling text and HTML bodies out of the MIME tree.
func convertMessage(msg *gmailapi.Message) *model.Message {
	result := &model.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Labels:   msg.LabelIds,
		Snippet:  msg.Snippet,
	}

	if msg.Payload == nil {
		return result
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			result.Subject = h.Value
		case "From":
			result.From = parseAddress(h.Value)
		case "To":
			result.To = parseAddressList(h.Value)
		case "Cc":
			result.Cc = parseAddressList(h.Value)
		case "Date":
			if t, err := mail.ParseDate(h.Value); err == nil {
				result.SentAt = t
			}
		}
	}

	text, html := extractBodies(msg.Payload)
	result.TextBody = text
	result.HTMLBody = html

	return result
}

// extractBodies walks the MIME tree and returns the first non-empty
// text/plain and text/html bodies found.
func extractBodies(part *gmailapi.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				return string(decoded), ""
			case "text/html":
				return "", string(decoded)
			}
		}
	}

	for _, child := range part.Parts {
		t, h := extractBodies(child)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
		if text != "" && html != "" {
			break
		}
	}

	return text, html
}

// parseAddress extracts the bare address from a From-style header.
func parseAddress(value string) string {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return value
	}
	return addr.Address
}

// parseAddressList extracts bare addresses from a To/Cc-style header.
func parseAddressList(value string) []string {
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		if value == "" {
			return nil
		}
		return []string{value}
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
