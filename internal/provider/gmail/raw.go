package gmail

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/invite-sync/internal/model"
)

// parseRawMessage parses an RFC 822 message body into the engine's
// message shape. Malformed parts are skipped rather than failing the
// whole message; only an unreadable envelope is an error.
func parseRawMessage(raw []byte) (*model.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer mr.Close()

	result := &model.Message{}

	header := mr.Header
	if subject, err := header.Subject(); err == nil {
		result.Subject = subject
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		result.From = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil {
		for _, a := range to {
			result.To = append(result.To, a.Address)
		}
	}
	if cc, err := header.AddressList("Cc"); err == nil {
		for _, a := range cc {
			result.Cc = append(result.Cc, a.Address)
		}
	}
	if date, err := header.Date(); err == nil {
		result.SentAt = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Skip unreadable parts; bodies found so far stand.
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && result.TextBody == "":
			result.TextBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && result.HTMLBody == "":
			result.HTMLBody = string(body)
		}
	}

	return result, nil
}
