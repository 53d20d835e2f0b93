package model

import "time"

// Well-known provider label ids.
const (
	LabelDraft = "DRAFT"
	LabelChat  = "CHAT"
	LabelSent  = "SENT"
)

// MessageReference identifies one message in the provider's change
// stream. References are produced per pass and never persisted.
type MessageReference struct {
	ID       string
	ThreadID string
	Labels   []string
}

// HasLabel reports whether the reference carries the given label id.
func (r MessageReference) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Message is the fetched content of a single mail message, already
// flattened out of the provider's MIME structure.
type Message struct {
	ID       string
	ThreadID string
	Labels   []string

	Subject string
	From    string
	To      []string
	Cc      []string

	// Snippet is the provider-generated preview text.
	Snippet string

	// TextBody is the decoded text/plain part, if any.
	TextBody string

	// HTMLBody is the decoded text/html part, if any.
	HTMLBody string

	SentAt time.Time
}

// HasLabel reports whether the message carries the given label id.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Ref returns the message's change-stream reference.
func (m *Message) Ref() MessageReference {
	return MessageReference{ID: m.ID, ThreadID: m.ThreadID, Labels: m.Labels}
}
