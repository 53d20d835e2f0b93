// Package classify routes fetched messages to a processing category
// before any extraction work is spent on them.
package classify

import (
	"regexp"
	"strings"

	"github.com/nhle/invite-sync/internal/model"
)

// Category is the processing route assigned to a message.
type Category int

const (
	// Skip means the message matched no route and is dropped.
	Skip Category = iota

	// Ignore means the message is a draft or chat and is never
	// processed.
	Ignore

	// DigestReply means the message is the user's own reply to an
	// invite digest.
	DigestReply

	// InviteCandidate means the message may carry an event proposal
	// worth extracting.
	InviteCandidate
)

func (c Category) String() string {
	switch c {
	case Ignore:
		return "ignore"
	case DigestReply:
		return "digest-reply"
	case InviteCandidate:
		return "invite-candidate"
	default:
		return "skip"
	}
}

// Router classifies messages for one user.
type Router struct {
	subjectMarker   string
	recipientMarker string
	selfAddress     string
}

// NewRouter creates a router for the given digest markers and the
// user's own address.
func NewRouter(digest model.DigestConfig, selfAddress string) *Router {
	return &Router{
		subjectMarker:   strings.ToLower(digest.SubjectMarker),
		recipientMarker: strings.ToLower(digest.RecipientMarker),
		selfAddress:     strings.ToLower(selfAddress),
	}
}

// Route assigns a processing category to a message.
func (r *Router) Route(msg *model.Message) Category {
	if msg.HasLabel(model.LabelDraft) || msg.HasLabel(model.LabelChat) {
		return Ignore
	}

	if r.isDigestReply(msg) {
		return DigestReply
	}

	if !r.selfSent(msg) && ExtractableText(msg) != "" {
		return InviteCandidate
	}

	return Skip
}

// isDigestReply reports whether the message is the user's own reply to
// a digest: marker match on subject or recipient, self-sent, and
// carrying the sent label.
func (r *Router) isDigestReply(msg *model.Message) bool {
	if !r.selfSent(msg) || !msg.HasLabel(model.LabelSent) {
		return false
	}

	if r.subjectMarker != "" &&
		strings.Contains(strings.ToLower(msg.Subject), r.subjectMarker) {
		return true
	}

	if r.recipientMarker != "" {
		for _, addr := range append(append([]string{}, msg.To...), msg.Cc...) {
			if strings.Contains(strings.ToLower(addr), r.recipientMarker) {
				return true
			}
		}
	}

	return false
}

func (r *Router) selfSent(msg *model.Message) bool {
	return r.selfAddress != "" &&
		strings.EqualFold(strings.TrimSpace(msg.From), r.selfAddress)
}

// ExtractableText returns the best available text rendering of a
// message: plain-text body, then snippet, then stripped HTML. Empty
// when the message has no usable text at all.
func ExtractableText(msg *model.Message) string {
	if body := strings.TrimSpace(msg.TextBody); body != "" {
		return body
	}
	if snippet := strings.TrimSpace(msg.Snippet); snippet != "" {
		return snippet
	}
	return strings.TrimSpace(stripHTML(msg.HTMLBody))
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return replacer.Replace(result)
}
