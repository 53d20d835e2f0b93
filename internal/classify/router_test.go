package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/invite-sync/internal/model"
)

func newTestRouter() *Router {
	return NewRouter(model.DigestConfig{
		SubjectMarker:   "[Invite Digest]",
		RecipientMarker: "digest@",
	}, "me@example.com")
}

func TestRouteIgnoresDraftsAndChats(t *testing.T) {
	r := newTestRouter()

	assert.Equal(t, Ignore, r.Route(&model.Message{
		Labels:   []string{model.LabelDraft},
		From:     "other@example.com",
		TextBody: "come to dinner",
	}))
	assert.Equal(t, Ignore, r.Route(&model.Message{
		Labels: []string{model.LabelChat},
	}))
}

func TestRouteDigestReply(t *testing.T) {
	r := newTestRouter()

	bySubject := &model.Message{
		Subject:  "Re: [invite digest] this week",
		From:     "me@example.com",
		Labels:   []string{model.LabelSent},
		TextBody: "A yes",
	}
	assert.Equal(t, DigestReply, r.Route(bySubject))

	byRecipient := &model.Message{
		Subject:  "Re: plans",
		From:     "Me@Example.com",
		To:       []string{"digest@invitesync.app"},
		Labels:   []string{model.LabelSent},
		TextBody: "B no",
	}
	assert.Equal(t, DigestReply, r.Route(byRecipient))
}

func TestRouteDigestReplyRequiresSelfSentAndLabel(t *testing.T) {
	r := newTestRouter()

	// Marker match from someone else is not a digest reply; it has
	// text and is not self-sent, so it becomes a candidate.
	assert.Equal(t, InviteCandidate, r.Route(&model.Message{
		Subject:  "[Invite Digest] forwarded",
		From:     "other@example.com",
		TextBody: "fwd",
	}))

	// Self-sent marker match without the sent label matches nothing.
	assert.Equal(t, Skip, r.Route(&model.Message{
		Subject:  "[Invite Digest] draft thoughts",
		From:     "me@example.com",
		TextBody: "A yes",
	}))
}

func TestRouteInviteCandidate(t *testing.T) {
	r := newTestRouter()

	assert.Equal(t, InviteCandidate, r.Route(&model.Message{
		From:     "friend@example.com",
		TextBody: "Dinner on Friday?",
	}))

	// Self-sent messages are never candidates.
	assert.Equal(t, Skip, r.Route(&model.Message{
		From:     "me@example.com",
		Labels:   []string{model.LabelSent},
		TextBody: "Dinner on Friday?",
	}))

	// No extractable text at all.
	assert.Equal(t, Skip, r.Route(&model.Message{
		From: "friend@example.com",
	}))
}

func TestExtractableTextPriority(t *testing.T) {
	msg := &model.Message{
		TextBody: "plain body",
		Snippet:  "snippet",
		HTMLBody: "<p>html body</p>",
	}
	assert.Equal(t, "plain body", ExtractableText(msg))

	msg.TextBody = ""
	assert.Equal(t, "snippet", ExtractableText(msg))

	msg.Snippet = "   "
	assert.Equal(t, "html body", ExtractableText(msg))

	msg.HTMLBody = ""
	assert.Empty(t, ExtractableText(msg))
}

func TestStripHTML(t *testing.T) {
	html := `<div>Dinner &amp; drinks<br>at &quot;Luigi&#39;s&quot;</div>`
	got := stripHTML(html)
	assert.Contains(t, got, `Dinner & drinks`)
	assert.Contains(t, got, `"Luigi's"`)
	assert.NotContains(t, got, "<")
}
