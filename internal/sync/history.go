package sync

import (
	"context"

	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/provider"
)

// changeSet is the accumulated result of draining one paging session.
// It is built by a fold over pages so the accumulation logic is
// independent of the network transport.
type changeSet struct {
	// refs are the surviving message references, keyed by id during
	// accumulation so repeated deliveries union idempotently.
	refs []model.MessageReference

	// watermark is the maximum history id seen across all pages.
	watermark uint64

	// rebaselined is set when the session replaced an invalid cursor
	// with a fresh baseline instead of listing changes.
	rebaselined bool
}

// pageFunc fetches one change-stream page for a page token.
type pageFunc func(ctx context.Context, pageToken string) (*provider.HistoryPage, error)

// foldPages drains a paging session until exhaustion. Any page error
// aborts the fold with no partial result; the caller must not advance
// the cursor in that case.
func foldPages(ctx context.Context, fetch pageFunc) (*changeSet, error) {
	cs := &changeSet{}
	seen := make(map[string]bool)

	pageToken := ""
	for {
		page, err := fetch(ctx, pageToken)
		if err != nil {
			return nil, err
		}

		cs.absorb(page, seen)

		if page.NextPageToken == "" {
			return cs, nil
		}
		pageToken = page.NextPageToken
	}
}

// absorb merges one page into the accumulator, dropping references the
// engine never processes and deduplicating by message id.
func (cs *changeSet) absorb(page *provider.HistoryPage, seen map[string]bool) {
	if page.HistoryID > cs.watermark {
		cs.watermark = page.HistoryID
	}
	for _, ref := range page.Refs {
		if !wantRef(ref) || seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		cs.refs = append(cs.refs, ref)
	}
}

// wantRef reports whether a change-stream reference is worth fetching.
// Self-referential entries (message id equal to thread id) and
// draft/chat entries are dropped before any fetch is spent on them.
func wantRef(ref model.MessageReference) bool {
	if ref.ID == "" || ref.ThreadID == "" || ref.ID == ref.ThreadID {
		return false
	}
	if ref.HasLabel(model.LabelDraft) || ref.HasLabel(model.LabelChat) {
		return false
	}
	return true
}
