package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/provider"
)

func TestFoldPagesDrainsSession(t *testing.T) {
	pages := map[string]*provider.HistoryPage{
		"": {
			Refs: []model.MessageReference{
				{ID: "m1", ThreadID: "t1"},
				{ID: "m2", ThreadID: "t2"},
			},
			NextPageToken: "p2",
			HistoryID:     150,
		},
		"p2": {
			Refs: []model.MessageReference{
				{ID: "m2", ThreadID: "t2"},
				{ID: "m3", ThreadID: "t3"},
			},
			HistoryID: 140,
		},
	}

	cs, err := foldPages(context.Background(), func(ctx context.Context, token string) (*provider.HistoryPage, error) {
		page, ok := pages[token]
		require.True(t, ok, "unexpected page token %q", token)
		return page, nil
	})
	require.NoError(t, err)

	var ids []string
	for _, ref := range cs.refs {
		ids = append(ids, ref.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids, "repeated deliveries union by id")
	assert.Equal(t, uint64(150), cs.watermark, "watermark is the maximum across pages")
}

func TestFoldPagesAbortsOnError(t *testing.T) {
	boom := errors.New("history fetch failed")
	calls := 0

	cs, err := foldPages(context.Background(), func(ctx context.Context, token string) (*provider.HistoryPage, error) {
		calls++
		if calls == 1 {
			return &provider.HistoryPage{
				Refs:          []model.MessageReference{{ID: "m1", ThreadID: "t1"}},
				NextPageToken: "p2",
				HistoryID:     100,
			}, nil
		}
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, cs, "no partial result on a failed session")
}

func TestWantRef(t *testing.T) {
	assert.True(t, wantRef(model.MessageReference{ID: "m1", ThreadID: "t1"}))

	// Self-referential entries are dropped.
	assert.False(t, wantRef(model.MessageReference{ID: "t1", ThreadID: "t1"}))

	assert.False(t, wantRef(model.MessageReference{
		ID: "m1", ThreadID: "t1", Labels: []string{model.LabelDraft},
	}))
	assert.False(t, wantRef(model.MessageReference{
		ID: "m1", ThreadID: "t1", Labels: []string{model.LabelChat},
	}))
	assert.True(t, wantRef(model.MessageReference{
		ID: "m1", ThreadID: "t1", Labels: []string{model.LabelSent},
	}))
}
