package invite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/invite-sync/internal/invite"
	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/tests/testutil"
)

func completePayload() *model.InvitePayload {
	conf := 0.85
	return &model.InvitePayload{
		ExternalRef:     "booking-42",
		Title:           "Dinner at Luigi's",
		Summary:         "Dinner with the neighbors on Friday",
		ProposedTimes:   []string{"2026-09-04T19:00:00Z"},
		FollowUpActions: []string{"confirm headcount"},
		Confidence:      &conf,
	}
}

func candidateMessage(id, threadID, from string) *model.Message {
	return &model.Message{
		ID:       id,
		ThreadID: threadID,
		From:     from,
		To:       []string{"alice@example.com"},
		Subject:  "Dinner?",
		TextBody: "Want to come to dinner on Friday?",
	}
}

func TestProcessCreatesInvite(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := invite.NewDeduplicator(s, zap.NewNop())
	ctx := context.Background()

	outcome, err := d.Process(ctx, "alice", candidateMessage("m1", "t1", "friend@example.com"), completePayload())
	require.NoError(t, err)
	assert.Equal(t, invite.Created, outcome)

	inv, err := s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "alice", inv.OwnerUserID)
	assert.Equal(t, "m1", inv.PrimaryMessageID)
	assert.Equal(t, model.InviteStatusPending, inv.Status)
	assert.Empty(t, inv.SharedUserIDs)
	assert.InDelta(t, 0.85, inv.Confidence["extraction"], 1e-9)
}

func TestProcessSkipsIncompleteExtraction(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := invite.NewDeduplicator(s, zap.NewNop())
	ctx := context.Background()

	payload := completePayload()
	payload.Title = ""

	outcome, err := d.Process(ctx, "alice", candidateMessage("m1", "t1", "friend@example.com"), payload)
	require.NoError(t, err)
	assert.Equal(t, invite.Skipped, outcome)

	inv, err := s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, inv)
}

func TestProcessIdempotentOnMessageReplay(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := invite.NewDeduplicator(s, zap.NewNop())
	ctx := context.Background()
	msg := candidateMessage("m1", "t1", "friend@example.com")

	outcome, err := d.Process(ctx, "alice", msg, completePayload())
	require.NoError(t, err)
	assert.Equal(t, invite.Created, outcome)

	outcome, err = d.Process(ctx, "alice", msg, completePayload())
	require.NoError(t, err)
	assert.Equal(t, invite.Skipped, outcome)

	inv, err := s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Empty(t, inv.SharedUserIDs)
}

func TestProcessMergesSharedThread(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := invite.NewDeduplicator(s, zap.NewNop())
	ctx := context.Background()

	outcome, err := d.Process(ctx, "alice", candidateMessage("m1", "t1", "friend@example.com"), completePayload())
	require.NoError(t, err)
	require.Equal(t, invite.Created, outcome)

	// The partner's copy of a message on the same thread merges.
	outcome, err = d.Process(ctx, "bob", candidateMessage("m2", "t1", "friend@example.com"), completePayload())
	require.NoError(t, err)
	assert.Equal(t, invite.Merged, outcome)

	inv, err := s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "alice", inv.OwnerUserID)
	assert.Equal(t, []string{"bob"}, inv.SharedUserIDs)

	// Replaying the merge message grows nothing.
	outcome, err = d.Process(ctx, "bob", candidateMessage("m3", "t1", "friend@example.com"), completePayload())
	require.NoError(t, err)
	assert.Equal(t, invite.Skipped, outcome)

	inv, err = s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, inv.SharedUserIDs)
}

func TestProcessMergeOrderIndependent(t *testing.T) {
	ctx := context.Background()

	run := func(users [2]string) []string {
		s := testutil.NewTestStore(t)
		d := invite.NewDeduplicator(s, zap.NewNop())

		_, err := d.Process(ctx, users[0], candidateMessage("m1", "t1", "friend@example.com"), completePayload())
		require.NoError(t, err)
		_, err = d.Process(ctx, users[1], candidateMessage("m2", "t1", "friend@example.com"), completePayload())
		require.NoError(t, err)

		inv, err := s.GetInviteByThreadID(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, inv)
		return append([]string{inv.OwnerUserID}, inv.SharedUserIDs...)
	}

	assert.Equal(t, []string{"alice", "bob"}, run([2]string{"alice", "bob"}))
	assert.Equal(t, []string{"bob", "alice"}, run([2]string{"bob", "alice"}))
}

func TestProcessSeedsPartnerFromRecipients(t *testing.T) {
	s := testutil.NewTestStore(t)
	d := invite.NewDeduplicator(s, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.SetPartnerLink(ctx, model.PartnerLink{
		UserID:       "alice",
		PartnerID:    "bob",
		PartnerEmail: "bob@example.com",
	}))

	msg := candidateMessage("m1", "t1", "friend@example.com")
	msg.Cc = []string{"Bob@Example.com"}

	outcome, err := d.Process(ctx, "alice", msg, completePayload())
	require.NoError(t, err)
	require.Equal(t, invite.Created, outcome)

	inv, err := s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, []string{"bob"}, inv.SharedUserIDs)
}

func TestApplyDecisionTransitions(t *testing.T) {
	s := testutil.NewTestStore(t)
	log := zap.NewNop()
	ctx := context.Background()

	d := invite.NewDeduplicator(s, log)
	_, err := d.Process(ctx, "alice", candidateMessage("m1", "t1", "friend@example.com"), completePayload())
	require.NoError(t, err)
	inv, err := s.GetInviteByThreadID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, inv)

	conf := 0.9
	require.NoError(t, invite.ApplyDecision(ctx, s, log, "alice", inv.ID, model.DecisionMaybe, "thinking", &conf))

	got, err := s.GetInviteByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteStatusPending, got.Status)
	assert.Equal(t, "thinking", got.Notes)

	rec, err := s.GetDecision(ctx, "alice", inv.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.DecisionMaybe, rec.Decision)

	require.NoError(t, invite.ApplyDecision(ctx, s, log, "alice", inv.ID, model.DecisionYes, "in", &conf))
	got, err = s.GetInviteByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteStatusApproved, got.Status)

	// Approved is terminal: a later "no" records the decision but the
	// status stands.
	require.NoError(t, invite.ApplyDecision(ctx, s, log, "alice", inv.ID, model.DecisionNo, "changed", nil))
	got, err = s.GetInviteByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteStatusApproved, got.Status)

	rec, err = s.GetDecision(ctx, "alice", inv.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.DecisionNo, rec.Decision)
}

func TestApplyDecisionUnknownInvite(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	err := invite.ApplyDecision(ctx, s, zap.NewNop(), "alice", "no-such-invite", model.DecisionYes, "", nil)
	assert.NoError(t, err)

	rec, err := s.GetDecision(ctx, "alice", "no-such-invite")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
