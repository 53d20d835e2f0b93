package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		current InviteStatus
		d       Decision
		want    InviteStatus
		ok      bool
	}{
		{InviteStatusPending, DecisionYes, InviteStatusApproved, true},
		{InviteStatusPending, DecisionNo, InviteStatusDeclined, true},
		{InviteStatusPending, DecisionMaybe, InviteStatusPending, true},
		{InviteStatusApproved, DecisionNo, InviteStatusApproved, false},
		{InviteStatusDeclined, DecisionYes, InviteStatusDeclined, false},
		{InviteStatusPending, Decision("shrug"), InviteStatusPending, false},
	}
	for _, tc := range cases {
		got, ok := NextStatus(tc.current, tc.d)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.ok, ok)
	}
}

func TestUnionSharedUsers(t *testing.T) {
	inv := &Invite{OwnerUserID: "alice", SharedUserIDs: []string{"bob"}}

	merged, grew := inv.UnionSharedUsers([]string{"carol", "bob", "alice", ""})
	assert.True(t, grew)
	assert.Equal(t, []string{"bob", "carol"}, merged)

	// Already-present ids and the owner never grow the set.
	same, grew := inv.UnionSharedUsers([]string{"bob", "alice"})
	assert.False(t, grew)
	assert.Equal(t, []string{"bob"}, same)
}

func TestPayloadComplete(t *testing.T) {
	p := InvitePayload{ExternalRef: "r", Title: "t", Summary: "s"}
	assert.True(t, p.Complete())

	p.Summary = ""
	assert.False(t, p.Complete())
}
