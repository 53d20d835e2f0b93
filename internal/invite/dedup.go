// Package invite turns extraction results into canonical invite rows:
// dedup by message and thread, monotonic shared-user merges, and the
// decision state machine.
package invite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/store"
)

// Outcome describes what Process did with one candidate.
type Outcome int

const (
	// Skipped means the extraction was incomplete or the message was
	// already processed.
	Skipped Outcome = iota

	// Merged means an existing thread invite absorbed this message.
	Merged

	// Created means a new invite row was inserted.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Merged:
		return "merged"
	case Created:
		return "created"
	default:
		return "skipped"
	}
}

// Deduplicator maintains the at-most-one-invite-per-thread invariant.
type Deduplicator struct {
	store store.Store
	log   *zap.Logger
}

// NewDeduplicator creates a deduplicator over the given store.
func NewDeduplicator(st store.Store, log *zap.Logger) *Deduplicator {
	return &Deduplicator{store: st, log: log}
}

// Process applies one extracted candidate for userID. Replaying the
// same message is a no-op; a second message on a known thread merges
// into the existing invite instead of creating a second row.
func (d *Deduplicator) Process(
	ctx context.Context,
	userID string,
	msg *model.Message,
	payload *model.InvitePayload,
) (Outcome, error) {
	if payload == nil || !payload.Complete() {
		d.log.Debug("skipping incomplete extraction",
			zap.String("user_id", userID),
			zap.String("message_id", msg.ID),
		)
		return Skipped, nil
	}

	existing, err := d.store.GetInviteByMessageID(ctx, msg.ID)
	if err != nil {
		return Skipped, fmt.Errorf("looking up invite by message %s: %w", msg.ID, err)
	}
	if existing != nil {
		return Skipped, nil
	}

	byThread, err := d.store.GetInviteByThreadID(ctx, msg.ThreadID)
	if err != nil {
		return Skipped, fmt.Errorf("looking up invite by thread %s: %w", msg.ThreadID, err)
	}
	if byThread != nil {
		return d.merge(ctx, userID, msg, byThread)
	}

	return d.create(ctx, userID, msg, payload)
}

// merge unions the acting user and any detected shared recipients into
// the existing invite's shared set. The union is additive only and the
// row is written only when the set actually grew.
func (d *Deduplicator) merge(
	ctx context.Context,
	userID string,
	msg *model.Message,
	inv *model.Invite,
) (Outcome, error) {
	candidates := append([]string{userID}, d.knownRecipients(ctx, inv.OwnerUserID, msg)...)

	merged, grew := inv.UnionSharedUsers(candidates)
	if !grew {
		return Skipped, nil
	}

	if err := d.store.UpdateInviteShared(ctx, inv.ID, merged); err != nil {
		return Skipped, fmt.Errorf("merging shared users into invite %s: %w", inv.ID, err)
	}

	d.log.Info("merged shared users into existing invite",
		zap.String("invite_id", inv.ID),
		zap.String("thread_id", inv.ThreadID),
		zap.Strings("shared_user_ids", merged),
	)
	return Merged, nil
}

// create inserts a new pending invite owned by userID. The initial
// shared set is the message's recipients intersected with the owner's
// known partner link, excluding the owner.
func (d *Deduplicator) create(
	ctx context.Context,
	userID string,
	msg *model.Message,
	payload *model.InvitePayload,
) (Outcome, error) {
	inv := model.Invite{
		ID:               uuid.NewString(),
		OwnerUserID:      userID,
		ThreadID:         msg.ThreadID,
		PrimaryMessageID: msg.ID,
		Subject:          msg.Subject,
		Payload:          *payload,
		Status:           model.InviteStatusPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	if payload.Confidence != nil {
		inv.Confidence = map[string]float64{"extraction": *payload.Confidence}
	}

	shared, _ := inv.UnionSharedUsers(d.knownRecipients(ctx, userID, msg))
	inv.SharedUserIDs = shared

	if err := d.store.InsertInvite(ctx, inv); err != nil {
		return Skipped, fmt.Errorf("inserting invite for thread %s: %w", msg.ThreadID, err)
	}

	d.log.Info("created invite",
		zap.String("invite_id", inv.ID),
		zap.String("user_id", userID),
		zap.String("thread_id", msg.ThreadID),
		zap.String("title", payload.Title),
	)
	return Created, nil
}

// knownRecipients maps the message's recipient addresses to user ids
// via the owner's partner link. Only linked partners become shared
// users; arbitrary recipients never do.
func (d *Deduplicator) knownRecipients(ctx context.Context, ownerID string, msg *model.Message) []string {
	link, err := d.store.GetPartnerLink(ctx, ownerID)
	if err != nil || link == nil {
		return nil
	}

	addrs := append(append(append([]string{}, msg.To...), msg.Cc...), msg.From)
	for _, addr := range addrs {
		if strings.EqualFold(strings.TrimSpace(addr), link.PartnerEmail) {
			return []string{link.PartnerID}
		}
	}
	return nil
}

// ApplyDecision moves an invite through the status state machine and
// records the decision in the sink. A decision referencing an unknown
// invite id is a normal no-op; a transition rejected by the state
// machine records the decision but leaves status untouched.
func ApplyDecision(
	ctx context.Context,
	st store.Store,
	log *zap.Logger,
	userID, inviteID string,
	decision model.Decision,
	notes string,
	confidence *float64,
) error {
	inv, err := st.GetInviteByID(ctx, inviteID)
	if err != nil {
		return fmt.Errorf("looking up invite %s: %w", inviteID, err)
	}
	if inv == nil {
		log.Debug("decision references unknown invite, ignoring",
			zap.String("user_id", userID),
			zap.String("invite_id", inviteID),
		)
		return nil
	}

	rec := model.DecisionRecord{
		UserID:    userID,
		InviteID:  inviteID,
		Decision:  decision,
		Notes:     notes,
		DecidedAt: time.Now().UTC(),
	}
	if confidence != nil {
		rec.Confidence = *confidence
	}
	if err := st.UpsertDecision(ctx, rec); err != nil {
		return fmt.Errorf("recording decision for invite %s: %w", inviteID, err)
	}

	next, ok := model.NextStatus(inv.Status, decision)
	if !ok {
		log.Debug("decision does not transition invite status",
			zap.String("invite_id", inviteID),
			zap.String("status", string(inv.Status)),
			zap.String("decision", string(decision)),
		)
		return nil
	}

	conf := inv.Confidence
	if confidence != nil {
		if conf == nil {
			conf = make(map[string]float64, 1)
		}
		conf["decision"] = *confidence
	}

	if err := st.UpdateInviteStatus(ctx, inviteID, next, notes, conf); err != nil {
		return fmt.Errorf("updating status of invite %s: %w", inviteID, err)
	}

	log.Info("applied decision",
		zap.String("invite_id", inviteID),
		zap.String("decision", string(decision)),
		zap.String("status", string(next)),
	)
	return nil
}
