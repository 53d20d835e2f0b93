// Package sync runs the per-user incremental pass: drain the change
// stream from the persisted cursor, fetch and classify each message,
// and hand it to the invite or digest-reply pipeline. One broken
// message never aborts a batch; one broken user never aborts a pass.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/invite-sync/internal/auth"
	"github.com/nhle/invite-sync/internal/classify"
	"github.com/nhle/invite-sync/internal/digest"
	"github.com/nhle/invite-sync/internal/extract"
	"github.com/nhle/invite-sync/internal/invite"
	"github.com/nhle/invite-sync/internal/model"
	"github.com/nhle/invite-sync/internal/provider"
	"github.com/nhle/invite-sync/internal/store"
)

// Summary reports what a pass did. A pass always returns a summary
// unless infrastructure itself is down; per-item failures appear as
// counts, not errors.
type Summary struct {
	Users            int
	Messages         int
	InvitesCreated   int
	InvitesMerged    int
	DecisionsApplied int
	Skipped          int
	Failures         int
	ReauthRequired   int
}

func (s *Summary) add(other Summary) {
	s.Messages += other.Messages
	s.InvitesCreated += other.InvitesCreated
	s.InvitesMerged += other.InvitesMerged
	s.DecisionsApplied += other.DecisionsApplied
	s.Skipped += other.Skipped
	s.Failures += other.Failures
}

// TokenManager is the token lifecycle surface the engine needs. It is
// satisfied by auth.Manager.
type TokenManager interface {
	EnsureAccessToken(ctx context.Context, cred *model.Credential) (string, error)
	Refresh(ctx context.Context, cred *model.Credential) error
	FlagReauth(ctx context.Context, cred *model.Credential) error
}

// Engine orchestrates one pass over all eligible credentials.
type Engine struct {
	store     store.Store
	provider  provider.Provider
	auth      TokenManager
	extractor extract.Extractor
	dedup     *invite.Deduplicator
	digestCfg model.DigestConfig
	syncCfg   model.SyncConfig
	log       *zap.Logger
}

// NewEngine creates a pass engine. All collaborators are constructed
// by the caller and injected; the engine holds no hidden state beyond
// one pass.
func NewEngine(
	st store.Store,
	p provider.Provider,
	am TokenManager,
	ex extract.Extractor,
	digestCfg model.DigestConfig,
	syncCfg model.SyncConfig,
	log *zap.Logger,
) *Engine {
	return &Engine{
		store:     st,
		provider:  p,
		auth:      am,
		extractor: ex,
		dedup:     invite.NewDeduplicator(st, log),
		digestCfg: digestCfg,
		syncCfg:   syncCfg,
		log:       log,
	}
}

// Run executes one pass over every eligible credential sequentially.
// It returns an error only when the store itself is unreachable; every
// per-user failure is absorbed into the summary.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	creds, err := e.store.ListEligibleCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing eligible credentials: %w", err)
	}

	summary := &Summary{}
	for i := range creds {
		cred := &creds[i]
		userSum, err := e.runUser(ctx, cred)
		summary.add(userSum)

		if err != nil {
			if auth.IsAuthExpired(err) {
				summary.ReauthRequired++
				e.log.Warn("user pass ended: re-authentication required",
					zap.String("user_id", cred.UserID),
				)
				continue
			}
			summary.Failures++
			e.log.Error("user pass failed",
				zap.String("user_id", cred.UserID),
				zap.Bool("transient", provider.IsTransient(err)),
				zap.Error(err),
			)
			continue
		}
		summary.Users++
	}

	e.log.Info("pass complete",
		zap.Int("users", summary.Users),
		zap.Int("messages", summary.Messages),
		zap.Int("invites_created", summary.InvitesCreated),
		zap.Int("invites_merged", summary.InvitesMerged),
		zap.Int("decisions_applied", summary.DecisionsApplied),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failures", summary.Failures),
		zap.Int("reauth_required", summary.ReauthRequired),
	)
	return summary, nil
}

// userPass carries per-credential pass state, most importantly whether
// the single allowed refresh has been spent.
type userPass struct {
	engine *Engine
	cred   *model.Credential

	// refreshed is set after the single 401-triggered refresh this
	// credential gets per pass.
	refreshed bool
}

// runUser drains the change stream for one credential and processes
// every surviving reference. The cursor is persisted only after the
// whole session drains.
func (e *Engine) runUser(ctx context.Context, cred *model.Credential) (Summary, error) {
	var sum Summary
	pass := &userPass{engine: e, cred: cred}

	changes, err := pass.collect(ctx)
	if err != nil {
		return sum, err
	}

	router := classify.NewRouter(e.digestCfg, cred.EmailAddress)
	for _, ref := range changes.refs {
		if err := pass.processRef(ctx, router, ref, &sum); err != nil {
			return sum, err
		}
	}

	if err := pass.commitCursor(ctx, changes.watermark); err != nil {
		return sum, err
	}
	return sum, nil
}

// call runs one provider operation with a fresh-enough access token.
// On a 401 it refreshes once and retries; a second 401, or a 401 after
// the pass already spent its refresh, flags reauth and ends the pass.
func (p *userPass) call(ctx context.Context, fn func(token string) error) error {
	token, err := p.engine.auth.EnsureAccessToken(ctx, p.cred)
	if err != nil {
		return err
	}

	err = fn(token)
	if err == nil || !provider.IsAuthError(err) {
		return err
	}

	if !p.refreshed {
		p.refreshed = true
		if refreshErr := p.engine.auth.Refresh(ctx, p.cred); refreshErr != nil {
			return refreshErr
		}
		err = fn(p.cred.AccessToken)
		if err == nil || !provider.IsAuthError(err) {
			return err
		}
	}

	if flagErr := p.engine.auth.FlagReauth(ctx, p.cred); flagErr != nil {
		return flagErr
	}
	return &auth.AuthExpiredError{UserID: p.cred.UserID, Reason: err.Error()}
}

// collect drains the change stream for this credential. An empty
// cursor seeds from the most recent messages; an invalid cursor
// re-baselines to the current watermark with an empty ref set.
func (p *userPass) collect(ctx context.Context) (*changeSet, error) {
	cursor := p.cred.HistoryCursor
	if cursor == "" {
		return p.baseline(ctx)
	}

	cs, err := foldPages(ctx, func(ctx context.Context, pageToken string) (*provider.HistoryPage, error) {
		var page *provider.HistoryPage
		callErr := p.call(ctx, func(token string) error {
			var innerErr error
			page, innerErr = p.engine.provider.ListHistory(ctx, token, cursor, pageToken)
			return innerErr
		})
		return page, callErr
	})
	if provider.IsCursorInvalid(err) {
		return p.rebaseline(ctx, cursor)
	}
	if err != nil {
		return nil, err
	}

	if p.engine.syncCfg.Backfill {
		p.backfill(ctx, cs)
	}
	return cs, nil
}

// baseline seeds a credential that has never synced: list the most
// recent messages and adopt the account's current watermark.
func (p *userPass) baseline(ctx context.Context) (*changeSet, error) {
	var page *provider.HistoryPage
	err := p.call(ctx, func(token string) error {
		var innerErr error
		page, innerErr = p.engine.provider.ListRecent(ctx, token, p.engine.syncCfg.PageSize)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	cs := &changeSet{}
	cs.absorb(page, make(map[string]bool))

	p.engine.log.Info("seeded baseline for new credential",
		zap.String("user_id", p.cred.UserID),
		zap.Int("refs", len(cs.refs)),
		zap.Uint64("watermark", cs.watermark),
	)
	return cs, nil
}

// rebaseline replaces an invalid cursor with the account's current
// watermark and returns an empty ref set. Changes between the dead
// cursor and the new baseline are never recovered; the window is
// bounded by the pass interval and accepted.
func (p *userPass) rebaseline(ctx context.Context, oldCursor string) (*changeSet, error) {
	var profile *provider.Profile
	err := p.call(ctx, func(token string) error {
		var innerErr error
		profile, innerErr = p.engine.provider.GetProfile(ctx, token)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	p.engine.log.Warn("history cursor invalid, re-baselining",
		zap.String("user_id", p.cred.UserID),
		zap.String("old_cursor", oldCursor),
		zap.Uint64("new_watermark", profile.HistoryID),
	)
	return &changeSet{watermark: profile.HistoryID, rebaselined: true}, nil
}

// backfill merges a bounded one-day full-text search into the change
// set, keyed by message id so the union is idempotent. Backfill is
// best-effort: a search failure is logged and the change-stream result
// stands.
func (p *userPass) backfill(ctx context.Context, cs *changeSet) {
	now := time.Now().UTC()
	query := fmt.Sprintf("%s after:%s before:%s",
		p.engine.syncCfg.BackfillQuery,
		now.AddDate(0, 0, -1).Format("2006/01/02"),
		now.AddDate(0, 0, 1).Format("2006/01/02"),
	)

	var found []model.MessageReference
	err := p.call(ctx, func(token string) error {
		var innerErr error
		found, innerErr = p.engine.provider.Search(ctx, token, query, p.engine.syncCfg.PageSize)
		return innerErr
	})
	if err != nil {
		p.engine.log.Warn("backfill search failed",
			zap.String("user_id", p.cred.UserID),
			zap.Error(err),
		)
		return
	}

	seen := make(map[string]bool, len(cs.refs))
	for _, ref := range cs.refs {
		seen[ref.ID] = true
	}
	for _, ref := range found {
		if !wantRef(ref) || seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		cs.refs = append(cs.refs, ref)
	}
}

// commitCursor advances the persisted cursor to the pass watermark.
// The cursor never regresses; a zero watermark leaves it untouched.
func (p *userPass) commitCursor(ctx context.Context, watermark uint64) error {
	if watermark == 0 {
		return nil
	}
	if current, err := strconv.ParseUint(p.cred.HistoryCursor, 10, 64); err == nil && current >= watermark {
		return nil
	}

	newCursor := strconv.FormatUint(watermark, 10)
	if err := p.engine.store.UpdateCredential(ctx, p.cred.UserID, model.CredentialPatch{
		HistoryCursor: &newCursor,
	}); err != nil {
		return fmt.Errorf("persisting cursor for %s: %w", p.cred.UserID, err)
	}
	p.cred.HistoryCursor = newCursor
	return nil
}

// processRef fetches, classifies, and processes one reference. All
// failures are converted to a logged skip except an expired
// credential, which ends the user's pass.
func (p *userPass) processRef(
	ctx context.Context,
	router *classify.Router,
	ref model.MessageReference,
	sum *Summary,
) error {
	msg, err := p.fetchMessage(ctx, ref)
	if err != nil {
		if auth.IsAuthExpired(err) {
			return err
		}
		p.skip(ref, "fetching message", err, sum)
		return nil
	}
	if msg == nil {
		p.skip(ref, "message unavailable through all fallbacks", nil, sum)
		return nil
	}

	sum.Messages++

	switch router.Route(msg) {
	case classify.InviteCandidate:
		p.processCandidate(ctx, msg, sum)
	case classify.DigestReply:
		p.processDigestReply(ctx, msg, sum)
	default:
		sum.Skipped++
	}
	return nil
}

// fetchMessage resolves a reference to full content: structured get,
// then the parent thread (matching id, else the most recent
// sent-labeled entry), then the raw form.
func (p *userPass) fetchMessage(ctx context.Context, ref model.MessageReference) (*model.Message, error) {
	var msg *model.Message
	err := p.call(ctx, func(token string) error {
		var innerErr error
		msg, innerErr = p.engine.provider.GetMessage(ctx, token, ref.ID)
		return innerErr
	})
	if err == nil {
		return msg, nil
	}
	if auth.IsAuthExpired(err) || !provider.IsNotFound(err) {
		return nil, err
	}

	var thread []*model.Message
	threadErr := p.call(ctx, func(token string) error {
		var innerErr error
		thread, innerErr = p.engine.provider.GetThread(ctx, token, ref.ThreadID)
		return innerErr
	})
	if threadErr != nil {
		if auth.IsAuthExpired(threadErr) {
			return nil, threadErr
		}
	} else if picked := pickFromThread(thread, ref.ID); picked != nil {
		return picked, nil
	}

	var raw *model.Message
	rawErr := p.call(ctx, func(token string) error {
		var innerErr error
		raw, innerErr = p.engine.provider.GetRawMessage(ctx, token, ref.ID)
		return innerErr
	})
	if rawErr != nil {
		return nil, rawErr
	}

	// The raw form carries no provider metadata; restore it from the
	// reference.
	raw.ID = ref.ID
	raw.ThreadID = ref.ThreadID
	raw.Labels = ref.Labels
	return raw, nil
}

// pickFromThread selects the referenced message from a thread, falling
// back to the most recent sent-labeled entry.
func pickFromThread(thread []*model.Message, id string) *model.Message {
	var latestSent *model.Message
	for _, m := range thread {
		if m.ID == id {
			return m
		}
		if m.HasLabel(model.LabelSent) &&
			(latestSent == nil || m.SentAt.After(latestSent.SentAt)) {
			latestSent = m
		}
	}
	return latestSent
}

// processCandidate extracts an event proposal and hands it to dedup.
func (p *userPass) processCandidate(ctx context.Context, msg *model.Message, sum *Summary) {
	payload, err := p.engine.extractor.ExtractInvite(ctx, classify.ExtractableText(msg))
	if err != nil {
		p.skip(msg.Ref(), "extracting invite", err, sum)
		return
	}

	outcome, err := p.engine.dedup.Process(ctx, p.cred.UserID, msg, payload)
	if err != nil {
		p.skip(msg.Ref(), "processing invite candidate", err, sum)
		return
	}
	switch outcome {
	case invite.Created:
		sum.InvitesCreated++
	case invite.Merged:
		sum.InvitesMerged++
	default:
		sum.Skipped++
	}
}

// processDigestReply resolves lettered references in the user's reply
// against their latest digest snapshot and applies the decisions.
// References the user visibly struck through are discarded.
func (p *userPass) processDigestReply(ctx context.Context, msg *model.Message, sum *Summary) {
	snap, err := p.engine.store.LatestDigest(ctx, p.cred.UserID)
	if err != nil {
		p.skip(msg.Ref(), "loading latest digest", err, sum)
		return
	}
	if snap == nil {
		p.skip(msg.Ref(), "digest reply without a digest snapshot", nil, sum)
		return
	}

	resolver := digest.NewResolver(snap)

	items, err := p.engine.extractor.ExtractDecisions(ctx, classify.ExtractableText(msg), resolver.Letters())
	if err != nil {
		p.skip(msg.Ref(), "extracting decisions", err, sum)
		return
	}

	struck := make(map[string]bool)
	if msg.HTMLBody != "" {
		guard, guardErr := p.engine.extractor.CheckStruckThrough(ctx, msg.HTMLBody)
		if guardErr != nil {
			p.engine.log.Warn("strike-through check failed, keeping all decisions",
				zap.String("user_id", p.cred.UserID),
				zap.String("message_id", msg.ID),
				zap.Error(guardErr),
			)
		} else {
			for _, ref := range guard.StruckThroughReferences {
				struck[resolver.Resolve(ref)] = true
			}
		}
	}

	for _, item := range items {
		inviteID := resolver.Resolve(item.Reference)
		if inviteID == "" {
			continue
		}
		if struck[inviteID] {
			p.engine.log.Info("discarding struck-through decision",
				zap.String("user_id", p.cred.UserID),
				zap.String("reference", item.Reference),
				zap.String("invite_id", inviteID),
			)
			continue
		}

		decision := model.Decision(strings.ToLower(item.Decision))
		if err := invite.ApplyDecision(
			ctx, p.engine.store, p.engine.log,
			p.cred.UserID, inviteID, decision, item.Notes, item.Confidence,
		); err != nil {
			p.skip(msg.Ref(), "applying decision", err, sum)
			continue
		}
		sum.DecisionsApplied++
	}
}

// skip records one isolated per-item failure with correlated ids.
func (p *userPass) skip(ref model.MessageReference, reason string, err error, sum *Summary) {
	fields := []zap.Field{
		zap.String("user_id", p.cred.UserID),
		zap.String("message_id", ref.ID),
		zap.String("thread_id", ref.ThreadID),
		zap.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		if extract.IsSchemaError(err) {
			fields = append(fields, zap.Bool("schema_mismatch", true))
		}
	}
	p.engine.log.Warn("skipping item", fields...)
	sum.Failures++
}
