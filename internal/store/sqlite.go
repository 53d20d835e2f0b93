package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/invite-sync/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// === Credentials ===

// GetCredential retrieves the credential row for a single user.
func (s *SQLiteStore) GetCredential(
	ctx context.Context,
	userID string,
) (*model.Credential, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM credentials WHERE user_id = ?", userID,
	)

	cred, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("getting credential %s: %w", userID, err)
	}

	return &cred, nil
}

// ListEligibleCredentials retrieves all credentials not flagged for
// re-authentication, ordered by user id for a stable pass order.
func (s *SQLiteStore) ListEligibleCredentials(
	ctx context.Context,
) ([]model.Credential, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM credentials WHERE needs_reauth = 0 ORDER BY user_id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying eligible credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	return creds, rows.Err()
}

// UpdateCredential applies a partial update, touching only the columns
// the patch names so that independent writers (token refresh, cursor
// commit, reauth flag) never clobber each other.
func (s *SQLiteStore) UpdateCredential(
	ctx context.Context,
	userID string,
	patch model.CredentialPatch,
) error {
	if patch.IsZero() {
		return nil
	}

	var sets []string
	var args []interface{}

	if patch.AccessToken != nil {
		sets = append(sets, "access_token = ?")
		args = append(args, *patch.AccessToken)
	}
	if patch.AccessTokenExpiry != nil {
		sets = append(sets, "access_token_expiry = ?")
		args = append(args, patch.AccessTokenExpiry.UTC())
	}
	if patch.RefreshToken != nil {
		sets = append(sets, "refresh_token = ?")
		args = append(args, *patch.RefreshToken)
	}
	if patch.NeedsReauth != nil {
		sets = append(sets, "needs_reauth = ?")
		args = append(args, boolToInt(*patch.NeedsReauth))
	}
	if patch.HistoryCursor != nil {
		sets = append(sets, "history_cursor = ?")
		args = append(args, *patch.HistoryCursor)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, userID)

	query := "UPDATE credentials SET " + strings.Join(sets, ", ") + " WHERE user_id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating credential %s: %w", userID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating credential %s: %w", userID, err)
	}
	if affected == 0 {
		return fmt.Errorf("updating credential %s: no such user", userID)
	}

	return nil
}

// UpsertCredential inserts or replaces a full credential row.
func (s *SQLiteStore) UpsertCredential(
	ctx context.Context,
	cred model.Credential,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO credentials (
			user_id, email_address, access_token, access_token_expiry,
			refresh_token, needs_reauth, history_cursor, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.UserID, cred.EmailAddress, cred.AccessToken,
		cred.AccessTokenExpiry.UTC(), cred.RefreshToken,
		boolToInt(cred.NeedsReauth), cred.HistoryCursor, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting credential %s: %w", cred.UserID, err)
	}
	return nil
}

// === Invites ===

// GetInviteByID retrieves a single invite by id, or nil when absent.
func (s *SQLiteStore) GetInviteByID(
	ctx context.Context,
	id string,
) (*model.Invite, error) {
	return s.getInvite(ctx, "SELECT * FROM invites WHERE id = ?", id)
}

// GetInviteByThreadID retrieves the canonical invite for a thread, or
// nil when absent.
func (s *SQLiteStore) GetInviteByThreadID(
	ctx context.Context,
	threadID string,
) (*model.Invite, error) {
	return s.getInvite(ctx, "SELECT * FROM invites WHERE thread_id = ?", threadID)
}

// GetInviteByMessageID retrieves the invite created from a specific
// source message, or nil when absent.
func (s *SQLiteStore) GetInviteByMessageID(
	ctx context.Context,
	messageID string,
) (*model.Invite, error) {
	return s.getInvite(ctx, "SELECT * FROM invites WHERE primary_message_id = ?", messageID)
}

func (s *SQLiteStore) getInvite(
	ctx context.Context,
	query string,
	arg string,
) (*model.Invite, error) {
	row := s.db.QueryRowxContext(ctx, query, arg)

	inv, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting invite %q: %w", arg, err)
	}

	return &inv, nil
}

// InsertInvite inserts a new invite row. The unique constraints on
// thread_id and primary_message_id make duplicate creation a hard
// error rather than a silent second row.
func (s *SQLiteStore) InsertInvite(ctx context.Context, inv model.Invite) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	payload, err := json.Marshal(inv.Payload)
	if err != nil {
		return fmt.Errorf("marshaling invite payload: %w", err)
	}
	shared, err := json.Marshal(sliceOrEmpty(inv.SharedUserIDs))
	if err != nil {
		return fmt.Errorf("marshaling shared user ids: %w", err)
	}
	confidence, err := json.Marshal(mapOrEmpty(inv.Confidence))
	if err != nil {
		return fmt.Errorf("marshaling invite confidence: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invites (
			id, owner_user_id, thread_id, primary_message_id, subject,
			payload, shared_user_ids, status, notes, confidence,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OwnerUserID, inv.ThreadID, inv.PrimaryMessageID,
		inv.Subject, string(payload), string(shared), string(inv.Status),
		inv.Notes, string(confidence), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting invite for thread %s: %w", inv.ThreadID, err)
	}

	return nil
}

// UpdateInviteShared replaces the shared user set of an invite.
func (s *SQLiteStore) UpdateInviteShared(
	ctx context.Context,
	id string,
	sharedUserIDs []string,
) error {
	shared, err := json.Marshal(sliceOrEmpty(sharedUserIDs))
	if err != nil {
		return fmt.Errorf("marshaling shared user ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE invites SET shared_user_ids = ?, updated_at = ? WHERE id = ?",
		string(shared), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating invite %s shared set: %w", id, err)
	}
	return nil
}

// UpdateInviteStatus updates the lifecycle fields of an invite.
func (s *SQLiteStore) UpdateInviteStatus(
	ctx context.Context,
	id string,
	status model.InviteStatus,
	notes string,
	confidence map[string]float64,
) error {
	conf, err := json.Marshal(mapOrEmpty(confidence))
	if err != nil {
		return fmt.Errorf("marshaling invite confidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE invites SET status = ?, notes = ?, confidence = ?, updated_at = ? WHERE id = ?",
		string(status), notes, string(conf), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating invite %s status: %w", id, err)
	}
	return nil
}

// === Digest snapshots ===

// LatestDigest retrieves the most recently sent digest for a user, or
// nil when the user has never received one.
func (s *SQLiteStore) LatestDigest(
	ctx context.Context,
	userID string,
) (*model.DigestSnapshot, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM digests WHERE user_id = ? ORDER BY sent_at DESC LIMIT 1",
		userID,
	)

	d, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest digest for %s: %w", userID, err)
	}

	return &d, nil
}

// InsertDigest stores a digest snapshot.
func (s *SQLiteStore) InsertDigest(ctx context.Context, d model.DigestSnapshot) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	items, err := json.Marshal(d.Items)
	if err != nil {
		return fmt.Errorf("marshaling digest items: %w", err)
	}
	mapping, err := json.Marshal(d.LetterMapping)
	if err != nil {
		return fmt.Errorf("marshaling letter mapping: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO digests (id, user_id, sent_at, items, letter_mapping)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.SentAt.UTC(), string(items), string(mapping),
	)
	if err != nil {
		return fmt.Errorf("inserting digest %s: %w", d.ID, err)
	}

	return nil
}

// === Decision sink ===

// UpsertDecision records a decision, overwriting any prior decision
// for the same (user, invite) pair.
func (s *SQLiteStore) UpsertDecision(ctx context.Context, rec model.DecisionRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO decisions (
			user_id, invite_id, decision, notes, confidence, decided_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.InviteID, string(rec.Decision),
		rec.Notes, rec.Confidence, rec.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting decision for invite %s: %w", rec.InviteID, err)
	}
	return nil
}

// GetDecision retrieves the recorded decision for (user, invite), or
// nil when absent.
func (s *SQLiteStore) GetDecision(
	ctx context.Context,
	userID, inviteID string,
) (*model.DecisionRecord, error) {
	var rec model.DecisionRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM decisions WHERE user_id = ? AND invite_id = ?",
		userID, inviteID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting decision for invite %s: %w", inviteID, err)
	}

	return &rec, nil
}

// === Partner links ===

// GetPartnerLink retrieves a user's partner link, or nil when absent.
func (s *SQLiteStore) GetPartnerLink(
	ctx context.Context,
	userID string,
) (*model.PartnerLink, error) {
	var link model.PartnerLink
	err := s.db.GetContext(ctx, &link,
		"SELECT * FROM partner_links WHERE user_id = ?", userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting partner link for %s: %w", userID, err)
	}

	return &link, nil
}

// SetPartnerLink inserts or replaces a partner link.
func (s *SQLiteStore) SetPartnerLink(ctx context.Context, link model.PartnerLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO partner_links (user_id, partner_id, partner_email)
		VALUES (?, ?, ?)`,
		link.UserID, link.PartnerID, link.PartnerEmail,
	)
	if err != nil {
		return fmt.Errorf("setting partner link for %s: %w", link.UserID, err)
	}
	return nil
}

// === Notifications ===

// CreateNotification inserts a new notification record.
func (s *SQLiteStore) CreateNotification(
	ctx context.Context,
	userID, kind, message string,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, message, read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		uuid.New().String(), userID, kind, message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification for %s: %w", userID, err)
	}
	return nil
}

// === Scan helpers ===

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCredential scans a credential row.
func scanCredential(row rowScanner) (model.Credential, error) {
	var (
		cred        model.Credential
		expiry      sql.NullTime
		needsReauth int
	)

	err := row.Scan(
		&cred.UserID, &cred.EmailAddress, &cred.AccessToken, &expiry,
		&cred.RefreshToken, &needsReauth, &cred.HistoryCursor, &cred.UpdatedAt,
	)
	if err != nil {
		return model.Credential{}, err
	}

	if expiry.Valid {
		cred.AccessTokenExpiry = expiry.Time
	}
	cred.NeedsReauth = needsReauth != 0

	return cred, nil
}

// scanInvite scans an invite row.
func scanInvite(row rowScanner) (model.Invite, error) {
	var (
		inv        model.Invite
		status     string
		payload    string
		shared     string
		confidence string
	)

	err := row.Scan(
		&inv.ID, &inv.OwnerUserID, &inv.ThreadID, &inv.PrimaryMessageID,
		&inv.Subject, &payload, &shared, &status, &inv.Notes, &confidence,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return model.Invite{}, err
	}

	inv.Status = model.InviteStatus(status)
	if err := json.Unmarshal([]byte(payload), &inv.Payload); err != nil {
		return model.Invite{}, fmt.Errorf("unmarshaling invite payload: %w", err)
	}
	if err := json.Unmarshal([]byte(shared), &inv.SharedUserIDs); err != nil {
		return model.Invite{}, fmt.Errorf("unmarshaling shared user ids: %w", err)
	}
	if err := json.Unmarshal([]byte(confidence), &inv.Confidence); err != nil {
		return model.Invite{}, fmt.Errorf("unmarshaling invite confidence: %w", err)
	}

	return inv, nil
}

// scanDigest scans a digest snapshot row.
func scanDigest(row rowScanner) (model.DigestSnapshot, error) {
	var (
		d       model.DigestSnapshot
		items   string
		mapping string
	)

	err := row.Scan(&d.ID, &d.UserID, &d.SentAt, &items, &mapping)
	if err != nil {
		return model.DigestSnapshot{}, err
	}

	if err := json.Unmarshal([]byte(items), &d.Items); err != nil {
		return model.DigestSnapshot{}, fmt.Errorf("unmarshaling digest items: %w", err)
	}
	if err := json.Unmarshal([]byte(mapping), &d.LetterMapping); err != nil {
		return model.DigestSnapshot{}, fmt.Errorf("unmarshaling letter mapping: %w", err)
	}

	return d, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sliceOrEmpty normalizes a nil slice to an empty one so JSON columns
// never hold "null".
func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// mapOrEmpty normalizes a nil map to an empty one so JSON columns
// never hold "null".
func mapOrEmpty(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
