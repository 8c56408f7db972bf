package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/searchsync/internal/doc"
)

// ErrNotFound is returned for lookups of missing records.
var ErrNotFound = errors.New("not found")

// Document field names produced by the store.
const (
	FieldDisplayName = "displayName"
	FieldSkills      = "skills"
	FieldUserID      = "userId"
	FieldGroupID     = "groupId"
	FieldAppID       = "appId"
	FieldSenderID    = "senderId"
	FieldRecipients  = "recipients"
	FieldTimeSent    = "timeSent"
	FieldCollection  = "messageCollection"
)

func millisTime(ms sql.NullInt64) time.Time {
	if !ms.Valid {
		return time.Time{}
	}
	return time.UnixMilli(ms.Int64)
}

// baseDocument decodes the stored extra fields and sets id and, when known,
// updated.
func baseDocument(id, data string, updated sql.NullInt64) (doc.Document, error) {
	d := doc.Document{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", id, err)
		}
	}
	d[doc.FieldID] = id
	if updated.Valid {
		d[doc.FieldUpdated] = updated.Int64
	} else {
		delete(d, doc.FieldUpdated)
	}
	return d, nil
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Friends returns a person's friends, sorted.
func (s *Store) Friends(ctx context.Context, userID string) ([]string, error) {
	friends, err := s.queryStrings(ctx, `
		SELECT friend_id FROM friendships WHERE person_id = ? ORDER BY friend_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends of %s: %w", userID, err)
	}
	return friends, nil
}

// Skills returns a person's skills, sorted.
func (s *Store) Skills(ctx context.Context, userID string) ([]string, error) {
	skills, err := s.queryStrings(ctx, `
		SELECT skill FROM skills WHERE person_id = ? ORDER BY skill
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query skills of %s: %w", userID, err)
	}
	return skills, nil
}

// Profile returns a person's profile document without skills.
func (s *Store) Profile(ctx context.Context, userID string) (doc.Document, error) {
	var (
		name, data string
		updated    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT display_name, data, updated FROM people WHERE id = ?
	`), userID).Scan(&name, &data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("person %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query person %s: %w", userID, err)
	}
	d, err := baseDocument(userID, data, updated)
	if err != nil {
		return nil, err
	}
	d[FieldDisplayName] = name
	return d, nil
}

// FriendWhitelist enriches documents with the owner's friends plus the
// owner as an access-control whitelist.
type FriendWhitelist struct {
	store *Store
}

// FriendWhitelist returns the whitelist enricher backed by s.
func (s *Store) FriendWhitelist() *FriendWhitelist {
	return &FriendWhitelist{store: s}
}

// Enrich sets the whitelist on every document.
func (w *FriendWhitelist) Enrich(ctx context.Context, owner string, docs []doc.Document) error {
	friends, err := w.store.Friends(ctx, owner)
	if err != nil {
		return err
	}
	acl := doc.UnionUserIDs(friends, []string{owner})
	for _, d := range docs {
		d[doc.FieldWhitelist] = acl
	}
	return nil
}
