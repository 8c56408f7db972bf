package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/searchsync/internal/crawl"
	"github.com/roach88/searchsync/internal/doc"
)

// Source returns the crawl source for an entity kind.
func (s *Store) Source(k doc.Kind) (crawl.Source, error) {
	switch k {
	case doc.KindProfile:
		return s.Profiles(), nil
	case doc.KindActivity:
		return s.Activities(), nil
	case doc.KindMessage:
		return s.Messages(), nil
	}
	return nil, fmt.Errorf("no source for entity kind %q", k)
}

// listOwned scans (id, owner, updated) rows into local snapshots.
func (s *Store) listOwned(ctx context.Context, what, query string) ([]doc.LocalEntity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	out := []doc.LocalEntity{}
	for rows.Next() {
		var (
			id, owner string
			updated   sql.NullInt64
		)
		if err := rows.Scan(&id, &owner, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, doc.LocalEntity{ID: id, Owners: []string{owner}, Updated: millisTime(updated)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

// ProfileSource lists people. Every person owns their own profile.
type ProfileSource struct{ s *Store }

// Profiles returns the profile crawl source.
func (s *Store) Profiles() *ProfileSource { return &ProfileSource{s: s} }

// ListAll returns every person's id and update time. Only the minimal
// columns are read regardless of fields.
func (p *ProfileSource) ListAll(ctx context.Context, fields []string) ([]doc.LocalEntity, error) {
	return p.s.listOwned(ctx, "people", `SELECT id, id, updated FROM people ORDER BY id`)
}

// FetchFull returns profile documents with skills.
func (p *ProfileSource) FetchFull(ctx context.Context, owner string, ids []string) ([]doc.Document, error) {
	if len(ids) == 0 {
		return []doc.Document{}, nil
	}
	rows, err := p.s.db.QueryContext(ctx, p.s.rebind(`
		SELECT id, display_name, data, updated FROM people
		WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id
	`), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("fetch people: %w", err)
	}
	docs := []doc.Document{}
	for rows.Next() {
		var (
			id, name, data string
			updated        sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &data, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan person: %w", err)
		}
		d, err := baseDocument(id, data, updated)
		if err != nil {
			rows.Close()
			return nil, err
		}
		d[FieldDisplayName] = name
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}

	// Skills are read after the rows are closed; SQLite has one connection.
	for _, d := range docs {
		skills, err := p.s.Skills(ctx, d.ID())
		if err != nil {
			return nil, err
		}
		d[FieldSkills] = skills
	}
	return docs, nil
}

// ActivitySource lists activities owned by their author.
type ActivitySource struct{ s *Store }

// Activities returns the activity crawl source.
func (s *Store) Activities() *ActivitySource { return &ActivitySource{s: s} }

// ListAll returns every activity's id, owner and update time.
func (a *ActivitySource) ListAll(ctx context.Context, fields []string) ([]doc.LocalEntity, error) {
	return a.s.listOwned(ctx, "activities", `SELECT id, user_id, updated FROM activities ORDER BY id`)
}

// FetchFull returns owner's activities among ids.
func (a *ActivitySource) FetchFull(ctx context.Context, owner string, ids []string) ([]doc.Document, error) {
	if len(ids) == 0 {
		return []doc.Document{}, nil
	}
	args := append([]any{owner}, stringArgs(ids)...)
	rows, err := a.s.db.QueryContext(ctx, a.s.rebind(`
		SELECT id, user_id, group_id, app_id, data, updated FROM activities
		WHERE user_id = ? AND id IN (`+placeholders(len(ids))+`) ORDER BY id
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch activities of %s: %w", owner, err)
	}
	defer rows.Close()

	docs := []doc.Document{}
	for rows.Next() {
		var (
			id, userID, groupID, appID, data string
			updated                          sql.NullInt64
		)
		if err := rows.Scan(&id, &userID, &groupID, &appID, &data, &updated); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		d, err := baseDocument(id, data, updated)
		if err != nil {
			return nil, err
		}
		d[FieldUserID] = userID
		if groupID != "" {
			d[FieldGroupID] = groupID
		}
		if appID != "" {
			d[FieldAppID] = appID
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return docs, nil
}

// MessageSource lists messages once per owning user.
type MessageSource struct{ s *Store }

// Messages returns the message crawl source.
func (s *Store) Messages() *MessageSource { return &MessageSource{s: s} }

// ListAll returns one snapshot per (message, owner) pair.
func (m *MessageSource) ListAll(ctx context.Context, fields []string) ([]doc.LocalEntity, error) {
	return m.s.listOwned(ctx, "messages", `
		SELECT o.message_id, o.user_id, m.updated
		FROM message_owners o JOIN messages m ON m.id = o.message_id
		ORDER BY o.message_id, o.user_id
	`)
}

// FetchFull returns the messages among ids filed in owner's collections.
func (m *MessageSource) FetchFull(ctx context.Context, owner string, ids []string) ([]doc.Document, error) {
	if len(ids) == 0 {
		return []doc.Document{}, nil
	}
	args := append([]any{owner}, stringArgs(ids)...)
	rows, err := m.s.db.QueryContext(ctx, m.s.rebind(`
		SELECT m.id, m.sender_id, m.time_sent, m.data, m.updated, o.collection_id
		FROM messages m JOIN message_owners o ON o.message_id = m.id AND o.user_id = ?
		WHERE m.id IN (`+placeholders(len(ids))+`) ORDER BY m.id
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch messages of %s: %w", owner, err)
	}
	docs := []doc.Document{}
	for rows.Next() {
		var (
			id, sender, data, collection string
			timeSent, updated            sql.NullInt64
		)
		if err := rows.Scan(&id, &sender, &timeSent, &data, &updated, &collection); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		d, err := baseDocument(id, data, updated)
		if err != nil {
			rows.Close()
			return nil, err
		}
		d[FieldSenderID] = sender
		if timeSent.Valid {
			d[FieldTimeSent] = timeSent.Int64
		}
		if collection != "" {
			d[FieldCollection] = collection
		}
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for _, d := range docs {
		recipients, err := m.s.queryStrings(ctx, `
			SELECT recipient_id FROM message_recipients WHERE message_id = ? ORDER BY recipient_id
		`, d.ID())
		if err != nil {
			return nil, fmt.Errorf("query recipients of %s: %w", d.ID(), err)
		}
		d[FieldRecipients] = recipients
	}
	return docs, nil
}
