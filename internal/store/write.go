package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
)

// Collections a derived message owner is filed under.
const (
	CollectionOutbox = "@outbox"
	CollectionInbox  = "@inbox"
)

// Person is a profile in the source-of-record.
type Person struct {
	ID          string         `yaml:"id" json:"id"`
	DisplayName string         `yaml:"displayName" json:"displayName"`
	Fields      map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	// Skills and Friends replace the stored lists when non-nil.
	Skills  []string `yaml:"skills,omitempty" json:"skills,omitempty"`
	Friends []string `yaml:"friends,omitempty" json:"friends,omitempty"`
	// Updated is epoch milliseconds; zero stores "unknown".
	Updated int64 `yaml:"updated,omitempty" json:"updated,omitempty"`
}

// Activity is a feed entry owned by one user.
type Activity struct {
	ID      string         `yaml:"id" json:"id"`
	UserID  string         `yaml:"userId" json:"userId"`
	GroupID string         `yaml:"groupId,omitempty" json:"groupId,omitempty"`
	AppID   string         `yaml:"appId,omitempty" json:"appId,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	Updated int64          `yaml:"updated,omitempty" json:"updated,omitempty"`
}

// Owner files a message in one user's collection.
type Owner struct {
	UserID     string `yaml:"userId" json:"userId"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`
}

// Message is a message that may be owned by several users.
type Message struct {
	ID         string         `yaml:"id" json:"id"`
	SenderID   string         `yaml:"senderId" json:"senderId"`
	Recipients []string       `yaml:"recipients,omitempty" json:"recipients,omitempty"`
	TimeSent   int64          `yaml:"timeSent,omitempty" json:"timeSent,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	Updated    int64          `yaml:"updated,omitempty" json:"updated,omitempty"`
	// Owners defaults to the sender's outbox plus, once sent, every
	// recipient's inbox.
	Owners []Owner `yaml:"owners,omitempty" json:"owners,omitempty"`
}

// DefaultOwners derives the owners of a message that lists none.
func (m Message) DefaultOwners() []Owner {
	owners := []Owner{{UserID: m.SenderID, Collection: CollectionOutbox}}
	if m.TimeSent == 0 {
		return owners
	}
	for _, r := range m.Recipients {
		if r == m.SenderID {
			continue
		}
		owners = append(owners, Owner{UserID: r, Collection: CollectionInbox})
	}
	return owners
}

// nullMillis stores zero as NULL.
func nullMillis(ms int64) any {
	if ms == 0 {
		return nil
	}
	return ms
}

func marshalFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(b), nil
}

// PutPerson inserts or replaces a person.
func (s *Store) PutPerson(ctx context.Context, p Person) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return s.putPerson(ctx, tx, p) })
}

func (s *Store) putPerson(ctx context.Context, tx *sql.Tx, p Person) error {
	if p.ID == "" {
		return fmt.Errorf("put person: id is required")
	}
	data, err := marshalFields(p.Fields)
	if err != nil {
		return fmt.Errorf("put person %s: %w", p.ID, err)
	}
	err = s.exec(ctx, tx, `
		INSERT INTO people (id, display_name, data, updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			data = excluded.data,
			updated = excluded.updated
	`, p.ID, p.DisplayName, data, nullMillis(p.Updated))
	if err != nil {
		return fmt.Errorf("put person %s: %w", p.ID, err)
	}
	if p.Skills != nil {
		if err := s.setSkills(ctx, tx, p.ID, p.Skills); err != nil {
			return err
		}
	}
	if p.Friends != nil {
		if err := s.exec(ctx, tx, `DELETE FROM friendships WHERE person_id = ?`, p.ID); err != nil {
			return fmt.Errorf("put person %s: clear friends: %w", p.ID, err)
		}
		for _, f := range p.Friends {
			if err := s.addFriend(ctx, tx, p.ID, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeletePerson removes a person with their skills and friendships.
func (s *Store) DeletePerson(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.exec(ctx, tx, `DELETE FROM friendships WHERE friend_id = ?`, id); err != nil {
			return fmt.Errorf("delete person %s: %w", id, err)
		}
		if err := s.exec(ctx, tx, `DELETE FROM people WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete person %s: %w", id, err)
		}
		return nil
	})
}

// AddFriendship links two people in both directions.
func (s *Store) AddFriendship(ctx context.Context, a, b string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.addFriend(ctx, tx, a, b); err != nil {
			return err
		}
		return s.addFriend(ctx, tx, b, a)
	})
}

func (s *Store) addFriend(ctx context.Context, tx *sql.Tx, person, friend string) error {
	err := s.exec(ctx, tx, `
		INSERT INTO friendships (person_id, friend_id) VALUES (?, ?)
		ON CONFLICT (person_id, friend_id) DO NOTHING
	`, person, friend)
	if err != nil {
		return fmt.Errorf("add friend %s -> %s: %w", person, friend, err)
	}
	return nil
}

// SetSkills replaces a person's skills.
func (s *Store) SetSkills(ctx context.Context, id string, skills []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return s.setSkills(ctx, tx, id, skills) })
}

func (s *Store) setSkills(ctx context.Context, tx *sql.Tx, id string, skills []string) error {
	if err := s.exec(ctx, tx, `DELETE FROM skills WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("set skills of %s: %w", id, err)
	}
	for _, skill := range slices.Compact(slices.Sorted(slices.Values(skills))) {
		if err := s.exec(ctx, tx, `INSERT INTO skills (person_id, skill) VALUES (?, ?)`, id, skill); err != nil {
			return fmt.Errorf("set skills of %s: %w", id, err)
		}
	}
	return nil
}

// PutActivity inserts or replaces an activity.
func (s *Store) PutActivity(ctx context.Context, a Activity) error {
	return s.putActivity(ctx, s.db, a)
}

func (s *Store) putActivity(ctx context.Context, e execer, a Activity) error {
	if a.ID == "" || a.UserID == "" {
		return fmt.Errorf("put activity: id and userId are required")
	}
	data, err := marshalFields(a.Fields)
	if err != nil {
		return fmt.Errorf("put activity %s: %w", a.ID, err)
	}
	err = s.exec(ctx, e, `
		INSERT INTO activities (id, user_id, group_id, app_id, data, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			group_id = excluded.group_id,
			app_id = excluded.app_id,
			data = excluded.data,
			updated = excluded.updated
	`, a.ID, a.UserID, a.GroupID, a.AppID, data, nullMillis(a.Updated))
	if err != nil {
		return fmt.Errorf("put activity %s: %w", a.ID, err)
	}
	return nil
}

// DeleteActivity removes an activity.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	if err := s.exec(ctx, s.db, `DELETE FROM activities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete activity %s: %w", id, err)
	}
	return nil
}

// PutMessage inserts or replaces a message with its recipients and owners.
func (s *Store) PutMessage(ctx context.Context, m Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return s.putMessage(ctx, tx, m) })
}

func (s *Store) putMessage(ctx context.Context, tx *sql.Tx, m Message) error {
	if m.ID == "" || m.SenderID == "" {
		return fmt.Errorf("put message: id and senderId are required")
	}
	data, err := marshalFields(m.Fields)
	if err != nil {
		return fmt.Errorf("put message %s: %w", m.ID, err)
	}
	err = s.exec(ctx, tx, `
		INSERT INTO messages (id, sender_id, time_sent, data, updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sender_id = excluded.sender_id,
			time_sent = excluded.time_sent,
			data = excluded.data,
			updated = excluded.updated
	`, m.ID, m.SenderID, nullMillis(m.TimeSent), data, nullMillis(m.Updated))
	if err != nil {
		return fmt.Errorf("put message %s: %w", m.ID, err)
	}

	if err := s.exec(ctx, tx, `DELETE FROM message_recipients WHERE message_id = ?`, m.ID); err != nil {
		return fmt.Errorf("put message %s: %w", m.ID, err)
	}
	for _, r := range m.Recipients {
		err := s.exec(ctx, tx, `
			INSERT INTO message_recipients (message_id, recipient_id) VALUES (?, ?)
			ON CONFLICT (message_id, recipient_id) DO NOTHING
		`, m.ID, r)
		if err != nil {
			return fmt.Errorf("put message %s: recipient %s: %w", m.ID, r, err)
		}
	}

	owners := m.Owners
	if owners == nil {
		owners = m.DefaultOwners()
	}
	if err := s.exec(ctx, tx, `DELETE FROM message_owners WHERE message_id = ?`, m.ID); err != nil {
		return fmt.Errorf("put message %s: %w", m.ID, err)
	}
	for _, o := range owners {
		if err := s.addMessageOwner(ctx, tx, m.ID, o); err != nil {
			return err
		}
	}
	return nil
}

// AddMessageOwner files an existing message in another user's collection.
func (s *Store) AddMessageOwner(ctx context.Context, messageID string, o Owner) error {
	return s.addMessageOwner(ctx, s.db, messageID, o)
}

func (s *Store) addMessageOwner(ctx context.Context, e execer, messageID string, o Owner) error {
	err := s.exec(ctx, e, `
		INSERT INTO message_owners (message_id, user_id, collection_id) VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO UPDATE SET collection_id = excluded.collection_id
	`, messageID, o.UserID, o.Collection)
	if err != nil {
		return fmt.Errorf("add owner %s to message %s: %w", o.UserID, messageID, err)
	}
	return nil
}

// RemoveMessageOwner removes a message from one user's collection and
// deletes the message once nobody owns it. It reports whether the message
// was deleted.
func (s *Store) RemoveMessageOwner(ctx context.Context, messageID, userID string) (bool, error) {
	deleted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.exec(ctx, tx, `DELETE FROM message_owners WHERE message_id = ? AND user_id = ?`, messageID, userID); err != nil {
			return fmt.Errorf("remove owner %s from message %s: %w", userID, messageID, err)
		}
		var remaining int
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM message_owners WHERE message_id = ?`), messageID)
		if err := row.Scan(&remaining); err != nil {
			return fmt.Errorf("count owners of message %s: %w", messageID, err)
		}
		if remaining > 0 {
			return nil
		}
		deleted = true
		if err := s.exec(ctx, tx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
			return fmt.Errorf("delete message %s: %w", messageID, err)
		}
		return nil
	})
	return deleted, err
}
