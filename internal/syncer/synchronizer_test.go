package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/index/memindex"
)

const testIndex = "shindig"

type fakeDirectory struct {
	friends   map[string][]string
	skills    map[string][]string
	profiles  map[string]doc.Document
	friendErr error
}

func (d *fakeDirectory) Friends(ctx context.Context, userID string) ([]string, error) {
	if d.friendErr != nil {
		return nil, d.friendErr
	}
	return d.friends[userID], nil
}

func (d *fakeDirectory) Skills(ctx context.Context, userID string) ([]string, error) {
	return d.skills[userID], nil
}

func (d *fakeDirectory) Profile(ctx context.Context, userID string) (doc.Document, error) {
	p, ok := d.profiles[userID]
	if !ok {
		return nil, errors.New("no such person")
	}
	return p.Clone(), nil
}

func allEnabled() Config {
	return Config{
		Index: testIndex,
		Types: map[doc.Kind]string{
			doc.KindProfile:  "person",
			doc.KindActivity: "activity",
			doc.KindMessage:  "message",
		},
		Profiles:   true,
		Activities: true,
		Messages:   true,
		Skills:     true,
	}
}

type harness struct {
	conn *index.Eager
	dir  *fakeDirectory
	sync *Synchronizer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	conn := index.NewEager(memindex.New())
	t.Cleanup(func() { conn.Close() })
	dir := &fakeDirectory{
		friends:  map[string][]string{"alice": {"bob", "carol"}},
		skills:   map[string][]string{"alice": {"go", "sql"}},
		profiles: map[string]doc.Document{"alice": {"id": "alice", "displayName": "Alice"}},
	}
	s, err := New(cfg, conn, dir)
	require.NoError(t, err)
	return &harness{conn: conn, dir: dir, sync: s}
}

func (h *harness) apply(t *testing.T, typ Type, payload doc.Document, props map[string]string) {
	t.Helper()
	require.NoError(t, h.sync.Apply(context.Background(), Event{Type: typ, Payload: payload, Properties: props}))
}

func (h *harness) get(t *testing.T, typ, id string) doc.Document {
	t.Helper()
	d, err := h.conn.Get(context.Background(), testIndex, typ, id)
	require.NoError(t, err)
	return d
}

func user(id string) map[string]string {
	return map[string]string{PropUserID: id}
}

func TestMessage_OwnershipLifecycle(t *testing.T) {
	h := newHarness(t, allEnabled())
	msg := doc.Document{"id": "m1", "senderId": "alice", "recipients": []any{"bob"}, "timeSent": 1700000000000, "title": "hi"}

	h.apply(t, MessageCreated, msg, map[string]string{PropUserID: "alice", PropCollectionID: "outbox", PropAppID: "mail"})
	got := h.get(t, "message", "m1")
	assert.Equal(t, []string{"alice", "bob"}, got.Origin())
	assert.Equal(t, "outbox", got["messageCollection"])
	assert.Equal(t, "mail", got["appId"])

	h.apply(t, MessageDeleted, doc.Document{"id": "m1"}, user("alice"))
	got = h.get(t, "message", "m1")
	require.NotNil(t, got)
	assert.Equal(t, []string{"bob"}, got.Origin())
	assert.Equal(t, "hi", got["title"])

	h.apply(t, MessageDeleted, doc.Document{"id": "m1"}, user("bob"))
	assert.Nil(t, h.get(t, "message", "m1"))

	// Deleting an absent message is a no-op.
	h.apply(t, MessageDeleted, doc.Document{"id": "m1"}, user("bob"))
}

func TestMessage_DraftOwnedBySender(t *testing.T) {
	h := newHarness(t, allEnabled())
	h.apply(t, MessageCreated, doc.Document{"id": "d1", "senderId": "alice", "recipients": []any{"bob"}}, user("alice"))
	assert.Equal(t, []string{"alice"}, h.get(t, "message", "d1").Origin())
}

func TestMessage_UpdatePreservesOrigin(t *testing.T) {
	h := newHarness(t, allEnabled())
	h.apply(t, MessageCreated, doc.Document{"id": "m1", "senderId": "alice", "recipients": []any{"bob", "carol"}, "timeSent": 1, "title": "draft"}, user("alice"))

	h.apply(t, MessageUpdated, doc.Document{"id": "m1", "title": "final"}, user("carol"))

	got := h.get(t, "message", "m1")
	assert.Equal(t, "final", got["title"])
	assert.Equal(t, []string{"alice", "bob", "carol"}, got.Origin())
}

func TestMessage_UpdateOfMissingMessageAdds(t *testing.T) {
	h := newHarness(t, allEnabled())
	h.apply(t, MessageUpdated, doc.Document{"id": "m9", "senderId": "bob", "recipients": []any{"alice"}, "timeSent": 5}, user("bob"))

	assert.Equal(t, []string{"alice", "bob"}, h.get(t, "message", "m9").Origin())
}

func TestActivity_UpdateOrAdd(t *testing.T) {
	cfg := allEnabled()
	cfg.FriendACL = true
	h := newHarness(t, cfg)
	props := map[string]string{PropUserID: "alice", PropGroupID: "@self", PropAppID: "app-1"}

	// Missed create: the update adds.
	h.apply(t, ActivityUpdated, doc.Document{"id": "a1", "title": "v1"}, props)
	got := h.get(t, "activity", "a1")
	require.NotNil(t, got)
	assert.Equal(t, []string{"alice"}, got.Origin())
	assert.Equal(t, "@self", got["groupId"])
	assert.Equal(t, "app-1", got["appId"])
	assert.Equal(t, []string{"alice", "bob", "carol"}, got.Whitelist())

	h.apply(t, ActivityUpdated, doc.Document{"id": "a1", "title": "v2"}, props)
	assert.Equal(t, "v2", h.get(t, "activity", "a1")["title"])

	h.apply(t, ActivityDeleted, doc.Document{"id": "a1"}, props)
	assert.Nil(t, h.get(t, "activity", "a1"))
	h.apply(t, ActivityDeleted, doc.Document{"id": "a1"}, props)
}

func TestActivity_WhitelistLookupFailure(t *testing.T) {
	cfg := allEnabled()
	cfg.FriendACL = true
	h := newHarness(t, cfg)
	h.dir.friendErr = errors.New("graph offline")

	h.apply(t, ActivityCreated, doc.Document{"id": "a2"}, user("alice"))
	got := h.get(t, "activity", "a2")
	require.NotNil(t, got)
	assert.Nil(t, got.Whitelist())
}

func TestProfile_CarriesSkills(t *testing.T) {
	h := newHarness(t, allEnabled())
	h.apply(t, ProfileCreated, doc.Document{"id": "alice", "displayName": "Alice"}, nil)
	assert.Equal(t, []any{"go", "sql"}, h.get(t, "person", "alice")["skills"])

	h.dir.skills["alice"] = []string{"go", "sql", "rust"}
	h.apply(t, SkillAdded, doc.Document{"id": "alice"}, nil)
	assert.Equal(t, []any{"go", "sql", "rust"}, h.get(t, "person", "alice")["skills"])

	h.apply(t, ProfileDeleted, doc.Document{"id": "alice"}, nil)
	assert.Nil(t, h.get(t, "person", "alice"))
}

func TestSkillChange_AddsMissingProfile(t *testing.T) {
	h := newHarness(t, allEnabled())
	h.apply(t, SkillRemoved, doc.Document{}, user("alice"))

	got := h.get(t, "person", "alice")
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got["displayName"])
}

func TestApply_DisabledKindsAreDropped(t *testing.T) {
	cfg := allEnabled()
	cfg.Messages = false
	cfg.Skills = false
	h := newHarness(t, cfg)

	h.apply(t, MessageCreated, doc.Document{"id": "m1", "senderId": "alice"}, user("alice"))
	h.apply(t, SkillAdded, doc.Document{"id": "alice"}, nil)

	assert.Nil(t, h.get(t, "message", "m1"))
	assert.Nil(t, h.get(t, "person", "alice"))
	assert.False(t, h.sync.Enabled(MessageDeleted))
	assert.True(t, h.sync.Enabled(ProfileUpdated))
}

func TestApply_RejectsBadEvents(t *testing.T) {
	h := newHarness(t, allEnabled())
	ctx := context.Background()

	err := h.sync.Apply(ctx, Event{Type: "group.created", Payload: doc.Document{"id": "g"}})
	assert.ErrorContains(t, err, "unknown event type")

	err = h.sync.Apply(ctx, Event{Type: ActivityCreated, Payload: doc.Document{"title": "no id"}})
	assert.ErrorContains(t, err, "no id")

	err = h.sync.Apply(ctx, Event{Type: SkillAdded, Payload: doc.Document{"id": "nobody"}})
	assert.ErrorContains(t, err, "load profile")
}

func TestNew_Validation(t *testing.T) {
	conn := index.NewEager(memindex.New())
	_, err := New(allEnabled(), nil, &fakeDirectory{})
	assert.Error(t, err)

	cfg := allEnabled()
	delete(cfg.Types, doc.KindMessage)
	_, err = New(cfg, conn, &fakeDirectory{})
	assert.ErrorContains(t, err, "message")

	_, err = New(allEnabled(), conn, nil)
	assert.ErrorContains(t, err, "directory")

	cfg = allEnabled()
	cfg.Profiles, cfg.Skills = false, false
	_, err = New(cfg, conn, nil)
	assert.NoError(t, err)
}

func TestType_KindAndAction(t *testing.T) {
	assert.Equal(t, doc.KindProfile, SkillAdded.Kind())
	assert.Equal(t, "added", SkillAdded.Action())
	assert.Equal(t, doc.KindMessage, MessageDeleted.Kind())
	assert.Equal(t, "message:m1", Event{Type: MessageDeleted, Payload: doc.Document{"id": "m1"}}.Key())
}

func TestEvent_SkillKeyMatchesProfile(t *testing.T) {
	profile := Event{Type: ProfileUpdated, Payload: doc.Document{"id": "u1"}}
	byPayload := Event{Type: SkillAdded, Payload: doc.Document{"id": "u1"}}
	byProperty := Event{Type: SkillRemoved, Payload: doc.Document{}, Properties: map[string]string{PropUserID: "u1"}}

	assert.Equal(t, "profile:u1", profile.Key())
	assert.Equal(t, profile.Key(), byPayload.Key())
	assert.Equal(t, profile.Key(), byProperty.Key())
	assert.True(t, SkillAdded.IsSkill())
	assert.False(t, ProfileUpdated.IsSkill())
}
