package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/crawl"
	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/index/memindex"
)

// createTestStore opens a fresh SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seededStore imports testdata/social.yaml.
func seededStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	f, err := LoadFixture(filepath.Join("testdata", "social.yaml"))
	require.NoError(t, err)
	stats, err := s.Import(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{People: 3, Friendships: 2, Activities: 2, Messages: 2}, stats)
	return s
}

func TestOpen_AppliesPragmasAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
	assert.Equal(t, DialectSQLite, s.Dialect())
	require.NoError(t, s.Close())

	// Reopening is idempotent.
	s, err = Open("sqlite:" + path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn      string
		dialect  Dialect
		conn     string
		wantFail bool
	}{
		{dsn: "data/source.db", dialect: DialectSQLite, conn: "data/source.db"},
		{dsn: "sqlite:data/source.db", dialect: DialectSQLite, conn: "data/source.db"},
		{dsn: "sqlite:///tmp/source.db", dialect: DialectSQLite, conn: "/tmp/source.db"},
		{dsn: "file:source.db?cache=shared", dialect: DialectSQLite, conn: "file:source.db?cache=shared"},
		{dsn: "postgres://u:p@localhost/social", dialect: DialectPostgres, conn: "postgres://u:p@localhost/social"},
		{dsn: " postgresql://localhost/social ", dialect: DialectPostgres, conn: "postgresql://localhost/social"},
		{dsn: "  ", wantFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			dialect, conn, err := ParseDSN(tt.dsn)
			if tt.wantFail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, dialect)
			assert.Equal(t, tt.conn, conn)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y IN ("+placeholders(2)+")"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
	assert.Equal(t, "", placeholders(0))
}

func TestDirectory(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	friends, err := s.Friends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, friends)

	friends, err = s.Friends(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, friends)

	skills, err := s.Skills(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "sql"}, skills)

	p, err := s.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p[FieldDisplayName])
	assert.Equal(t, "Berlin", p["location"])
	assert.Equal(t, int64(1700000000000), p[doc.FieldUpdated])

	_, err = s.Profile(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileSource(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	locals, err := s.Profiles().ListAll(ctx, crawl.MinimalFields)
	require.NoError(t, err)
	require.Len(t, locals, 3)
	assert.Equal(t, doc.LocalEntity{ID: "alice", Owners: []string{"alice"}, Updated: time.UnixMilli(1700000000000)}, locals[0])
	assert.True(t, locals[2].Updated.IsZero(), "carol has no update time")

	docs, err := s.Profiles().FetchFull(ctx, "alice", []string{"alice", "carol"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, []string{"go", "sql"}, docs[0][FieldSkills])
	assert.Equal(t, []string{}, docs[1][FieldSkills])
	_, hasUpdated := docs[1].Updated()
	assert.False(t, hasUpdated)
}

func TestActivitySource(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	locals, err := s.Activities().ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []doc.LocalEntity{
		{ID: "a1", Owners: []string{"alice"}, Updated: time.UnixMilli(1700000001000)},
		{ID: "a2", Owners: []string{"bob"}},
	}, locals)

	docs, err := s.Activities().FetchFull(ctx, "alice", []string{"a1", "a2"})
	require.NoError(t, err)
	require.Len(t, docs, 1, "only alice's activities")
	assert.Equal(t, doc.Document{
		"id":      "a1",
		"updated": int64(1700000001000),
		"userId":  "alice",
		"groupId": "@self",
		"appId":   "feed",
		"title":   "shipped the release",
	}, docs[0])
}

func TestMessageSource(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	locals, err := s.Messages().ListAll(ctx, nil)
	require.NoError(t, err)
	var pairs []string
	for _, e := range locals {
		pairs = append(pairs, e.ID+"/"+strings.Join(e.Owners, ","))
	}
	assert.Equal(t, []string{"m1/alice", "m1/bob", "m1/carol", "m2/bob"}, pairs)

	docs, err := s.Messages().FetchFull(ctx, "bob", []string{"m1", "m2"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "@inbox", docs[0][FieldCollection])
	assert.Equal(t, []string{"bob", "carol"}, docs[0][FieldRecipients])
	assert.Equal(t, "alice", docs[0][FieldSenderID])
	assert.Equal(t, "lunch?", docs[0]["title"])
	assert.Equal(t, "@outbox", docs[1][FieldCollection])
	_, sent := docs[1][FieldTimeSent]
	assert.False(t, sent)
}

func TestRemoveMessageOwner(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	deleted, err := s.RemoveMessageOwner(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.RemoveMessageOwner(ctx, "m2", "bob")
	require.NoError(t, err)
	assert.True(t, deleted)

	locals, err := s.Messages().ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, locals, 2)
}

func TestWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutPerson(ctx, Person{ID: "dave", DisplayName: "Dave", Skills: []string{"b", "a", "a"}}))
	require.NoError(t, s.PutPerson(ctx, Person{ID: "erin", DisplayName: "Erin"}))
	require.NoError(t, s.AddFriendship(ctx, "dave", "erin"))
	require.NoError(t, s.AddFriendship(ctx, "erin", "dave"))

	skills, err := s.Skills(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, skills)

	// Updating the profile without skills keeps them.
	require.NoError(t, s.PutPerson(ctx, Person{ID: "dave", DisplayName: "David", Updated: 5}))
	skills, err = s.Skills(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, skills)

	require.NoError(t, s.DeletePerson(ctx, "dave"))
	friends, err := s.Friends(ctx, "erin")
	require.NoError(t, err)
	assert.Empty(t, friends)

	require.NoError(t, s.PutActivity(ctx, Activity{ID: "x", UserID: "erin"}))
	require.NoError(t, s.DeleteActivity(ctx, "x"))
	assert.Error(t, s.PutActivity(ctx, Activity{ID: "y"}))

	require.NoError(t, s.PutMessage(ctx, Message{ID: "m", SenderID: "erin", Owners: []Owner{{UserID: "erin", Collection: "drafts"}}}))
	require.NoError(t, s.AddMessageOwner(ctx, "m", Owner{UserID: "frank"}))
	locals, err := s.Messages().ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, locals, 2)
	assert.Error(t, s.PutMessage(ctx, Message{ID: "n"}))
}

func TestDecodeFixture_RejectsUnknownKeys(t *testing.T) {
	_, err := DecodeFixture(strings.NewReader("people:\n  - id: a\n    nickname: x\n"))
	assert.ErrorContains(t, err, "nickname")

	f, err := DecodeFixture(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.People)
}

func TestFriendWhitelist(t *testing.T) {
	s := seededStore(t)
	docs := []doc.Document{{"id": "a1"}, {"id": "a3"}}
	require.NoError(t, s.FriendWhitelist().Enrich(context.Background(), "alice", docs))
	for _, d := range docs {
		assert.Equal(t, []string{"alice", "bob", "carol"}, d.Whitelist())
	}
}

// The store is a complete crawl source: a message pass indexes every
// message once with the union of its owners.
func TestCrawlFromStore(t *testing.T) {
	s := seededStore(t)
	conn := index.NewEager(memindex.New())
	defer conn.Close()

	c, err := crawl.New(crawl.Target{Kind: doc.KindMessage, Index: "shindig", Type: "message", Origin: crawl.OriginAllOwners}, s.Messages(), conn)
	require.NoError(t, err)
	rep := c.Crawl(context.Background())
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, rep.Added)

	m1, err := conn.Get(context.Background(), "shindig", "message", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, m1.Origin())

	// Activities with the friend whitelist.
	c, err = crawl.New(crawl.Target{Kind: doc.KindActivity, Index: "shindig", Type: "activity", Origin: crawl.OriginOwner}, s.Activities(), conn,
		crawl.WithEnricher(s.FriendWhitelist()))
	require.NoError(t, err)
	require.NoError(t, c.Crawl(context.Background()).Err())
	a1, err := conn.Get(context.Background(), "shindig", "activity", "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, a1.Whitelist())
}

// Owner IDs stored in a non-canonical form still fetch: the crawl asks the
// store for the owner exactly as listed and only normalizes the origin.
func TestCrawlFromStore_NonCanonicalOwners(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	const (
		decomposed = "jose\u0301"
		composed   = "jos\u00e9"
	)
	require.NoError(t, s.PutActivity(ctx, Activity{ID: "a1", UserID: decomposed, Updated: 10}))
	require.NoError(t, s.PutActivity(ctx, Activity{ID: "a2", UserID: "bob ", Updated: 20}))
	require.NoError(t, s.PutMessage(ctx, Message{
		ID: "m1", SenderID: "bob ", Updated: 30,
		Owners: []Owner{{UserID: "bob ", Collection: CollectionOutbox}, {UserID: decomposed}, {UserID: composed}},
	}))

	conn := index.NewEager(memindex.New())
	defer conn.Close()

	activities, err := crawl.New(crawl.Target{Kind: doc.KindActivity, Index: "shindig", Type: "activity", Origin: crawl.OriginOwner}, s.Activities(), conn)
	require.NoError(t, err)
	rep := activities.Crawl(ctx)
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, rep.Added)
	assert.Zero(t, rep.Missing)

	rep = activities.Crawl(ctx)
	require.NoError(t, rep.Err())
	assert.Zero(t, rep.Added+rep.Updated+rep.Deleted)

	a1, err := conn.Get(ctx, "shindig", "activity", "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{composed}, a1.Origin())
	a2, err := conn.Get(ctx, "shindig", "activity", "a2")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, a2.Origin())

	messages, err := crawl.New(crawl.Target{Kind: doc.KindMessage, Index: "shindig", Type: "message", Origin: crawl.OriginAllOwners}, s.Messages(), conn)
	require.NoError(t, err)
	rep = messages.Crawl(ctx)
	require.NoError(t, rep.Err())
	assert.Equal(t, 1, rep.Added)
	m1, err := conn.Get(ctx, "shindig", "message", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", composed}, m1.Origin())
}

func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("SEARCHSYNC_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SEARCHSYNC_POSTGRES_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, DialectPostgres, s.Dialect())

	ctx := context.Background()
	id := "it-" + time.Now().Format("150405.000000")
	require.NoError(t, s.PutPerson(ctx, Person{ID: id, DisplayName: "IT", Skills: []string{"pg"}}))
	t.Cleanup(func() { _ = s.DeletePerson(ctx, id) })

	skills, err := s.Skills(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"pg"}, skills)
}
