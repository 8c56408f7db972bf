// Package indextest holds the behavior suite every index.Backend must pass.
package indextest

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

// Factory opens a fresh, empty backend for one subtest.
type Factory func(t *testing.T) index.Backend

// RunBackendSuite runs the backend behavior suite.
func RunBackendSuite(t *testing.T, open Factory) {
	t.Run("CreateIndex", func(t *testing.T) { testCreateIndex(t, open(t)) })
	t.Run("BulkIndexCreatesIndex", func(t *testing.T) { testBulkIndexCreatesIndex(t, open(t)) })
	t.Run("UpdateMerges", func(t *testing.T) { testUpdateMerges(t, open(t)) })
	t.Run("MissingDocuments", func(t *testing.T) { testMissingDocuments(t, open(t)) })
	t.Run("MalformedDocument", func(t *testing.T) { testMalformedDocument(t, open(t)) })
	t.Run("AllIsComplete", func(t *testing.T) { testAllIsComplete(t, open(t)) })
	t.Run("TypesAreIsolated", func(t *testing.T) { testTypesAreIsolated(t, open(t)) })
	t.Run("DeleteIndex", func(t *testing.T) { testDeleteIndex(t, open(t)) })
	t.Run("PutMapping", func(t *testing.T) { testPutMapping(t, open(t)) })
}

func idsOf(docs []doc.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids
}

func testCreateIndex(t *testing.T, b index.Backend) {
	ctx := context.Background()

	exists, err := b.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.CreateIndex(ctx, "idx", nil))
	exists, err = b.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.True(t, exists)

	err = b.CreateIndex(ctx, "idx", nil)
	require.Error(t, err)
	assert.True(t, index.IsAlreadyExists(err), "got %v", err)
}

func testBulkIndexCreatesIndex(t *testing.T, b index.Backend) {
	ctx := context.Background()

	failures, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "person", ID: "p1", Doc: doc.Document{"id": "p1", "name": "Ada", "updated": 100}},
		{Op: index.OpIndex, Type: "person", ID: "p2", Doc: doc.Document{"id": "p2", "name": "Bob"}},
	})
	require.NoError(t, err)
	assert.Empty(t, failures)

	exists, err := b.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := b.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	updated, ok := got.Updated()
	assert.True(t, ok)
	assert.Equal(t, int64(100), updated)

	// Index overwrites.
	_, err = b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "person", ID: "p1", Doc: doc.Document{"id": "p1"}},
	})
	require.NoError(t, err)
	got, err = b.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.NotContains(t, got, "name")
}

func testUpdateMerges(t *testing.T, b index.Backend) {
	ctx := context.Background()

	_, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "message", ID: "m1", Doc: doc.Document{"id": "m1", "title": "hi", "origin": []string{"a", "b"}}},
	})
	require.NoError(t, err)

	failures, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpUpdate, Type: "message", ID: "m1", Doc: doc.Document{"id": "m1", "origin": []string{"b"}}},
	})
	require.NoError(t, err)
	assert.Empty(t, failures)

	got, err := b.Get(ctx, "idx", "message", "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got["title"])
	assert.Equal(t, []string{"b"}, got.Origin())
}

func testMissingDocuments(t *testing.T, b index.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateIndex(ctx, "idx", nil))

	_, err := b.Get(ctx, "idx", "person", "nope")
	assert.True(t, index.IsNotFound(err), "got %v", err)

	failures, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpUpdate, Type: "person", ID: "nope", Doc: doc.Document{"id": "nope"}},
		{Op: index.OpDelete, Type: "person", ID: "nope"},
	})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.True(t, index.IsNotFound(f.Err), "got %v", f.Err)
	}
}

func testMalformedDocument(t *testing.T, b index.Backend) {
	ctx := context.Background()

	failures, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "person", ID: "ok1", Doc: doc.Document{"id": "ok1"}},
		{Op: index.OpIndex, Type: "person", ID: "bad", Doc: doc.Document{"id": "bad", "score": math.NaN()}},
		{Op: index.OpIndex, Type: "person", ID: "ok2", Doc: doc.Document{"id": "ok2"}},
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].Action.ID)
	assert.True(t, index.IsMalformed(failures[0].Err), "got %v", failures[0].Err)

	for _, id := range []string{"ok1", "ok2"} {
		_, err := b.Get(ctx, "idx", "person", id)
		assert.NoError(t, err, id)
	}
}

func testAllIsComplete(t *testing.T, b index.Backend) {
	ctx := context.Background()

	const n = 1200
	actions := make([]index.Action, 0, n)
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("a%04d", i)
		want = append(want, id)
		actions = append(actions, index.Action{Op: index.OpIndex, Type: "activity", ID: id, Doc: doc.Document{"id": id}})
	}
	failures, err := b.Bulk(ctx, "idx", actions)
	require.NoError(t, err)
	require.Empty(t, failures)

	all, err := b.All(ctx, "idx", "activity")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, idsOf(all))
}

func testTypesAreIsolated(t *testing.T, b index.Backend) {
	ctx := context.Background()

	_, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "person", ID: "x", Doc: doc.Document{"id": "x", "kind": "person"}},
		{Op: index.OpIndex, Type: "message", ID: "x", Doc: doc.Document{"id": "x", "kind": "message"}},
	})
	require.NoError(t, err)

	people, err := b.All(ctx, "idx", "person")
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "person", people[0]["kind"])

	activities, err := b.All(ctx, "idx", "activity")
	require.NoError(t, err)
	assert.Empty(t, activities)
}

func testDeleteIndex(t *testing.T, b index.Backend) {
	ctx := context.Background()

	require.NoError(t, b.DeleteIndex(ctx, "missing"))

	_, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "person", ID: "p1", Doc: doc.Document{"id": "p1"}},
	})
	require.NoError(t, err)
	require.NoError(t, b.DeleteIndex(ctx, "idx"))

	exists, err := b.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.CreateIndex(ctx, "idx", nil))
	all, err := b.All(ctx, "idx", "person")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testPutMapping(t *testing.T, b index.Backend) {
	ctx := context.Background()

	mapping := doc.Document{"properties": map[string]any{"name": map[string]any{"type": "text"}}}
	require.NoError(t, b.CreateIndex(ctx, "idx", map[string]doc.Document{"person": mapping}))
	require.NoError(t, b.PutMapping(ctx, "idx", "person", doc.Document{
		"properties": map[string]any{"name": map[string]any{"type": "text"}, "updated": map[string]any{"type": "long"}},
	}))

	// Documents survive a mapping update.
	_, err := b.Bulk(ctx, "idx", []index.Action{
		{Op: index.OpIndex, Type: "person", ID: "p1", Doc: doc.Document{"id": "p1", "name": "Ada", "updated": 5}},
	})
	require.NoError(t, err)
	require.NoError(t, b.PutMapping(ctx, "idx", "person", mapping))
	_, err = b.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
}
