package index_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/index/memindex"
)

func TestEager_CreateIndexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	require.NoError(t, c.CreateIndex(ctx, "idx"))
	require.NoError(t, c.CreateIndex(ctx, "idx"))

	exists, err := c.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEager_AddCreatesIndexAndOverwrites(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1", "name": "Ada"}))
	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1", "name": "Grace"}))

	got, err := c.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", got["name"])

	ok, err := c.EntryExists(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEager_GetAbsent(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	got, err := c.Get(ctx, "missing", "person", "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.CreateIndex(ctx, "idx"))
	ok, err := c.EntryExists(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEager_UpdateMissingFails(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	err := c.Update(ctx, "idx", "person", "p1", doc.Document{"id": "p1"})
	assert.True(t, index.IsNotFound(err), "missing index: %v", err)

	require.NoError(t, c.CreateIndex(ctx, "idx"))
	err = c.Update(ctx, "idx", "person", "p1", doc.Document{"id": "p1"})
	assert.True(t, index.IsNotFound(err), "missing doc: %v", err)
}

func TestEager_DeleteSemantics(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	// Missing index is a no-op.
	require.NoError(t, c.Delete(ctx, "idx", "person", "p1"))
	require.NoError(t, c.BulkDelete(ctx, "idx", "person", []string{"p1"}))

	require.NoError(t, c.CreateIndex(ctx, "idx"))
	err := c.Delete(ctx, "idx", "person", "p1")
	assert.True(t, index.IsNotFound(err), "got %v", err)

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1"}))
	require.NoError(t, c.Delete(ctx, "idx", "person", "p1"))
	got, err := c.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEager_GetAllMissingIndexIsEmpty(t *testing.T) {
	c := index.NewEager(memindex.New())
	docs, err := c.GetAll(context.Background(), "missing", "person")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestEager_BulkPartialFailure(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	err := c.BulkAdd(ctx, "idx", "person", []doc.Document{
		{"id": "p1"},
		{"id": "p2", "score": math.Inf(1)},
		{"id": "p3"},
	})
	require.Error(t, err)
	assert.True(t, index.IsPartialBatch(err))

	for _, id := range []string{"p1", "p3"} {
		got, err := c.Get(ctx, "idx", "person", id)
		require.NoError(t, err)
		assert.NotNil(t, got, id)
	}
	got, err := c.Get(ctx, "idx", "person", "p2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEager_BulkUpdateMissingIndex(t *testing.T) {
	c := index.NewEager(memindex.New())
	err := c.BulkUpdate(context.Background(), "idx", "person", []doc.Document{{"id": "p1"}})
	assert.True(t, index.IsPartialBatch(err))
}

func TestEager_BulkSkipsDocumentsWithoutID(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	require.NoError(t, c.BulkAdd(ctx, "idx", "person", []doc.Document{{"name": "anon"}, {"id": "p1"}}))
	all, err := c.GetAll(ctx, "idx", "person")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p1", all[0].ID())
}

func TestEager_ClearIndex(t *testing.T) {
	ctx := context.Background()
	c := index.NewEager(memindex.New())

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1"}))
	require.NoError(t, c.ClearIndex(ctx, "idx"))

	exists, err := c.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.True(t, exists)
	all, err := c.GetAll(ctx, "idx", "person")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEager_SetMapping(t *testing.T) {
	ctx := context.Background()
	backend := memindex.New()
	c := index.NewEager(backend)

	require.NoError(t, c.SetMapping(ctx, "idx", "person", doc.Document{"properties": "v1"}))
	exists, err := c.IndexExists(ctx, "idx")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1"}))
	require.NoError(t, c.SetMapping(ctx, "idx", "person", doc.Document{"dynamic": true}))

	m, ok := backend.Mapping("idx", "person")
	require.True(t, ok)
	assert.Equal(t, "v1", m["properties"])
	assert.Equal(t, true, m["dynamic"])

	got, err := c.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
