package index_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/index/memindex"
)

func stored(t *testing.T, b *memindex.Backend, typ, id string) doc.Document {
	t.Helper()
	d, err := b.Get(context.Background(), "idx", typ, id)
	if err != nil {
		return nil
	}
	return d
}

func TestBatching_FlushOnMaxActions(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 2})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1"}))
	assert.Equal(t, 1, c.Pending())
	require.NoError(t, c.Add(ctx, "idx", "person", "p2", doc.Document{"id": "p2"}))

	require.Eventually(t, func() bool { return c.Stats().Batches == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
	assert.NotNil(t, stored(t, backend, "person", "p1"))
	assert.NotNil(t, stored(t, backend, "person", "p2"))
}

func TestBatching_FlushOnMaxBytes(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 1000, MaxBytes: 10})
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, c.Add(ctx, "idx", "person", id, doc.Document{"id": id, "bio": "a long enough biography"}))
	}

	require.Eventually(t, func() bool { return c.Stats().Batches == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestBatching_FlushOnInterval(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 1000, FlushInterval: 10 * time.Millisecond})
	defer c.Close()

	require.NoError(t, c.Add(context.Background(), "idx", "person", "p1", doc.Document{"id": "p1"}))
	require.Eventually(t, func() bool {
		return stored(t, backend, "person", "p1") != nil
	}, time.Second, 5*time.Millisecond)
}

func TestBatching_CloseFlushesPending(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 1000})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, c.Add(ctx, "idx", "person", id, doc.Document{"id": id}))
	}
	assert.Nil(t, stored(t, backend, "person", "p0"))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for i := 0; i < 5; i++ {
		assert.NotNil(t, stored(t, backend, "person", fmt.Sprintf("p%d", i)))
	}

	err := c.Add(ctx, "idx", "person", "late", doc.Document{"id": "late"})
	assert.True(t, index.IsClosed(err), "got %v", err)
}

func TestBatching_ReadYourWrites(t *testing.T) {
	c := index.NewBatching(memindex.New(), index.BatchingConfig{MaxActions: 1000})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "idx", "message", "m1", doc.Document{"id": "m1", "origin": []string{"a", "b"}}))

	got, err := c.Get(ctx, "idx", "message", "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, got.Origin())

	all, err := c.GetAll(ctx, "idx", "message")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBatching_PreservesOrderPerDocument(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 2})
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1", "v": 1}))
	for v := 2; v <= 7; v++ {
		require.NoError(t, c.Update(ctx, "idx", "person", "p1", doc.Document{"v": v}))
	}
	require.NoError(t, c.Close())

	assert.Equal(t, float64(7), stored(t, backend, "person", "p1")["v"])
}

func TestBatching_ConcurrentProducers(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 37})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("g%d-%d", g, i)
				assert.NoError(t, c.Add(ctx, "idx", "activity", id, doc.Document{"id": id}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, c.Close())

	all, err := backend.All(ctx, "idx", "activity")
	require.NoError(t, err)
	assert.Len(t, all, 500)
	assert.Equal(t, int64(500), c.Stats().Actions)
	assert.Zero(t, c.Stats().Failed)
}

func TestBatching_PartialFailureDoesNotBlockBatch(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 1000})
	ctx := context.Background()

	require.NoError(t, c.BulkAdd(ctx, "idx", "person", []doc.Document{
		{"id": "p1"},
		{"id": "p2", "score": math.NaN()},
		{"id": "p3"},
	}))
	require.NoError(t, c.Flush(ctx))

	got, err := c.Get(ctx, "idx", "person", "p1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	got, err = c.Get(ctx, "idx", "person", "p3")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, int64(1), c.Stats().Failed)
	require.NoError(t, c.Close())
}

func TestBatching_DeleteOnMissingIndexIsNoop(t *testing.T) {
	c := index.NewBatching(memindex.New(), index.BatchingConfig{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Delete(ctx, "idx", "person", "p1"))
	require.NoError(t, c.BulkDelete(ctx, "idx", "person", []string{"p1", "p2"}))
	assert.Equal(t, 0, c.Pending())
}

func TestBatching_ClearIndexAppliesQueuedWorkFirst(t *testing.T) {
	backend := memindex.New()
	c := index.NewBatching(backend, index.BatchingConfig{MaxActions: 1000})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "idx", "person", "p1", doc.Document{"id": "p1"}))
	require.NoError(t, c.ClearIndex(ctx, "idx"))

	all, err := c.GetAll(ctx, "idx", "person")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, int64(1), c.Stats().Actions)
}
