package elastic

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	es "github.com/olivere/elastic/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/index/indextest"
)

// The suite needs a live cluster. Set SEARCHSYNC_ELASTIC_URL to run it.
func elasticURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("SEARCHSYNC_ELASTIC_URL")
	if url == "" {
		t.Skip("SEARCHSYNC_ELASTIC_URL not set")
	}
	return url
}

// scoped prefixes every index name so parallel runs do not collide.
type scoped struct {
	*Backend
	prefix string
}

func (s scoped) n(name string) string { return s.prefix + name }

func (s scoped) IndexExists(ctx context.Context, name string) (bool, error) {
	return s.Backend.IndexExists(ctx, s.n(name))
}

func (s scoped) CreateIndex(ctx context.Context, name string, m map[string]doc.Document) error {
	return s.Backend.CreateIndex(ctx, s.n(name), m)
}

func (s scoped) DeleteIndex(ctx context.Context, name string) error {
	return s.Backend.DeleteIndex(ctx, s.n(name))
}

func (s scoped) PutMapping(ctx context.Context, name, typ string, m doc.Document) error {
	return s.Backend.PutMapping(ctx, s.n(name), typ, m)
}

func (s scoped) Get(ctx context.Context, name, typ, id string) (doc.Document, error) {
	return s.Backend.Get(ctx, s.n(name), typ, id)
}

func (s scoped) All(ctx context.Context, name, typ string) ([]doc.Document, error) {
	return s.Backend.All(ctx, s.n(name), typ)
}

func (s scoped) Bulk(ctx context.Context, name string, a []index.Action) ([]index.ItemFailure, error) {
	return s.Backend.Bulk(ctx, s.n(name), a)
}

func TestBackend_Suite(t *testing.T) {
	url := elasticURL(t)
	indextest.RunBackendSuite(t, func(t *testing.T) index.Backend {
		b, err := Open(context.Background(), url, nil)
		require.NoError(t, err)
		s := scoped{Backend: b, prefix: fmt.Sprintf("searchsync-test-%d-", time.Now().UnixNano())}
		t.Cleanup(func() {
			_ = b.DeleteIndex(context.Background(), s.n("idx"))
			b.Close()
		})
		return s
	})
}

func TestPhysicalID(t *testing.T) {
	assert.Equal(t, "person:p1", physicalID("person", "p1"))
}

func TestMergeMapping(t *testing.T) {
	dst := baseMapping()
	mergeMapping(dst, doc.Document{
		"properties": map[string]any{"name": map[string]any{"type": "text"}},
		"dynamic":    "strict",
	})

	props := dst["properties"].(map[string]any)
	assert.Contains(t, props, FieldDocType)
	assert.Contains(t, props, "name")
	assert.Equal(t, "strict", dst["dynamic"])
}

func TestDecodeStripsDocType(t *testing.T) {
	d, err := decode([]byte(`{"id":"p1","doc_type":"person"}`))
	require.NoError(t, err)
	assert.Equal(t, doc.Document{"id": "p1"}, d)
}

func TestItemFailures_MatchByPosition(t *testing.T) {
	sent := []index.Action{
		{Op: index.OpIndex, Type: "message", ID: "m1", Doc: doc.Document{"id": "m1"}},
		{Op: index.OpUpdate, Type: "message", ID: "m1", Doc: doc.Document{"title": "x"}},
		{Op: index.OpDelete, Type: "message", ID: "m2"},
	}
	res := &es.BulkResponse{Items: []map[string]*es.BulkResponseItem{
		{"index": {Id: "message:m1", Status: 201}},
		{"update": {Id: "message:m1", Status: 400, Error: &es.ErrorDetails{Type: "mapper_parsing_exception", Reason: "bad title"}}},
		{"delete": {Id: "message:m2", Status: 404}},
	}}

	failures := itemFailures("shindig", sent, res)
	require.Len(t, failures, 2)
	assert.Equal(t, index.OpUpdate, failures[0].Action.Op)
	assert.True(t, index.IsMalformed(failures[0].Err))
	assert.Contains(t, failures[0].Err.Error(), "bad title")
	assert.Equal(t, index.OpDelete, failures[1].Action.Op)
	assert.True(t, index.IsNotFound(failures[1].Err))
}
