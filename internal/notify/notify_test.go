package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/syncer"
)

type collector struct {
	mu     sync.Mutex
	events []syncer.Event
	err    error
}

func (c *collector) Submit(ev syncer.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.ID())
	}
	return out
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidator_Decode(t *testing.T) {
	v := newValidator(t)
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr string
	}{
		{name: "single", body: `{"type":"activity.created","payload":{"id":"a1"},"properties":{"userId":"u1"}}`, want: 1},
		{name: "array", body: `[{"type":"profile.deleted","payload":{"id":"p1"}},{"type":"message.updated","payload":{"id":7}}]`, want: 2},
		{name: "skill by property", body: `{"type":"skill.added","payload":{},"properties":{"userId":"u1"}}`, want: 1},
		{name: "skill by payload", body: `{"type":"skill.removed","payload":{"id":"u1"}}`, want: 1},
		{name: "empty", body: "  ", wantErr: "empty body"},
		{name: "not json", body: `{"type":`, wantErr: "invalid event"},
		{name: "unknown type", body: `{"type":"group.created","payload":{"id":"g"}}`, wantErr: "invalid event"},
		{name: "missing id", body: `{"type":"activity.updated","payload":{"title":"x"}}`, wantErr: "invalid event"},
		{name: "empty id", body: `{"type":"activity.updated","payload":{"id":""}}`, wantErr: "invalid event"},
		{name: "skill without user", body: `{"type":"skill.added","payload":{}}`, wantErr: "invalid event"},
		{name: "non-string property", body: `{"type":"profile.created","payload":{"id":"p"},"properties":{"userId":3}}`, wantErr: "invalid event"},
		{name: "bad array element", body: `[{"type":"profile.deleted","payload":{"id":"p1"}},{"type":"profile.deleted"}]`, wantErr: "event 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Decode([]byte(tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidEvent)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestValidator_DecodedFields(t *testing.T) {
	v := newValidator(t)
	got, err := v.Decode([]byte(`{"type":"message.deleted","payload":{"id":"m1"},"properties":{"userId":"bob"}}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, syncer.MessageDeleted, got[0].Type)
	assert.Equal(t, "m1", got[0].ID())
	assert.Equal(t, "bob", got[0].UserID())
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	return rec
}

func TestServer_Events(t *testing.T) {
	sink := &collector{}
	srv := NewServer(newValidator(t), sink, ServerConfig{}, nil)

	rec := post(t, srv, `[{"type":"activity.created","payload":{"id":"a1"}},{"type":"activity.deleted","payload":{"id":"a2"}}]`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":2}`, rec.Body.String())
	assert.Equal(t, []string{"a1", "a2"}, sink.ids())

	rec = post(t, srv, `[{"type":"activity.created","payload":{"id":"a3"}},{"type":"nope"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_event")
	assert.Equal(t, []string{"a1", "a2"}, sink.ids(), "invalid batches are not partially submitted")
}

func TestServer_Routes(t *testing.T) {
	srv := NewServer(newValidator(t), &collector{}, ServerConfig{MaxBodyBytes: 16}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, srv, `{"type":"activity.created","payload":{"id":"a1"}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_ClosedSink(t *testing.T) {
	srv := NewServer(newValidator(t), &collector{err: syncer.ErrDispatcherClosed}, ServerConfig{}, nil)
	rec := post(t, srv, `{"type":"activity.created","payload":{"id":"a1"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// streamServer serves one batch of messages per connection, then hangs up.
func streamServer(t *testing.T, batches [][]any) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	next := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		mu.Lock()
		var batch []any
		if next < len(batches) {
			batch = batches[next]
		}
		next++
		mu.Unlock()

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for _, msg := range batch {
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "batch done")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscriber_ReconnectsAndSubmits(t *testing.T) {
	srv := streamServer(t, [][]any{
		{
			map[string]any{"type": "activity.created", "payload": map[string]any{"id": "a1"}},
			map[string]any{"type": "bogus"},
		},
		{
			[]any{
				map[string]any{"type": "activity.updated", "payload": map[string]any{"id": "a1"}},
				map[string]any{"type": "activity.deleted", "payload": map[string]any{"id": "a1"}},
			},
		},
	})
	sink := &collector{}
	sub := NewSubscriber(SubscriberConfig{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}, newValidator(t), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.ids()) == 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	sink.mu.Lock()
	types := []syncer.Type{sink.events[0].Type, sink.events[1].Type, sink.events[2].Type}
	sink.mu.Unlock()
	assert.Equal(t, []syncer.Type{syncer.ActivityCreated, syncer.ActivityUpdated, syncer.ActivityDeleted}, types)

	stats := sub.Stats()
	assert.GreaterOrEqual(t, stats.Connects, int64(2))
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestSubscriber_StopsWhenSinkCloses(t *testing.T) {
	srv := streamServer(t, [][]any{
		{map[string]any{"type": "profile.deleted", "payload": map[string]any{"id": "p1"}}},
	})
	sub := NewSubscriber(SubscriberConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")},
		newValidator(t), &collector{err: syncer.ErrDispatcherClosed}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, sub.Run(ctx), syncer.ErrDispatcherClosed)
}
