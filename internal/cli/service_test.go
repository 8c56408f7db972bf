package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/searchsync/internal/crawl"
	"github.com/roach88/searchsync/internal/schedule"
)

func testEnvironment(t *testing.T, cfgPath string) *environment {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)
	env, err := newEnvironment(&RootOptions{Format: "text", ConfigPath: cfgPath}, cmd)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

func TestService_OnceModeExitsAfterPass(t *testing.T) {
	cfg := writeConfig(t, "crawl:\n  mode: once\n")
	_, err := execute(t, "seed", socialFixture, "--config", cfg)
	require.NoError(t, err)

	env := testEnvironment(t, cfg)
	st, err := env.openStore()
	require.NoError(t, err)
	conn, err := env.openConnector(context.Background())
	require.NoError(t, err)
	svc, err := newService(env, st, conn, 5*time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not exit after the single pass")
	}
	assert.Equal(t, 1, svc.scheduler.Passes())

	m1, err := conn.Get(context.Background(), "shindig", "message", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, m1.Origin())
}

func TestService_EventsDrainOnShutdown(t *testing.T) {
	cfg := writeConfig(t, `crawl:
  enabled: false
events:
  enabled: true
  listen: 127.0.0.1:0
  workers: 2
`)
	_, err := execute(t, "seed", socialFixture, "--config", cfg)
	require.NoError(t, err)

	env := testEnvironment(t, cfg)
	st, err := env.openStore()
	require.NoError(t, err)
	conn, err := env.openConnector(context.Background())
	require.NoError(t, err)
	svc, err := newService(env, st, conn, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case <-svc.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("service not ready")
	}
	require.NotEmpty(t, svc.Addr())

	body := `[
		{"type": "activity.created", "payload": {"id": "x1", "title": "hello"}, "properties": {"userId": "alice"}},
		{"type": "profile.updated", "payload": {"id": "bob", "displayName": "Robert"}}
	]`
	resp, err := http.Post("http://"+svc.Addr()+"/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(respBody))
	assert.JSONEq(t, `{"accepted": 2}`, string(respBody))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down")
	}

	// Events accepted before shutdown were applied.
	x1, err := conn.Get(context.Background(), "shindig", "activity", "x1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, x1.Origin())
	assert.Equal(t, []string{"alice", "bob", "carol"}, x1.Whitelist())

	bob, err := conn.Get(context.Background(), "shindig", "person", "bob")
	require.NoError(t, err)
	assert.Equal(t, "Robert", bob["displayName"])

	// The intake is closed after shutdown.
	_, err = http.Post("http://"+svc.Addr()+"/events", "application/json", bytes.NewReader([]byte(body)))
	assert.Error(t, err)
}

// heldCrawler waits before delegating so a pass is in flight when the
// service is told to stop.
type heldCrawler struct {
	inner   schedule.Crawler
	hold    time.Duration
	started chan struct{}
	once    sync.Once
	reports chan crawl.Report
}

func (c *heldCrawler) Crawl(ctx context.Context) crawl.Report {
	c.once.Do(func() { close(c.started) })
	select {
	case <-time.After(c.hold):
	case <-ctx.Done():
	}
	rep := c.inner.Crawl(ctx)
	c.reports <- rep
	return rep
}

func TestService_SignalLetsRunningPassComplete(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, "seed", socialFixture, "--config", cfg)
	require.NoError(t, err)

	env := testEnvironment(t, cfg)
	st, err := env.openStore()
	require.NoError(t, err)
	conn, err := env.openConnector(context.Background())
	require.NoError(t, err)
	svc, err := newService(env, st, conn, 5*time.Second)
	require.NoError(t, err)

	crawlers, err := env.crawlers(st, conn, "profile")
	require.NoError(t, err)
	require.Len(t, crawlers, 1)
	held := &heldCrawler{inner: crawlers[0], hold: 200 * time.Millisecond, started: make(chan struct{}), reports: make(chan crawl.Report, 1)}
	svc.scheduler, err = schedule.New(schedule.Spec{Mode: schedule.ModeDaily, Hour: 2, CrawlOnStart: true, Enabled: true},
		[]schedule.Crawler{held}, schedule.WithLogger(env.logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case <-held.started:
	case <-time.After(10 * time.Second):
		t.Fatal("pass did not start")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down")
	}
	rep := <-held.reports
	require.NoError(t, rep.Err())
	assert.Equal(t, 3, rep.Added)
	assert.Equal(t, 1, svc.scheduler.Passes())
}

func TestNewLogger_RotatingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "log:\n  file: "+filepath.Join(dir, "searchsync.log")+"\n")
	env := testEnvironment(t, cfg)
	env.logger.Info("hello from test")
	env.Close()

	b, err := os.ReadFile(filepath.Join(dir, "searchsync.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello from test")
}
