// ABOUTME: Tests for the gateway lifecycle
// ABOUTME: Covers Run/Shutdown behavior and snapshot recovery across restarts

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedeck/pipedeck/internal/config"
)

func testConfig(t *testing.T, builderURL, interactorURL string) *config.Config {
	t.Helper()
	tmp := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Agents: config.AgentsConfig{
			BuilderURL:     builderURL,
			InteractorURL:  interactorURL,
			RequestTimeout: 5 * time.Second,
		},
		State: config.StateConfig{
			SnapshotPath: filepath.Join(tmp, "state.json"),
			SaveInterval: time.Hour,
		},
		Uploads: config.UploadsConfig{
			Dir:          filepath.Join(tmp, "uploads"),
			RegistryPath: ":memory:",
		},
	}
}

func newHandlerServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(payload)
}

// syncBuffer collects log output from handler goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogLinesCarrySingleComponentAttribute(t *testing.T) {
	builder := newFakeAgent(t)
	interactor := newFakeAgent(t)
	cfg := testConfig(t, builder.srv.URL, interactor.srv.URL)

	out := &syncBuffer{}
	gw, err := New(cfg, slog.New(slog.NewTextHandler(out, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	builder.reply(pipelinePayload())
	srv := newHandlerServer(t, gw)
	resp, err := srv.Client().Post(srv.URL+"/owner/chat", "application/json",
		jsonBody(t, ChatRequest{Message: "finalize"}))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lead, err := srv.Client().Post(srv.URL+"/lead/chat", "application/json",
		jsonBody(t, ChatRequest{Message: "hello"}))
	require.NoError(t, err)
	lead.Body.Close()
	require.Equal(t, http.StatusOK, lead.StatusCode)

	tagged := 0
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		n := strings.Count(line, "component=")
		assert.LessOrEqual(t, n, 1, "duplicated component attribute: %s", line)
		tagged += n
	}
	assert.Positive(t, tagged, "expected component-tagged log lines")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	builder := newFakeAgent(t)
	interactor := newFakeAgent(t)
	cfg := testConfig(t, builder.srv.URL, interactor.srv.URL)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the server a moment to start, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	// The persistence loop saves a final snapshot on shutdown.
	assert.FileExists(t, cfg.State.SnapshotPath)
}

func TestSnapshotRecoveryAcrossRestart(t *testing.T) {
	builder := newFakeAgent(t)
	interactor := newFakeAgent(t)
	cfg := testConfig(t, builder.srv.URL, interactor.srv.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// First instance: install a pipeline and save.
	gw, err := New(cfg, logger)
	require.NoError(t, err)

	builder.reply(pipelinePayload())
	srv := newHandlerServer(t, gw)
	resp, err := srv.Client().Post(srv.URL+"/owner/chat", "application/json",
		jsonBody(t, ChatRequest{Message: "finalize"}))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, gw.persister.Save())
	require.NoError(t, gw.Shutdown(context.Background()))

	// Second instance over the same snapshot path starts ready.
	gw2, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw2.Shutdown(context.Background()) })

	srv2 := newHandlerServer(t, gw2)
	ready, err := srv2.Client().Get(srv2.URL + "/health/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}
