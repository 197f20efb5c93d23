package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeutils/claude-queue/internal/accounts"
	"github.com/claudeutils/claude-queue/internal/queue"
	"github.com/claudeutils/claude-queue/internal/storage"
	"github.com/claudeutils/claude-queue/internal/types"
)

type stubRunner struct{}

func (stubRunner) TestConnection(context.Context) (bool, string) { return true, "ok" }

func (stubRunner) ExecutePrompt(context.Context, *types.Prompt, bool) *types.ExecutionResult {
	return &types.ExecutionResult{Success: true}
}

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	fs := storage.NewFileStore(t.TempDir())
	require.NoError(t, fs.Init())

	hub := NewHub()
	proc, err := queue.NewProcessor(queue.Options{
		Store:       fs,
		Runner:      stubRunner{},
		Broadcaster: hub,
	})
	require.NoError(t, err)

	srv := New("127.0.0.1:0", proc, accounts.NewStore(fs), hub)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Close)
	return ts, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // test teardown
	}()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAddListGetPrompt(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prompts", addPromptRequest{
		Content:  "write release notes",
		Priority: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[struct {
		Success  bool   `json:"success"`
		PromptID string `json:"prompt_id"`
	}](t, resp)
	require.True(t, created.Success)
	require.NotEmpty(t, created.PromptID)

	resp, err := http.Get(ts.URL + "/queue/prompts")
	require.NoError(t, err)
	prompts := decode[[]types.Prompt](t, resp)
	require.Len(t, prompts, 1)
	assert.Equal(t, "write release notes", prompts[0].Content)
	assert.Equal(t, types.StatusQueued, prompts[0].Status)

	resp, err = http.Get(ts.URL + "/queue/prompts/" + created.PromptID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	prompt := decode[types.Prompt](t, resp)
	assert.Equal(t, created.PromptID, prompt.ID)
}

func TestAddPromptRejectsEmptyContent(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prompts", addPromptRequest{Content: "   "})
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // test teardown
	}()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPromptsStatusFilter(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prompts", addPromptRequest{Content: "a"})
	_ = resp.Body.Close() //nolint:errcheck // response unused

	resp, err := http.Get(ts.URL + "/queue/prompts?status=COMPLETED")
	require.NoError(t, err)
	prompts := decode[[]types.Prompt](t, resp)
	assert.Empty(t, prompts)

	resp, err = http.Get(ts.URL + "/queue/prompts?status=bogus")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // test teardown
	}()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelPrompt(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prompts", addPromptRequest{Content: "a"})
	created := decode[struct {
		PromptID string `json:"prompt_id"`
	}](t, resp)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/queue/prompts/"+created.PromptID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close() //nolint:errcheck // response unused

	// Cancel is idempotent: a repeat delete of a cancelled prompt
	// succeeds.
	resp, err = http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // test teardown
	}()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelUnknownPrompt(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/queue/prompts/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // test teardown
	}()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/prompts", addPromptRequest{Content: "a"})
	_ = resp.Body.Close() //nolint:errcheck // response unused

	resp, err := http.Get(ts.URL + "/queue/status")
	require.NoError(t, err)
	stats := decode[queue.Stats](t, resp)
	assert.Equal(t, 1, stats.TotalPrompts)
	assert.Equal(t, 1, stats.StatusCounts[types.StatusQueued])
}

func TestAccountEndpoints(t *testing.T) {
	ts, srv := newTestServer(t)

	// No credentials in the active directory yet.
	resp := postJSON(t, ts.URL+"/accounts/save", map[string]string{"name": "work"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close() //nolint:errcheck // response unused

	activeDir := srv.accounts.ActivePath()
	require.NoError(t, os.WriteFile(
		filepath.Join(activeDir, accounts.CredentialsFile),
		[]byte(`{"claudeAiOauth":{"subscriptionType":"pro","email":"w@example.com"}}`), 0600))

	resp = postJSON(t, ts.URL+"/accounts/save", map[string]string{"name": "work"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close() //nolint:errcheck // response unused

	resp, err := http.Get(ts.URL + "/accounts")
	require.NoError(t, err)
	listing := decode[struct {
		Active   string          `json:"active"`
		Accounts []accounts.Info `json:"accounts"`
	}](t, resp)
	assert.Equal(t, "work", listing.Active)
	require.Len(t, listing.Accounts, 1)
	assert.Equal(t, "pro", listing.Accounts[0].SubscriptionType)

	resp, err = http.Get(ts.URL + "/accounts/work")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[accounts.Info](t, resp)
	assert.True(t, info.IsActive)

	resp, err = http.Post(ts.URL+"/accounts/use/work", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close() //nolint:errcheck // response unused

	resp, err = http.Post(ts.URL+"/accounts/use/missing", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close() //nolint:errcheck // response unused

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/accounts/work", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close() //nolint:errcheck // response unused
}

func TestEventStream(t *testing.T) {
	ts, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close() //nolint:errcheck // handshake response unused
	}
	defer func() {
		_ = conn.Close() //nolint:errcheck // test teardown
	}()

	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	srv.hub.Publish(types.NewEvent(types.EventStatusUpdate, "p1", types.StatusQueued))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev types.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, types.EventStatusUpdate, ev.Type)
	assert.Equal(t, "p1", ev.PromptID)
}

func TestPublishNeverBlocks(t *testing.T) {
	ts, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close() //nolint:errcheck // handshake response unused
	}
	defer func() {
		_ = conn.Close() //nolint:errcheck // test teardown
	}()

	// The client never reads. Publishing far past the buffer size must
	// still return promptly: the hub drops laggards instead of stalling.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*100; i++ {
			srv.hub.Publish(types.NewEvent(types.EventIdleTick, "", ""))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on an unread subscriber")
	}
}
