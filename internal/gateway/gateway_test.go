// ABOUTME: Tests for the HTTP gateway routes
// ABOUTME: Runs the handler against a mock store through httptest

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentworld/internal/approval"
	"github.com/2389/agentworld/internal/auth"
	"github.com/2389/agentworld/internal/config"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/store"
	"github.com/2389/agentworld/internal/world"
)

const testSecret = "gateway-test-secret-with-32-bytes"

type testEnv struct {
	gw       *Gateway
	srv      *httptest.Server
	store    *store.MockStore
	registry *world.Registry
	token    string
}

// setupGateway serves a gateway over a mock store holding world w1 with
// agents alpha and beta.
func setupGateway(t *testing.T, secret string) *testEnv {
	t.Helper()
	ctx := context.Background()

	s := store.NewMockStore()
	require.NoError(t, s.CreateWorld(ctx, &store.World{ID: "w1", Name: "Lab", TurnLimit: 5}))
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"alpha", "beta"} {
		require.NoError(t, s.SaveAgent(ctx, "w1", &store.Agent{
			ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = secret

	reg := world.NewRegistry(world.Config{Store: s, Persist: true})
	gw, err := New(cfg, reg, s, nil)
	require.NoError(t, err)
	gw.heartbeat = 50 * time.Millisecond

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = reg.Close()
	})

	env := &testEnv{gw: gw, srv: srv, store: s, registry: reg}
	if secret != "" {
		v, err := auth.NewJWTVerifier([]byte(secret))
		require.NoError(t, err)
		env.token, err = v.Generate("tester", time.Hour)
		require.NoError(t, err)
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ready (1 worlds)", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "agentworld_worlds_loaded")
}

func TestWorlds_CreateListDelete(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodPost, "/api/worlds", CreateWorldRequest{ID: "w2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[WorldResponse](t, resp)
	assert.Equal(t, "w2", created.Name)
	assert.Equal(t, 5, created.TurnLimit)

	resp = env.do(t, http.MethodPost, "/api/worlds", CreateWorldRequest{ID: "w2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/worlds", CreateWorldRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/worlds", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]WorldResponse](t, resp)
	assert.Len(t, list["worlds"], 2)

	resp = env.do(t, http.MethodDelete, "/api/worlds/w2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/worlds/w2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorldRequestsReleaseTheWorld(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodGet, "/api/worlds/w1/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return env.registry.Info("w1") == world.Info{} },
		2*time.Second, 10*time.Millisecond)
}

func TestUnknownWorld(t *testing.T) {
	env := setupGateway(t, "")

	for _, path := range []string{"/api/worlds/nope/agents", "/api/worlds/nope/events", "/api/worlds/nope/chats"} {
		resp := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestAgents(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodPost, "/api/worlds/w1/agents", CreateAgentRequest{Name: "Gamma Ray", Model: "m"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[AgentResponse](t, resp)
	assert.Equal(t, "gamma-ray", created.ID)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/agents", CreateAgentRequest{Name: "Gamma Ray"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/worlds/w1/agents", nil)
	list := decode[map[string][]AgentResponse](t, resp)
	require.Len(t, list["agents"], 3)
	assert.Equal(t, "alpha", list["agents"][0].ID)

	resp = env.do(t, http.MethodDelete, "/api/worlds/w1/agents/gamma-ray", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/worlds/w1/agents/gamma-ray", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessage_AndEventLog(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := decode[ChatResponse](t, resp)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "Hello team"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[event.Event](t, resp)
	assert.Equal(t, int64(1), sent.Seq)
	assert.Equal(t, chat.ID, sent.ChatKey())

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "alpha", Content: "On it"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/worlds/w1/events?chat="+chat.ID+"&types=message&since_seq=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string][]*event.Event](t, resp)
	require.Len(t, got["events"], 1)
	assert.Equal(t, int64(2), got["events"][0].Seq)
	payload, ok := got["events"][0].Payload.(event.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "On it", payload.Content)

	resp = env.do(t, http.MethodGet, "/api/worlds/w1/chats", nil)
	chats := decode[map[string][]ChatResponse](t, resp)
	require.Len(t, chats["chats"], 1)
	assert.Equal(t, "Hello team", chats["chats"][0].Name)
}

func TestSendMessage_BadRequests(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := "no-such-chat"
	resp = env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "hi", ChatID: &missing})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_BadQuery(t *testing.T) {
	env := setupGateway(t, "")

	for _, q := range []string{"types=bogus", "since_seq=-1", "limit=x"} {
		resp := env.do(t, http.MethodGet, "/api/worlds/w1/events?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestNewChat_ReusesEmptyChat(t *testing.T) {
	env := setupGateway(t, "")

	first := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil))
	second := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil))
	assert.Equal(t, first.ID, second.ID)

	env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "Start the plan"})
	third := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil))
	assert.NotEqual(t, first.ID, third.ID)

	resp := env.do(t, http.MethodPost, "/api/worlds/w1/chats/"+first.ID+"/restore", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	w := decode[WorldResponse](t, env.do(t, http.MethodGet, "/api/worlds/w1", nil))
	require.NotNil(t, w.CurrentChatID)
	assert.Equal(t, first.ID, *w.CurrentChatID)

	resp = env.do(t, http.MethodDelete, "/api/worlds/w1/chats/"+third.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/worlds/w1/chats/"+third.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteMessage(t *testing.T) {
	env := setupGateway(t, "")

	chat := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil))
	env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "one", MessageID: "m1"})
	env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "two", MessageID: "m2"})

	resp := env.do(t, http.MethodDelete, "/api/worlds/w1/chats/"+chat.ID+"/messages/m1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]int](t, resp)
	assert.Equal(t, 4, got["removed"])

	resp = env.do(t, http.MethodDelete, "/api/worlds/nope/chats/"+chat.ID+"/messages/m1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApprovalFlow(t *testing.T) {
	env := setupGateway(t, "")
	env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil)

	resp := env.do(t, http.MethodPost, "/api/worlds/w1/tools/check", CheckToolRequest{AgentID: "alpha", ToolName: "shell"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	check := decode[OutcomeResponse](t, resp)
	assert.Equal(t, approval.StateAwaitingDecision, check.State)
	assert.False(t, check.Execute)
	require.NotEmpty(t, check.RequestID)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/approvals", ApprovalRequest{
		AgentID: "alpha", RequestID: check.RequestID, ToolName: "shell", Option: approval.OptionApproveSession,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decided := decode[OutcomeResponse](t, resp)
	assert.Equal(t, approval.StateApproved, decided.State)
	assert.True(t, decided.Execute)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/tools/check", CheckToolRequest{AgentID: "alpha", ToolName: "shell"})
	again := decode[OutcomeResponse](t, resp)
	assert.Equal(t, approval.StateApproved, again.State)
	assert.True(t, again.Execute)
}

func TestApproval_Errors(t *testing.T) {
	env := setupGateway(t, "")
	env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil)

	resp := env.do(t, http.MethodPost, "/api/worlds/w1/approvals", ApprovalRequest{
		AgentID: "alpha", RequestID: "missing", ToolName: "shell", Option: approval.OptionDeny,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/approvals", ApprovalRequest{
		AgentID: "alpha", RequestID: "r1", ToolName: "shell", Option: "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/approvals", ApprovalRequest{
		AgentID: "alpha", RequestID: "r1", ToolName: "shell", Decision: approval.DecisionApprove,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	check := decode[OutcomeResponse](t, env.do(t, http.MethodPost, "/api/worlds/w1/tools/check",
		CheckToolRequest{AgentID: "alpha", ToolName: "shell"}))

	pending := decode[map[string][]PendingResponse](t, env.do(t, http.MethodGet, "/api/worlds/w1/approvals?agent=alpha", nil))
	require.Len(t, pending["approvals"], 1)
	assert.Equal(t, check.RequestID, pending["approvals"][0].RequestID)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/approvals", ApprovalRequest{
		AgentID: "alpha", RequestID: check.RequestID, ToolName: "other", Option: approval.OptionApproveOnce,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// beta cannot decide alpha's request.
	resp = env.do(t, http.MethodPost, "/api/worlds/w1/approvals", ApprovalRequest{
		AgentID: "beta", RequestID: check.RequestID, ToolName: "shell", Option: approval.OptionApproveSession,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	pending = decode[map[string][]PendingResponse](t, env.do(t, http.MethodGet, "/api/worlds/w1/approvals?agent=alpha", nil))
	assert.Len(t, pending["approvals"], 1)

	resp = env.do(t, http.MethodPost, "/api/worlds/w1/tools/check", CheckToolRequest{AgentID: "ghost", ToolName: "shell"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportChat(t *testing.T) {
	env := setupGateway(t, "")
	chat := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil))
	env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "Ship **it**"})

	resp := env.do(t, http.MethodGet, "/api/worlds/w1/chats/"+chat.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Ship **it**")

	resp = env.do(t, http.MethodGet, "/api/worlds/w1/chats/"+chat.ID+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "<strong>it</strong>")

	resp = env.do(t, http.MethodGet, "/api/worlds/w1/chats/"+chat.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	env := setupGateway(t, testSecret)

	resp := env.do(t, http.MethodGet, "/api/worlds/w1/agents", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open
	token := env.token
	env.token = ""
	resp = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/worlds", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	env.token, err = v.Generate("scoped", time.Hour, "other")
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/api/worlds/w1/agents", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env.token = token
}

func TestNew_RejectsShortSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "short"
	s := store.NewMockStore()
	_, err := New(cfg, world.NewRegistry(world.Config{Store: s}), s, nil)
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestStream_SSE(t *testing.T) {
	env := setupGateway(t, "")
	env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/worlds/w1/stream?topic=messages", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		t.Helper()
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream closed waiting for %q", prefix)
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	assert.Equal(t, "event: ready", next("event:"))
	require.Eventually(t, func() bool { return env.registry.Info("w1").RefCount == 1 },
		2*time.Second, 10*time.Millisecond)

	env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "streamed"})

	assert.Equal(t, "event: message", next("event: message"))
	assert.Contains(t, next("data:"), `"content":"streamed"`)

	cancel()
	require.Eventually(t, func() bool { return !env.registry.Info("w1").Loaded }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_BadTopic(t *testing.T) {
	env := setupGateway(t, "")

	resp := env.do(t, http.MethodGet, "/api/worlds/w1/stream?topic=gossip", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_WebSocket(t *testing.T) {
	env := setupGateway(t, "")
	env.do(t, http.MethodPost, "/api/worlds/w1/chats", nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/worlds/w1/ws?topic=messages,world"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready wsEnvelope
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "ready", ready.Type)

	env.do(t, http.MethodPost, "/api/worlds/w1/messages", SendMessageRequest{Sender: "human", Content: "over the wire"})

	var frame wsEnvelope
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, string(event.TypeMessage), frame.Type)
	require.NotNil(t, frame.Event)
	payload, ok := frame.Event.Payload.(event.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "over the wire", payload.Content)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !env.registry.Info("w1").Loaded }, 2*time.Second, 10*time.Millisecond)
}

func TestParseEventQuery(t *testing.T) {
	q, err := parseEventQuery("message, tool", "3", "10")
	require.NoError(t, err)
	assert.Equal(t, []event.Type{event.TypeMessage, event.TypeTool}, q.Types)
	assert.Equal(t, int64(3), q.SinceSeq)
	assert.Equal(t, 10, q.Limit)
}

func TestFormatSSEEvent(t *testing.T) {
	assert.Equal(t, "event: message\ndata: {}\n\n", formatSSEEvent("message", "{}"))
}
