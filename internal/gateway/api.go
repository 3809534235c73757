// ABOUTME: HTTP API handlers for worlds, agents, chats, messages, and approvals
// ABOUTME: Each world-scoped request holds a world subscription for its duration

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/agentworld/internal/approval"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/export"
	"github.com/2389/agentworld/internal/store"
	"github.com/2389/agentworld/internal/world"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// WorldResponse is the JSON shape of a world.
type WorldResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CurrentChatID *string   `json:"current_chat_id"`
	TurnLimit     int       `json:"turn_limit"`
	Loaded        bool      `json:"loaded"`
	Subscribers   int       `json:"subscribers"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AgentResponse is the JSON shape of an agent, without its memory.
type AgentResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         string     `json:"type,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	LLMCallCount int        `json:"llm_call_count"`
	MemorySize   int        `json:"memory_size"`
	LastActive   *time.Time `json:"last_active,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ChatResponse is the JSON shape of a chat.
type ChatResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateWorldRequest is the JSON request body for POST /api/worlds.
type CreateWorldRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	TurnLimit   int    `json:"turn_limit,omitempty"`
}

// CreateAgentRequest is the JSON request body for POST /api/worlds/{world}/agents.
type CreateAgentRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/worlds/{world}/messages.
type SendMessageRequest struct {
	Sender           string  `json:"sender"`
	Content          string  `json:"content"`
	MessageID        string  `json:"message_id,omitempty"`
	ReplyToMessageID string  `json:"reply_to_message_id,omitempty"`
	ChatID           *string `json:"chat_id,omitempty"`
}

// CheckToolRequest is the JSON request body for POST /api/worlds/{world}/tools/check.
type CheckToolRequest struct {
	AgentID  string         `json:"agent_id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
	CallID   string         `json:"call_id,omitempty"`
	ChatID   string         `json:"chat_id,omitempty"`
}

// ApprovalRequest is the JSON request body for POST /api/worlds/{world}/approvals.
// Either Option or Decision (with Scope for approvals) must be set.
type ApprovalRequest struct {
	AgentID   string `json:"agent_id"`
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Option    string `json:"option,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
}

// OutcomeResponse is the JSON response for tool checks and approval decisions.
type OutcomeResponse struct {
	State     approval.State `json:"state"`
	RequestID string         `json:"request_id,omitempty"`
	Execute   bool           `json:"execute"`
	ToolName  string         `json:"tool_name"`
	Notice    string         `json:"notice,omitempty"`
	Event     *event.Event   `json:"event,omitempty"`
}

// PendingResponse describes one approval request awaiting a decision.
type PendingResponse struct {
	RequestID string         `json:"request_id"`
	AgentID   string         `json:"agent_id"`
	ChatID    string         `json:"chat_id,omitempty"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toWorldResponse(w *store.World, info world.Info) WorldResponse {
	return WorldResponse{
		ID:            w.ID,
		Name:          w.Name,
		Description:   w.Description,
		CurrentChatID: w.CurrentChatID,
		TurnLimit:     w.TurnLimit,
		Loaded:        info.Loaded,
		Subscribers:   info.RefCount,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func toAgentResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		Provider:     a.Provider,
		Model:        a.Model,
		LLMCallCount: a.LLMCallCount,
		MemorySize:   len(a.Memory),
		LastActive:   a.LastActive,
		CreatedAt:    a.CreatedAt,
	}
}

func toChatResponse(c *store.Chat) ChatResponse {
	return ChatResponse{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		MessageCount: c.MessageCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toOutcomeResponse(o *approval.Outcome) OutcomeResponse {
	return OutcomeResponse{
		State:     o.State,
		RequestID: o.RequestID,
		Execute:   o.Execute,
		ToolName:  o.Call.ToolName,
		Notice:    o.Notice,
		Event:     o.Event,
	}
}

// handleListWorlds handles GET /api/worlds.
func (g *Gateway) handleListWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := g.registry.Worlds(r.Context())
	if err != nil {
		g.sendStoreError(w, "failed to list worlds", err)
		return
	}

	resp := make([]WorldResponse, 0, len(worlds))
	for _, wd := range worlds {
		resp = append(resp, toWorldResponse(wd, g.registry.Info(wd.ID)))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"worlds": resp})
}

// handleCreateWorld handles POST /api/worlds.
func (g *Gateway) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req CreateWorldRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	wd := &store.World{ID: req.ID, Name: req.Name, Description: req.Description, TurnLimit: req.TurnLimit}
	if err := g.registry.CreateWorld(r.Context(), wd); err != nil {
		if errors.Is(err, store.ErrDuplicateWorld) {
			g.sendJSONError(w, http.StatusConflict, "world already exists")
			return
		}
		g.sendStoreError(w, "failed to create world", err)
		return
	}

	g.sendJSON(w, http.StatusCreated, toWorldResponse(wd, g.registry.Info(wd.ID)))
}

// handleGetWorld handles GET /api/worlds/{world}.
func (g *Gateway) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("world")
	wd, err := g.store.LoadWorld(r.Context(), worldID)
	if err != nil {
		g.sendStoreError(w, "failed to load world", err)
		return
	}
	g.sendJSON(w, http.StatusOK, toWorldResponse(wd, g.registry.Info(worldID)))
}

// handleDeleteWorld handles DELETE /api/worlds/{world}.
func (g *Gateway) handleDeleteWorld(w http.ResponseWriter, r *http.Request) {
	err := g.registry.DeleteWorld(r.Context(), r.PathValue("world"))
	if errors.Is(err, world.ErrWorldInUse) {
		g.sendJSONError(w, http.StatusConflict, "world is in use")
		return
	}
	if err != nil {
		g.sendStoreError(w, "failed to delete world", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAgents handles GET /api/worlds/{world}/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	agents, err := sub.Agents(r.Context())
	if err != nil {
		g.sendWorldError(w, "failed to list agents", err)
		return
	}

	resp := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, toAgentResponse(a))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"agents": resp})
}

// handleCreateAgent handles POST /api/worlds/{world}/agents.
func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	ag, err := sub.CreateAgent(r.Context(), world.AgentSpec{
		ID:           req.ID,
		Name:         req.Name,
		Type:         req.Type,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	})
	if errors.Is(err, world.ErrAgentExists) {
		g.sendJSONError(w, http.StatusConflict, "agent already exists")
		return
	}
	if err != nil {
		g.sendWorldError(w, "failed to create agent", err)
		return
	}
	g.sendJSON(w, http.StatusCreated, toAgentResponse(ag))
}

// handleDeleteAgent handles DELETE /api/worlds/{world}/agents/{agent}.
func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	removed, err := sub.DeleteAgent(r.Context(), r.PathValue("agent"))
	if err != nil {
		g.sendWorldError(w, "failed to delete agent", err)
		return
	}
	if !removed {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearMemory handles DELETE /api/worlds/{world}/agents/{agent}/memory.
func (g *Gateway) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	cleared, err := sub.ClearAgentMemory(r.Context(), r.PathValue("agent"))
	if err != nil {
		g.sendWorldError(w, "failed to clear memory", err)
		return
	}
	if !cleared {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListChats handles GET /api/worlds/{world}/chats.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	chats, err := sub.Chats(r.Context())
	if err != nil {
		g.sendWorldError(w, "failed to list chats", err)
		return
	}

	resp := make([]ChatResponse, 0, len(chats))
	for _, c := range chats {
		resp = append(resp, toChatResponse(c))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"chats": resp})
}

// handleNewChat handles POST /api/worlds/{world}/chats. The current chat is
// reused when it is still untitled or empty.
func (g *Gateway) handleNewChat(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	chat, err := sub.NewChat(r.Context())
	if err != nil {
		g.sendWorldError(w, "failed to start chat", err)
		return
	}
	g.sendJSON(w, http.StatusOK, toChatResponse(chat))
}

// handleRestoreChat handles POST /api/worlds/{world}/chats/{chat}/restore.
func (g *Gateway) handleRestoreChat(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	restored, err := sub.RestoreChat(r.Context(), r.PathValue("chat"))
	if err != nil {
		g.sendWorldError(w, "failed to restore chat", err)
		return
	}
	if !restored {
		g.sendJSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteChat handles DELETE /api/worlds/{world}/chats/{chat}.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	deleted, err := sub.DeleteChat(r.Context(), r.PathValue("chat"))
	if err != nil {
		g.sendWorldError(w, "failed to delete chat", err)
		return
	}
	if !deleted {
		g.sendJSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage handles POST /api/worlds/{world}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	req, err := parseSendRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	e, err := sub.SendMessage(r.Context(), world.Message{
		Sender:           req.Sender,
		Content:          req.Content,
		MessageID:        req.MessageID,
		ReplyToMessageID: req.ReplyToMessageID,
		ChatID:           req.ChatID,
	})
	if err != nil {
		g.sendWorldError(w, "failed to send message", err)
		return
	}
	g.sendJSON(w, http.StatusCreated, e)
}

// handleDeleteMessage handles DELETE /api/worlds/{world}/chats/{chat}/messages/{message}.
// The message and everything after it in the chat is removed from every agent.
func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	removed, err := g.registry.DeleteMessage(r.Context(), r.PathValue("world"), r.PathValue("chat"), r.PathValue("message"))
	if err != nil {
		g.sendWorldError(w, "failed to delete message", err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleCheckTool handles POST /api/worlds/{world}/tools/check.
func (g *Gateway) handleCheckTool(w http.ResponseWriter, r *http.Request) {
	var req CheckToolRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.ToolName == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id and tool_name are required")
		return
	}

	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	out, err := sub.CheckTool(r.Context(), approval.ToolCall{
		ID:       req.CallID,
		ToolName: req.ToolName,
		Args:     req.Args,
		AgentID:  req.AgentID,
		ChatID:   req.ChatID,
	})
	if err != nil {
		g.sendWorldError(w, "failed to check tool", err)
		return
	}
	g.sendJSON(w, http.StatusOK, toOutcomeResponse(out))
}

// handlePendingApprovals handles GET /api/worlds/{world}/approvals?agent=.
func (g *Gateway) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	reqs, err := sub.PendingApprovals(r.Context(), r.URL.Query().Get("agent"))
	if err != nil {
		g.sendWorldError(w, "failed to list approvals", err)
		return
	}

	resp := make([]PendingResponse, 0, len(reqs))
	for _, p := range reqs {
		resp = append(resp, PendingResponse{
			RequestID: p.ID,
			AgentID:   p.Call.AgentID,
			ChatID:    p.Call.ChatID,
			ToolName:  p.Call.ToolName,
			Args:      p.Call.Args,
			CreatedAt: p.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"approvals": resp})
}

// handleApproval handles POST /api/worlds/{world}/approvals.
func (g *Gateway) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.RequestID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id and request_id are required")
		return
	}

	rec, err := approvalRecord(req)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, err := approval.EncodeRecord(rec)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, ok := g.subscribe(w, r)
	if !ok {
		return
	}
	defer sub.Unsubscribe()

	out, err := sub.ResolveApproval(r.Context(), req.AgentID, store.ConversationMessage{
		Role:             store.RoleTool,
		Content:          content,
		ReplyToMessageID: req.RequestID,
		ChatID:           req.ChatID,
		Sender:           string(event.SenderHuman),
		CreatedAt:        time.Now(),
	})
	switch {
	case errors.Is(err, approval.ErrNoPendingRequest):
		g.sendJSONError(w, http.StatusNotFound, "no pending approval request")
		return
	case errors.Is(err, approval.ErrInvalidDecision):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.sendWorldError(w, "failed to resolve approval", err)
		return
	}
	g.sendJSON(w, http.StatusOK, toOutcomeResponse(out))
}

func approvalRecord(req ApprovalRequest) (approval.Record, error) {
	if req.Option != "" {
		rec, ok := approval.RecordFromOption(req.Option, req.ToolName, req.RequestID)
		if !ok {
			return approval.Record{}, fmt.Errorf("unknown option %q", req.Option)
		}
		return rec, nil
	}
	rec := approval.Record{
		Decision:  req.Decision,
		Scope:     req.Scope,
		ToolName:  req.ToolName,
		RequestID: req.RequestID,
	}
	if !rec.Valid() {
		return approval.Record{}, errors.New("decision must be deny, or approve with scope once or session, and tool_name is required")
	}
	return rec, nil
}

// handleEvents handles GET /api/worlds/{world}/events?chat=&types=&since_seq=&limit=.
// Without chat the events outside any chat are returned.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("world")
	q := r.URL.Query()

	query, err := parseEventQuery(q.Get("types"), q.Get("since_seq"), q.Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := g.store.LoadWorld(r.Context(), worldID); err != nil {
		g.sendStoreError(w, "failed to load world", err)
		return
	}

	var chatID *string
	if c := q.Get("chat"); c != "" {
		chatID = &c
	}

	events, err := g.store.GetEventsByWorldAndChat(r.Context(), worldID, chatID, query)
	if err != nil {
		g.sendStoreError(w, "failed to read events", err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseEventQuery(types, sinceSeq, limit string) (store.EventQuery, error) {
	var q store.EventQuery
	if types != "" {
		for _, t := range strings.Split(types, ",") {
			et := event.Type(strings.TrimSpace(t))
			if !et.Valid() {
				return q, fmt.Errorf("unknown event type %q", t)
			}
			q.Types = append(q.Types, et)
		}
	}
	if sinceSeq != "" {
		n, err := strconv.ParseInt(sinceSeq, 10, 64)
		if err != nil || n < 0 {
			return q, errors.New("since_seq must be a non-negative integer")
		}
		q.SinceSeq = n
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

// handleExportChat handles GET /api/worlds/{world}/chats/{chat}/export?format=md|html.
func (g *Gateway) handleExportChat(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "html" {
		g.sendJSONError(w, http.StatusBadRequest, "format must be md or html")
		return
	}

	t, err := export.Build(r.Context(), g.store, r.PathValue("world"), r.PathValue("chat"))
	if err != nil {
		g.sendStoreError(w, "failed to build transcript", err)
		return
	}

	var buf bytes.Buffer
	contentType := "text/markdown; charset=utf-8"
	if format == "html" {
		contentType = "text/html; charset=utf-8"
		err = export.RenderHTML(&buf, t)
	} else {
		err = export.RenderMarkdown(&buf, t)
	}
	if err != nil {
		g.logger.Error("failed to render transcript", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", t.ChatID+"."+format))
	_, _ = w.Write(buf.Bytes())
}

// subscribe holds the request's world for the handler. On failure the error
// response is already written.
func (g *Gateway) subscribe(w http.ResponseWriter, r *http.Request) (*world.Subscription, bool) {
	sub, err := g.registry.Subscribe(r.Context(), r.PathValue("world"))
	if err != nil {
		g.sendWorldError(w, "failed to load world", err)
		return nil, false
	}
	return sub, true
}

// parseSendRequest parses and validates a SendMessageRequest from the given reader.
// Returns an error if the JSON is invalid or required fields (content, sender) are missing.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}

	if req.Sender == "" {
		return nil, errors.New("sender is required")
	}

	return &req, nil
}

func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendStoreError maps storage errors onto status codes.
func (g *Gateway) sendStoreError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	g.logger.Error(msg, "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// sendWorldError maps world runtime errors onto status codes.
func (g *Gateway) sendWorldError(w http.ResponseWriter, msg string, err error) {
	switch {
	case event.IsValidationError(err):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, world.ErrRegistryClosed), errors.Is(err, world.ErrWorldNotLoaded):
		g.sendJSONError(w, http.StatusServiceUnavailable, "world unavailable")
	default:
		g.sendStoreError(w, msg, err)
	}
}
