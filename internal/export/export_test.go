// ABOUTME: Tests for transcript building, rendering, and JSON lines export
// ABOUTME: Uses the mock store seeded with overlapping agent memories

package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/store"
)

func seedTranscript(t *testing.T) *store.MockStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()

	require.NoError(t, s.CreateWorld(ctx, &store.World{ID: "w1", Name: "Lab"}))
	require.NoError(t, s.SaveChatData(ctx, &store.Chat{ID: "c1", WorldID: "w1", Name: "Launch plan"}))

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	hello := store.ConversationMessage{MessageID: "m1", Content: "Hello team", Sender: "human", ChatID: "c1", CreatedAt: t0}
	reply := store.ConversationMessage{MessageID: "m2", ReplyToMessageID: "m1", Content: "On it", Sender: "alpha", ChatID: "c1", CreatedAt: t0.Add(time.Minute)}
	legacy := store.ConversationMessage{Content: "no id", Sender: "human", Role: store.RoleUser, ChatID: "c1", CreatedAt: t0.Add(2 * time.Minute)}
	other := store.ConversationMessage{MessageID: "m9", Content: "other chat", Sender: "human", ChatID: "c2", CreatedAt: t0}

	alphaHello, betaHello := hello, hello
	alphaHello.Role, betaHello.Role = store.RoleUser, store.RoleUser
	alphaReply, betaReply := reply, reply
	alphaReply.Role, betaReply.Role = store.RoleAssistant, store.RoleUser

	// Alpha's memory is out of order to exercise sorting.
	require.NoError(t, s.SaveAgent(ctx, "w1", &store.Agent{
		ID: "alpha", Name: "alpha",
		Memory: []store.ConversationMessage{legacy, alphaReply, alphaHello, other},
	}))
	require.NoError(t, s.SaveAgent(ctx, "w1", &store.Agent{
		ID: "beta", Name: "beta",
		Memory: []store.ConversationMessage{betaHello, betaReply, legacy},
	}))
	return s
}

func TestBuild_DedupesAndSorts(t *testing.T) {
	s := seedTranscript(t)

	tr, err := Build(context.Background(), s, "w1", "c1")
	require.NoError(t, err)

	assert.Equal(t, "Lab", tr.WorldName)
	assert.Equal(t, "Launch plan", tr.ChatName)
	require.Len(t, tr.Entries, 3)

	assert.Equal(t, "m1", tr.Entries[0].MessageID)
	assert.Equal(t, event.SenderHuman, tr.Entries[0].SenderType)
	assert.Equal(t, "m2", tr.Entries[1].MessageID)
	assert.Equal(t, store.RoleAssistant, tr.Entries[1].Role)
	assert.Equal(t, event.SenderAgent, tr.Entries[1].SenderType)
	assert.Equal(t, "no id", tr.Entries[2].Content)
}

func TestBuild_NotFound(t *testing.T) {
	s := seedTranscript(t)

	_, err := Build(context.Background(), s, "nope", "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = Build(context.Background(), s, "w1", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDedupe_WithoutIDsUsesContentTimeRole(t *testing.T) {
	ts := time.Now()
	entries := Dedupe([]store.ConversationMessage{
		{Content: "same", Role: store.RoleUser, CreatedAt: ts},
		{Content: "same", Role: store.RoleUser, CreatedAt: ts},
		{Content: "same", Role: store.RoleAssistant, CreatedAt: ts},
		{Content: "same", Role: store.RoleUser, CreatedAt: ts.Add(time.Second)},
	})
	assert.Len(t, entries, 3)
}

func TestRenderMarkdown(t *testing.T) {
	tr, err := Build(context.Background(), seedTranscript(t), "w1", "c1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderMarkdown(&buf, tr))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Launch plan\n"))
	assert.Contains(t, out, "- World: Lab")
	assert.Contains(t, out, "- Messages: 3")
	assert.Contains(t, out, "### human · 2026-03-01 09:00:00")
	assert.Contains(t, out, "> in reply to `m1`")
	assert.Less(t, strings.Index(out, "Hello team"), strings.Index(out, "On it"))
}

func TestRenderHTML(t *testing.T) {
	tr, err := Build(context.Background(), seedTranscript(t), "w1", "c1")
	require.NoError(t, err)
	tr.Entries = append(tr.Entries, Entry{Sender: "mallory", Content: "<script>alert(1)</script>"})
	tr.ChatName = "Plan <b>"

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, tr))
	out := buf.String()

	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "<title>Plan &lt;b&gt;</title>")
	assert.Contains(t, out, "<h3>")
	assert.Contains(t, out, "Hello team")
	assert.NotContains(t, out, "<script>alert(1)</script>")
}

func testEvents() []*event.Event {
	chat := event.StringPtr("c1")
	now := time.Now().UTC().Truncate(time.Millisecond)
	return []*event.Event{
		{ID: "e1", WorldID: "w1", ChatID: chat, Type: event.TypeMessage, Seq: 1, CreatedAt: now,
			Payload: event.MessagePayload{Content: "hi", Sender: "human"}},
		{ID: "e2", WorldID: "w1", ChatID: chat, Type: event.TypeTool, Seq: 2, CreatedAt: now,
			Payload: event.ToolPayload{Kind: event.ToolResult, ToolName: "shell", Result: "ok"},
			Meta:    event.Meta{event.MetaExecutionDuration: float64(12)}},
	}
}

func TestWriteEventsJSONL_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEventsJSONL(&buf, testEvents(), false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	got, err := ReadEventsJSONL(&buf, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, testEvents()[1].Payload, got[1].Payload)
}

func TestWriteEventsJSONL_Compressed(t *testing.T) {
	var plain, packed bytes.Buffer
	require.NoError(t, WriteEventsJSONL(&plain, testEvents(), false))
	require.NoError(t, WriteEventsJSONL(&packed, testEvents(), true))
	assert.NotEqual(t, plain.Bytes(), packed.Bytes())

	got, err := ReadEventsJSONL(&packed, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, int64(12), got[1].Meta.Int(event.MetaExecutionDuration))
}

func TestWriteEventsJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEventsJSONL(&buf, nil, false))
	got, err := ReadEventsJSONL(&buf, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}
