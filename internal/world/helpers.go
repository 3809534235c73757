// ABOUTME: Small helpers for ordering world state and naming chats and agents
// ABOUTME: Pure functions used by the actor

package world

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/agentworld/internal/store"
)

// maxTitleLen bounds a chat title derived from a message.
const maxTitleLen = 48

func sortedAgents(agents map[string]*store.Agent) []*store.Agent {
	out := make([]*store.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// sortedChats orders chats most recently updated first.
func sortedChats(chats map[string]*store.Chat) []*store.Chat {
	out := make([]*store.Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// deriveChatTitle builds a chat name from the first line of a message.
func deriveChatTitle(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Join(strings.Fields(line), " ")
	if utf8.RuneCountInString(line) <= maxTitleLen {
		return line
	}
	runes := []rune(line)
	cut := string(runes[:maxTitleLen])
	if i := strings.LastIndexByte(cut, ' '); i > maxTitleLen/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

// slugify lowercases name and replaces runs of other characters with dashes.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
