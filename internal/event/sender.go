// ABOUTME: Sender classification for event attribution
// ABOUTME: Maps a sender string to human, agent, or world

package event

import "strings"

// SenderType classifies who produced an event.
type SenderType string

const (
	SenderHuman SenderType = "human"
	SenderAgent SenderType = "agent"
	SenderWorld SenderType = "world"
)

// SenderTypeOf classifies a sender string. "human" and "user" (optionally
// with a ":name" suffix) are humans, "world" and "system" are the world
// itself, and anything else is taken to be an agent.
func SenderTypeOf(sender string) SenderType {
	s := strings.ToLower(strings.TrimSpace(sender))
	if s == "" {
		return SenderWorld
	}
	switch s {
	case "human", "user", "you":
		return SenderHuman
	case "world", "system":
		return SenderWorld
	}
	if strings.HasPrefix(s, "human:") || strings.HasPrefix(s, "user:") {
		return SenderHuman
	}
	return SenderAgent
}
