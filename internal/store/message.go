// Package store holds the append-only message history for one session:
// Message, the tagged-union Block type, per-call Usage accounting, and
// JSONL persistence.
package store

import "time"

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn's worth of content in the conversation. Assistant
// messages accumulate Blocks as the model streams; user messages are
// typically a single Text block plus, on the first turn, an injected
// context block.
type Message struct {
	ID        string
	Role      Role
	Blocks    []Block
	CreatedAt time.Time
	Usage     *Usage // non-nil only on assistant messages that completed a model call
}

// History is the append-only, ordered log of Messages for one session.
// Mutation beyond appends is restricted to ReplaceRange, which the
// compressor uses to collapse a prefix into a summary message; ordinary
// turn processing never removes or reorders entries.
type History struct {
	SessionID string
	Messages  []Message

	latestTotalTokens int // published by SetLatestTotalTokens after each model response
}

// NewHistory creates an empty history for the given session ID.
func NewHistory(sessionID string) *History {
	return &History{SessionID: sessionID}
}

// Append adds a message to the end of the history.
func (h *History) Append(m Message) {
	h.Messages = append(h.Messages, m)
}

// Last returns a pointer to the most recent message, or nil if empty.
// The pointer aliases the backing slice element, so callers streaming
// into the in-progress assistant message can mutate through it directly.
func (h *History) Last() *Message {
	if len(h.Messages) == 0 {
		return nil
	}
	return &h.Messages[len(h.Messages)-1]
}

// ReplaceRange replaces messages[start:end] with replacement, used only
// by the compressor to collapse an older prefix into a single summary
// message. start and end are message indices, half-open, and must satisfy
// 0 <= start <= end <= len(Messages).
func (h *History) ReplaceRange(start, end int, replacement []Message) {
	if start < 0 || end < start || end > len(h.Messages) {
		return
	}
	tail := append([]Message{}, h.Messages[end:]...)
	h.Messages = append(h.Messages[:start:start], replacement...)
	h.Messages = append(h.Messages, tail...)
}

// SetLatestTotalTokens publishes the "latest total tokens" figure a
// host status line reads: u.total + cache_read + cache_creation for
// the most recent model response (spec.md §6, §8 Testable Property 8).
func (h *History) SetLatestTotalTokens(n int) {
	h.latestTotalTokens = n
}

// LatestTotalTokens returns the figure most recently published by
// SetLatestTotalTokens, or 0 if no model response has completed yet.
func (h *History) LatestTotalTokens() int {
	return h.latestTotalTokens
}

// CumulativeUsage sums Usage across every message that carries one.
// The compressor's threshold check does not use it: it checks the most
// recent response's own Usage.
func (h *History) CumulativeUsage() Usage {
	var total Usage
	for _, m := range h.Messages {
		if m.Usage == nil {
			continue
		}
		total.PromptTokens += m.Usage.PromptTokens
		total.CompletionTokens += m.Usage.CompletionTokens
		total.TotalTokens += m.Usage.TotalTokens
		total.CacheReadTokens += m.Usage.CacheReadTokens
		total.CacheCreationTokens += m.Usage.CacheCreationTokens
	}
	return total
}
