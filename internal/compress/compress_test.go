package compress

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/agent-turn-engine/internal/store"
)

func textMessage(id string) store.Message {
	return store.Message{ID: id, Role: store.RoleUser, Blocks: []store.Block{{Kind: store.BlockText, Text: id}}}
}

func TestShouldCompact(t *testing.T) {
	c := New()
	if c.ShouldCompact(store.Usage{TotalTokens: 10}) {
		t.Error("expected ShouldCompact=false under the ceiling")
	}
	if !c.ShouldCompact(store.Usage{TotalTokens: c.MaxInputTokens}) {
		t.Error("expected ShouldCompact=true at the ceiling")
	}
	if !c.ShouldCompact(store.Usage{TotalTokens: 1, CacheReadTokens: c.MaxInputTokens}) {
		t.Error("expected cache-read tokens to count toward the comprehensive total")
	}
}

func TestSelectWindowBelowPreserveRecent(t *testing.T) {
	c := &Compressor{PreserveRecent: 4}
	msgs := []store.Message{textMessage("1"), textMessage("2")}
	start, end := c.SelectWindow(msgs)
	if start != 0 || end != 0 {
		t.Errorf("expected no window, got [%d:%d]", start, end)
	}
}

func TestSelectWindowBasic(t *testing.T) {
	c := &Compressor{PreserveRecent: 2}
	msgs := []store.Message{textMessage("1"), textMessage("2"), textMessage("3"), textMessage("4")}
	start, end := c.SelectWindow(msgs)
	if start != 0 || end != 2 {
		t.Errorf("expected window [0:2], got [%d:%d]", start, end)
	}
}

func TestSelectWindowNeverSplitsOpenToolPair(t *testing.T) {
	c := &Compressor{PreserveRecent: 1}
	msgs := []store.Message{
		textMessage("1"),
		{ID: "2", Role: store.RoleAssistant, Blocks: []store.Block{{Kind: store.BlockTool, ToolID: "t1", Stage: store.ToolStageRunning}}},
		textMessage("3"),
		textMessage("4"),
	}
	start, end := c.SelectWindow(msgs)
	if end > 1 {
		t.Errorf("expected the cut to pull back before the open tool block, got [%d:%d]", start, end)
	}
}

func TestCompactReplacesWindowWithSummaryBlock(t *testing.T) {
	c := &Compressor{PreserveRecent: 1}
	history := store.NewHistory("sess-1")
	history.Append(textMessage("1"))
	history.Append(textMessage("2"))
	history.Append(textMessage("3"))

	p := &fakePersister{}
	summarize := func(ctx context.Context, messages []store.Message) (string, store.Usage, error) {
		if len(messages) != 2 {
			t.Errorf("expected 2 messages in the summarize window, got %d", len(messages))
		}
		return "summary text", store.Usage{TotalTokens: 5}, nil
	}

	c.Compact(context.Background(), p, "/cwd", "sess-1", history, summarize)

	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 messages after compaction, got %d", len(history.Messages))
	}
	if history.Messages[0].Blocks[0].Kind != store.BlockCompress {
		t.Errorf("expected first message to be a compress block, got %v", history.Messages[0].Blocks[0].Kind)
	}
	if history.Messages[0].Blocks[0].CompressSummary != "summary text" {
		t.Errorf("CompressSummary = %q", history.Messages[0].Blocks[0].CompressSummary)
	}
	if !p.persisted {
		t.Error("expected Compact to persist before summarizing")
	}
}

func TestCompactLeavesHistoryIntactOnSummarizeFailure(t *testing.T) {
	c := &Compressor{PreserveRecent: 1}
	history := store.NewHistory("sess-1")
	history.Append(textMessage("1"))
	history.Append(textMessage("2"))
	history.Append(textMessage("3"))

	p := &fakePersister{}
	summarize := func(ctx context.Context, messages []store.Message) (string, store.Usage, error) {
		return "", store.Usage{}, errors.New("gateway unavailable")
	}

	c.Compact(context.Background(), p, "/cwd", "sess-1", history, summarize)

	if len(history.Messages) != 3 {
		t.Errorf("expected history untouched on summarize failure, got %d messages", len(history.Messages))
	}
}

func TestCompactLeavesHistoryIntactOnPersistFailure(t *testing.T) {
	c := &Compressor{PreserveRecent: 1}
	history := store.NewHistory("sess-1")
	history.Append(textMessage("1"))
	history.Append(textMessage("2"))
	history.Append(textMessage("3"))

	p := &fakePersister{err: errors.New("disk full")}
	called := false
	summarize := func(ctx context.Context, messages []store.Message) (string, store.Usage, error) {
		called = true
		return "summary", store.Usage{}, nil
	}

	c.Compact(context.Background(), p, "/cwd", "sess-1", history, summarize)

	if called {
		t.Error("expected summarize not to be called when persist fails")
	}
	if len(history.Messages) != 3 {
		t.Errorf("expected history untouched on persist failure, got %d messages", len(history.Messages))
	}
}

type fakePersister struct {
	persisted bool
	err       error
}

func (p *fakePersister) Persist(cwd, sessionID string, messages []store.Message, fromIndex int) error {
	p.persisted = true
	return p.err
}
