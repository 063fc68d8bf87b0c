package engine

import (
	"context"

	"github.com/anthropics/agent-turn-engine/internal/obslog"
)

// handleCompression checks the most recent model response's own usage
// against the configured ceiling after a Tooling cycle and runs one
// compaction pass if it's been crossed. Each API call resends the full
// history, so a single response's usage already reflects the whole
// context size (spec.md §4.5 step 1, §8 Testable Property 8); summing
// every past response on top of that would trigger far earlier than
// the ceiling intends. Compact itself treats every failure (persist,
// summarize) as best-effort: logged, history left intact, turn
// continues regardless.
func (e *Engine) handleCompression(ctx context.Context, opts Options) {
	if e.compressor == nil {
		return
	}
	last := e.history.Last()
	if last == nil || last.Usage == nil {
		return
	}
	if !e.compressor.ShouldCompact(*last.Usage) {
		return
	}

	before := len(e.history.Messages)
	e.compressor.Compact(ctx, e.store, e.cwd, e.history.SessionID, e.history, e.gw.CompressMessages)
	after := len(e.history.Messages)

	if after < before {
		obslog.CompressionRan(e.history.SessionID, before-after)
		e.mu.Lock()
		if e.persistedCount > after {
			e.persistedCount = after
		}
		e.mu.Unlock()
	}
}
