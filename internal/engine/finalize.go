package engine

import (
	"context"
	"time"

	"github.com/anthropics/agent-turn-engine/internal/hooks"
	"github.com/anthropics/agent-turn-engine/internal/obslog"
)

// finalize runs the Finalising state exactly once, after the deepest
// recursion of step has unwound back to the depth-0 SendTurn call: it
// persists one last time, clears temporary rules and the cancellation
// pair, releases isLoading, and — unless the turn was cancelled — runs
// the Stop hook, re-entering a fresh depth-0 turn if the hook demands
// it.
func (e *Engine) finalize(ctx context.Context, opts Options, cancelled bool, runErr error) error {
	e.persistQuiet()
	e.clearTemporaryRules()

	e.mu.Lock()
	pair := e.cancelPair
	e.cancelPair = nil
	e.isLoading = false
	started := e.turnStarted
	e.mu.Unlock()
	if pair != nil {
		pair.Clear()
	}

	stopReason := "end_turn"
	switch {
	case cancelled:
		stopReason = "cancelled"
	case runErr != nil:
		stopReason = "error"
	}
	var duration time.Duration
	if !started.IsZero() {
		duration = time.Since(started)
	}
	obslog.TurnFinished(e.sessionIDForLog(), opts.RecursionDepth, duration, stopReason)

	if cancelled || e.hookRunner == nil {
		return runErr
	}

	results := e.hookRunner.ExecuteHooks(ctx, hooks.EventStop, nil)
	outcome := hooks.ProcessResults(hooks.EventStop, results)
	if !outcome.ShouldBlock {
		return runErr
	}

	// Stop hook demands another round: isLoading/cancelPair were just
	// cleared above, so a brand-new depth-0 turn is valid here and won't
	// trip ErrTurnInProgress.
	nextOpts := opts
	nextOpts.RecursionDepth = 0
	if err := e.SendTurn(ctx, nextOpts); err != nil {
		return err
	}
	return runErr
}
