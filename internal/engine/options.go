package engine

import (
	"errors"

	"github.com/anthropics/agent-turn-engine/internal/permission"
)

// Options configures one call to SendTurn. Only RecursionDepth, Model,
// TemporaryRules, ToolsAllowlist, and MaxTokens are named by the turn
// engine's own contract; FastMode is a supplemented per-request hint
// the gateway uses to set speed:"fast" on eligible models.
type Options struct {
	RecursionDepth int
	Model          string
	TemporaryRules []permission.Rule
	ToolsAllowlist []string
	MaxTokens      int
	FastMode       bool
}

// ErrTurnInProgress is returned by SendTurn when a depth-0 call arrives
// while another depth-0 turn is already in flight (the isLoading gate).
var ErrTurnInProgress = errors.New("engine: a turn is already in progress")
