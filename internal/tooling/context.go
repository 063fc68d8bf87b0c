package tooling

import (
	"github.com/anthropics/agent-turn-engine/internal/cancel"
	"github.com/anthropics/agent-turn-engine/internal/permission"
)

// Context is the per-execution capability record the dispatcher builds
// once for every tool call and passes to Tool.Execute. Tools declare
// the subset of collaborators they actually read through small marker
// interfaces (NeedsCancellation, NeedsWorkdir, NeedsBackgroundStore) so
// the dispatcher can skip constructing collaborators a tool never asks
// for; the fields below are always populated since they're cheap
// (strings, an existing *cancel.Pair reference), and cost only shows up
// for collaborators expensive enough to warrant gating — none are
// modeled here yet since this module's illustrative tool set doesn't
// need one, but BackgroundStore is left as the documented extension
// point.
type Context struct {
	Mode       permission.Mode
	Permission *permission.Engine
	Cancel     *cancel.Pair
	WorkDir    string
	MessageID  string
	ToolCallID string
	Background BackgroundStore
}

// BackgroundStore is the collaborator a tool uses to move its own
// execution into the background (e.g. a long Bash command the user
// chooses not to wait on). It is out of scope to implement fully here;
// the interface exists so a tool can declare the capability it would
// need without the dispatcher depending on a concrete implementation.
type BackgroundStore interface {
	Backgrounded(toolCallID string) bool
}

// NeedsCancellation is a marker interface a tool implements to declare
// it reads tctx.Cancel.
type NeedsCancellation interface {
	WantsCancellation()
}

// NeedsWorkdir is a marker interface a tool implements to declare it
// reads tctx.WorkDir.
type NeedsWorkdir interface {
	WantsWorkdir()
}

// NeedsBackgroundStore is a marker interface a tool implements to
// declare it reads tctx.Background.
type NeedsBackgroundStore interface {
	WantsBackgroundStore()
}
