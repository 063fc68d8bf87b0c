package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/agent-turn-engine/internal/gateway"
	"github.com/anthropics/agent-turn-engine/internal/hooks"
	"github.com/anthropics/agent-turn-engine/internal/permission"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
)

// TestStopHookBlockReentersWithFreshDepthZeroTurn exercises finalize's
// Stop-hook re-entry path: a Stop hook that blocks the first time it
// runs (by emitting continue:false) and succeeds every time after
// should cause the engine to start a brand-new depth-0 turn rather than
// erroring on ErrTurnInProgress, since isLoading/cancelPair are cleared
// before the hook ever runs.
func TestStopHookBlockReentersWithFreshDepthZeroTurn(t *testing.T) {
	gw := &fakeGateway{responses: []*gateway.Response{textResponse("ok"), textResponse("ok")}}
	e, _ := newTestEngine(t, gw, tooling.NewRegistry(nil))

	marker := filepath.Join(t.TempDir(), "stop-hook-ran")
	e.hookRunner = hooks.NewRunner(hooks.Config{
		Stop: []hooks.Def{{
			Type: "command",
			Command: "if [ -f " + marker + " ]; then exit 0; else touch " + marker +
				`; echo '{"continue":false}'; fi`,
		}},
	})

	if err := e.SubmitUserMessage(context.Background(), "go", Options{}); err != nil {
		t.Fatalf("SubmitUserMessage: %v", err)
	}

	if gw.calls != 2 {
		t.Errorf("gw.calls = %d, want 2 (initial turn + one stop-hook re-entry)", gw.calls)
	}
	if e.IsLoading() {
		t.Error("expected isLoading cleared after the re-entrant turn finished")
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected marker file to exist: %v", err)
	}
}

// TestInstallTemporaryRulesClearedAfterTurn verifies that a temporary
// allow-rule installed for one turn lets the tool run during that turn
// and is removed once the turn finishes, leaving the engine's permanent
// allow rules (here, none).
func TestInstallTemporaryRulesClearedAfterTurn(t *testing.T) {
	gw := &fakeGateway{responses: []*gateway.Response{
		toolCallResponse("t1", "Bash", `{"command":"echo hi"}`),
		textResponse("done"),
	}}
	tools := tooling.NewRegistry(nil)
	bashStub := &echoTool{}
	tools.Register(bashStubTool{bashStub})
	e, _ := newTestEngine(t, gw, tools)
	e.perm = permission.NewEngine(permission.RuleSet{}, permission.ModeDefault, permission.NewSafeZone(t.TempDir(), nil), "", nil)

	rule := permission.ParseRuleString("Bash")
	if err := e.SubmitUserMessage(context.Background(), "go", Options{
		TemporaryRules: []permission.Rule{rule},
	}); err != nil {
		t.Fatalf("SubmitUserMessage: %v", err)
	}
	if bashStub.calls != 1 {
		t.Fatalf("bashStub.calls = %d, want 1 (temporary allow rule should have let it run)", bashStub.calls)
	}
	if len(e.perm.Rules.Allow) != 0 {
		t.Errorf("expected temporary rules cleared after the turn, got %v", e.perm.Rules.Allow)
	}
}
