// Package engine implements the turn engine: the state machine that,
// given a user prompt, drives one or more model-call/tool-execution
// recursion cycles until the model stops requesting tools, enforcing
// permission gates, pre/post-tool hooks, stop-hooks, token-budget
// compression, parallel tool execution under shared cancellation, and
// session persistence.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/anthropics/agent-turn-engine/internal/cancel"
	"github.com/anthropics/agent-turn-engine/internal/compress"
	"github.com/anthropics/agent-turn-engine/internal/gateway"
	"github.com/anthropics/agent-turn-engine/internal/hooks"
	"github.com/anthropics/agent-turn-engine/internal/obslog"
	"github.com/anthropics/agent-turn-engine/internal/permission"
	"github.com/anthropics/agent-turn-engine/internal/store"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
	"go.uber.org/zap"
)

// Persister is the subset of *store.Store the engine needs: appending
// new messages to the session's durable transcript.
type Persister interface {
	Persist(cwd, sessionID string, messages []store.Message, fromIndex int) error
}

// AskResolver is the host collaborator consulted when the permission
// engine's decision is "ask": the engine blocks on ResolvePermission to
// get the user's eventual decision. Nil means no interactive resolution
// is available, and an "ask" decision falls back to the same
// no-approver-configured denial the permission engine itself uses when
// no Callback is configured.
type AskResolver interface {
	ResolvePermission(ctx context.Context, toolName string, input map[string]any) (permission.Action, error)
}

// Observer receives turn-lifecycle notifications a host can use to
// drive a UI; every method is optional (a nil Observer is valid).
type Observer interface {
	OnTurnComplete(history *store.History)
}

// Config constructs an Engine. All fields are required unless noted.
type Config struct {
	Gateway    gateway.Gateway
	Tools      *tooling.Registry
	Permission *permission.Engine
	Hooks      *hooks.Runner // nil means no hooks configured
	Compressor *compress.Compressor
	Store      Persister
	History    *store.History
	CWD        string

	DefaultModel     string
	BaseSystemPrompt []string
	LanguageSuffix   string // appended to the system prompt when configured
	Memory           []string
	PlanModeReminder string
	ContextMessage   string // <system-reminder> block prepended to every model call

	AskResolver AskResolver              // optional
	Observer    Observer                 // optional
	Background  tooling.BackgroundStore // optional; reports whether a tool call was manually backgrounded
}

// Engine drives the turn state machine described at spec.md §4.6 over
// one session's history.
type Engine struct {
	gw         gateway.Gateway
	tools      *tooling.Registry
	perm       *permission.Engine
	hookRunner *hooks.Runner
	compressor *compress.Compressor
	store      Persister
	history    *store.History
	cwd        string

	defaultModel     string
	baseSystemPrompt []string
	languageSuffix   string
	memory           []string
	planModeReminder string
	contextMessage   string

	askResolver AskResolver
	observer    Observer
	background  tooling.BackgroundStore

	mu             sync.Mutex
	isLoading      bool
	cancelPair     *cancel.Pair
	baseAllowRules []permission.Rule // permission engine's Allow rules before any temporary rules were installed
	persistedCount int               // number of history messages already flushed to the store
	turnStarted    time.Time         // set at depth 0, read by finalize for duration logging
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{
		gw:               cfg.Gateway,
		tools:            cfg.Tools,
		perm:             cfg.Permission,
		hookRunner:       cfg.Hooks,
		compressor:       cfg.Compressor,
		store:            cfg.Store,
		history:          cfg.History,
		cwd:              cfg.CWD,
		defaultModel:     cfg.DefaultModel,
		baseSystemPrompt: cfg.BaseSystemPrompt,
		languageSuffix:   cfg.LanguageSuffix,
		memory:           cfg.Memory,
		planModeReminder: cfg.PlanModeReminder,
		contextMessage:   cfg.ContextMessage,
		askResolver:      cfg.AskResolver,
		observer:         cfg.Observer,
		background:       cfg.Background,
	}
}

// History returns the engine's message history.
func (e *Engine) History() *store.History {
	return e.history
}

// IsLoading reports whether a depth-0 turn is currently in flight.
func (e *Engine) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLoading
}

// AbortTurn requests cancellation of the whole in-flight turn,
// including any running tools. A no-op if no turn is in flight.
func (e *Engine) AbortTurn() {
	e.mu.Lock()
	pair := e.cancelPair
	e.mu.Unlock()
	if pair != nil {
		pair.AbortTurn()
	}
}

// AbortTools requests cancellation of in-flight tool execution only;
// the model call, if any, continues.
func (e *Engine) AbortTools() {
	e.mu.Lock()
	pair := e.cancelPair
	e.mu.Unlock()
	if pair != nil {
		pair.AbortTools()
	}
}

// SubmitUserMessage runs the UserPromptSubmit hook, appends the
// (possibly hook-modified) message to history, and starts a depth-0
// turn. Returns nil without starting a turn if the hook blocks the
// message.
func (e *Engine) SubmitUserMessage(ctx context.Context, message string, opts Options) error {
	if e.hookRunner != nil {
		results := e.hookRunner.ExecuteHooks(ctx, hooks.EventUserPromptSubmit, []string{"USER_PROMPT=" + message})
		outcome := hooks.ProcessResults(hooks.EventUserPromptSubmit, results)
		if outcome.ShouldBlock {
			e.history.Append(store.Message{ID: store.GenerateID(), Role: store.RoleSystem, Blocks: []store.Block{
				store.NewErrorBlock(outcome.ErrorMessage),
			}})
			return nil
		}
		for _, d := range outcome.Decisions {
			if d.SystemMessage != "" {
				// A hook-supplied modified prompt rides in SystemMessage for
				// UserPromptSubmit, mirroring the teacher's HookSubmitResult.
				message = d.SystemMessage
			}
		}
	}

	e.history.Append(store.Message{
		ID:     store.GenerateID(),
		Role:   store.RoleUser,
		Blocks: []store.Block{store.NewTextBlock(message)},
	})

	opts.RecursionDepth = 0
	return e.SendTurn(ctx, opts)
}

// SendTurn runs the turn state machine described at spec.md §4.6.
// depth 0 calls install temporary rules and a fresh cancellation pair
// (Preparing), and run finalisation exactly once after the recursive
// chain of model/tool cycles unwinds (Finalising); depth > 0 calls
// reuse the depth-0 cancellation pair and never touch isLoading.
func (e *Engine) SendTurn(ctx context.Context, opts Options) error {
	depth := opts.RecursionDepth

	if depth == 0 {
		if !e.tryAcquireLoading() {
			return ErrTurnInProgress
		}
		e.mu.Lock()
		e.cancelPair = cancel.NewPair(ctx)
		e.mu.Unlock()
		e.installTemporaryRules(opts.TemporaryRules)
		e.persistQuiet()
		e.mu.Lock()
		e.turnStarted = time.Now()
		e.mu.Unlock()
		obslog.TurnStarted(e.sessionIDForLog(), depth)
	}

	cancelled, err := e.step(ctx, opts)

	if depth != 0 {
		return err
	}
	return e.finalize(ctx, opts, cancelled, err)
}

// step runs exactly one Modeling -> Tooling cycle at opts.RecursionDepth
// and recurses directly into itself for the next depth when the model
// requested tools and the turn wasn't cancelled or entirely
// backgrounded. It never touches isLoading, temporary rules, or
// cancellation-token lifecycle — those are depth-0 concerns owned by
// SendTurn/finalize.
func (e *Engine) step(ctx context.Context, opts Options) (cancelled bool, err error) {
	pair := e.activeCancelPair(ctx)

	resp, modelErr := e.runModel(pair.Turn.Context(), pair, opts)
	if modelErr != nil {
		if pair.Turn.Cancelled() {
			return true, nil
		}
		e.history.Append(store.Message{
			ID:   store.GenerateID(),
			Role: store.RoleSystem,
			Blocks: []store.Block{
				store.NewErrorBlock("model call failed: " + modelErr.Error()),
			},
		})
		return false, modelErr
	}

	e.persistQuiet()

	toolBlocks := resp.toolBlocks
	if len(toolBlocks) == 0 {
		e.notifyTurnComplete()
		return false, nil
	}

	allBackgrounded := e.runTools(ctx, pair, toolBlocks)
	e.persistQuiet()
	e.notifyTurnComplete()
	e.handleCompression(ctx, opts)

	if pair.Turn.Cancelled() || pair.Tool.Cancelled() {
		return true, nil
	}
	if allBackgrounded {
		return false, nil
	}

	nextOpts := opts
	nextOpts.RecursionDepth = opts.RecursionDepth + 1
	return e.step(ctx, nextOpts)
}

func (e *Engine) tryAcquireLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isLoading {
		return false
	}
	e.isLoading = true
	return true
}

func (e *Engine) activeCancelPair(ctx context.Context) *cancel.Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelPair == nil {
		// Defensive: a depth>0 caller invoked directly without a depth-0
		// Preparing phase ever having run.
		e.cancelPair = cancel.NewPair(ctx)
	}
	return e.cancelPair
}

func (e *Engine) installTemporaryRules(rules []permission.Rule) {
	if e.perm == nil || len(rules) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseAllowRules = append([]permission.Rule{}, e.perm.Rules.Allow...)
	e.perm.Rules.Allow = append(append([]permission.Rule{}, e.baseAllowRules...), rules...)
}

func (e *Engine) clearTemporaryRules() {
	if e.perm == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.baseAllowRules != nil {
		e.perm.Rules.Allow = e.baseAllowRules
		e.baseAllowRules = nil
	}
}

// persistQuiet flushes newly sealed messages since the last persist.
// Failures are logged only (spec.md §7: PersistFailure is logged, the
// turn continues) — the in-memory history remains the source of truth
// for the rest of the turn regardless of durable-write outcome.
//
// A message isn't eligible until every Tool block in it is sealed
// (store.ToolStageEnd, or manually backgrounded): runModel appends the
// assistant message with its Tool blocks still streaming/running, and
// runTools mutates those same blocks in place afterward rather than
// appending new messages, so a watermark keyed on message count would
// flush the pre-execution state once and never revisit it. Waiting for
// the boundary message to seal means it's written to the JSONL
// transcript exactly once, already carrying its final result.
func (e *Engine) persistQuiet() {
	if e.store == nil {
		return
	}
	e.mu.Lock()
	from := e.persistedCount
	total := sealedBoundary(e.history.Messages, from)
	e.mu.Unlock()
	if from >= total {
		return
	}
	if err := e.store.Persist(e.cwd, e.history.SessionID, e.history.Messages[:total], from); err != nil {
		obslog.Logger().Warn("session persist failed", zap.Error(err))
		return
	}
	e.mu.Lock()
	e.persistedCount = total
	e.mu.Unlock()
}

// sealedBoundary returns the index one past the last message at or
// after from whose Tool blocks are all sealed, i.e. the longest prefix
// starting at from that's safe to persist without risking a stale,
// never-revisited write.
func sealedBoundary(messages []store.Message, from int) int {
	boundary := from
	for i := from; i < len(messages); i++ {
		if !messageSealed(&messages[i]) {
			break
		}
		boundary = i + 1
	}
	return boundary
}

// messageSealed reports whether every Tool block in m has reached a
// settled state: ToolStageEnd, or manually backgrounded (which never
// reaches End this turn, but won't be mutated further either).
func messageSealed(m *store.Message) bool {
	for i := range m.Blocks {
		b := &m.Blocks[i]
		if b.Kind == store.BlockTool && b.Stage != store.ToolStageEnd && !b.ManuallyBackgrounded {
			return false
		}
	}
	return true
}

func (e *Engine) notifyTurnComplete() {
	if e.observer != nil {
		e.observer.OnTurnComplete(e.history)
	}
}

func (e *Engine) sessionIDForLog() string {
	if e.history == nil {
		return ""
	}
	return e.history.SessionID
}
