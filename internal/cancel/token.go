// Package cancel implements the two-level hierarchical cancellation tokens
// shared by one turn of the agentic loop: aborting the whole turn implies
// aborting in-flight tools, but aborting tools does not imply aborting the
// turn.
package cancel

import "context"

// Kind identifies why a cancellable operation observed cancellation.
type Kind int

const (
	// KindNone means no cancellation has occurred.
	KindNone Kind = iota
	// KindTurn means the whole turn (model call included) was aborted.
	KindTurn
	// KindTool means only in-flight tool execution was aborted.
	KindTool
)

// Token wraps a context and reports which kind of cancellation tripped it.
// Abort is idempotent; observing cancellation after successful completion
// is a no-op for the caller (the context is simply already cancelled).
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	kind   Kind
}

func newToken(parent context.Context, kind Kind) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel, kind: kind}
}

// Context returns the context observed by operations guarded by this token.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Abort cancels the token. Safe to call multiple times.
func (t *Token) Abort() {
	t.cancel()
}

// Cancelled reports whether this token has tripped.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Kind reports which kind of cancellation this token represents when
// tripped, or KindNone if it has not tripped.
func (t *Token) Kind() Kind {
	if !t.Cancelled() {
		return KindNone
	}
	return t.kind
}

// Pair bundles the turn-level and tool-level cancellation tokens for one
// turn. A depth>0 recursive invocation reuses the same *Pair instance as
// depth 0 — never clones it — so that aborting either token is visible to
// every recursion level sharing the turn.
type Pair struct {
	Turn *Token
	Tool *Token
}

// NewPair creates a fresh turn/tool token pair rooted at parent. The tool
// token is derived from the turn token's context so that aborting the turn
// also trips the tool token (turn abort implies tool abort); the reverse
// does not hold since the tool token's cancel func is independent.
func NewPair(parent context.Context) *Pair {
	turn := newToken(parent, KindTurn)
	tool := newToken(turn.ctx, KindTool)
	return &Pair{Turn: turn, Tool: tool}
}

// AbortTurn aborts both the turn and the tool token, since aborting the
// turn implies aborting any in-flight tools.
func (p *Pair) AbortTurn() {
	p.Turn.Abort()
}

// AbortTools aborts only the tool token; the turn (and any in-flight model
// call) continues.
func (p *Pair) AbortTools() {
	p.Tool.Abort()
}

// Clear releases both tokens. Called by the turn finaliser at depth 0.
func (p *Pair) Clear() {
	p.Turn.Abort()
	p.Tool.Abort()
}
