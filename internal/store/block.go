package store

import "fmt"

// BlockKind discriminates the tagged variants a Block can hold. Modeling
// the block as one struct with an explicit discriminator (rather than a
// bag of nullable fields scattered across every possible shape) keeps
// mutation rules centralized: ToolStage transitions are enforced at the
// single place that mutates a Tool-kind block.
type BlockKind string

const (
	BlockText                BlockKind = "text"
	BlockReasoning           BlockKind = "reasoning"
	BlockTool                BlockKind = "tool"
	BlockDiff                BlockKind = "diff"
	BlockError               BlockKind = "error"
	BlockMemory              BlockKind = "memory"
	BlockSubagent            BlockKind = "subagent"
	BlockFileHistorySnapshot BlockKind = "file_history_snapshot"
	BlockCompress            BlockKind = "compress"
)

// ToolStage is the state machine for a Tool-kind block. Transitions are
// monotonic: streaming -> running -> end. A block in End is immutable
// except for PostToolUse augmentation of its ResultText.
type ToolStage string

const (
	ToolStageStreaming ToolStage = "streaming"
	ToolStageRunning   ToolStage = "running"
	ToolStageEnd       ToolStage = "end"
)

// canTransition reports whether moving from cur to next is a legal,
// monotonic stage transition.
func canTransition(cur, next ToolStage) bool {
	switch cur {
	case "":
		return next == ToolStageStreaming || next == ToolStageRunning
	case ToolStageStreaming:
		return next == ToolStageRunning || next == ToolStageEnd
	case ToolStageRunning:
		return next == ToolStageEnd
	case ToolStageEnd:
		return false
	}
	return false
}

// Block is one entry in a Message's content. Exactly one set of
// kind-specific fields is meaningful, selected by Kind.
type Block struct {
	Kind BlockKind

	// Text / Reasoning fields.
	Text string

	// Tool fields.
	ToolID             string // stable id, assigned by the model
	ToolName           string
	RawArguments       string // raw argument string as streamed
	ParsedArguments    map[string]any
	CompactParams      string // short human-readable summary
	Stage              ToolStage
	ResultText         string
	ShortResult        string
	Success            bool
	ErrorText          string
	ManuallyBackgrounded bool

	// Diff fields.
	DiffPath string
	DiffText string // unified diff text; nothing in this module fills it in

	// Error fields reuse Text.

	// Memory fields reuse Text.

	// Subagent fields.
	SubagentID   string
	SubagentType string

	// FileHistorySnapshot fields.
	SnapshotPath string
	SnapshotID   string

	// Compress fields.
	CompressSummary string
	CompressUsage   *Usage
}

// NewTextBlock creates a Text-kind block.
func NewTextBlock(text string) Block {
	return Block{Kind: BlockText, Text: text}
}

// NewReasoningBlock creates a Reasoning-kind block.
func NewReasoningBlock(text string) Block {
	return Block{Kind: BlockReasoning, Text: text}
}

// NewErrorBlock creates an Error-kind block.
func NewErrorBlock(text string) Block {
	return Block{Kind: BlockError, Text: text}
}

// NewToolBlock creates a Tool-kind block in its initial stage. The stage
// defaults to streaming, matching "created lazily on first streaming tool
// chunk" in the turn engine's message lifecycle; callers that create a
// block directly in non-streaming mode should call SetStage(Running)
// immediately after.
func NewToolBlock(id, name string) *Block {
	return &Block{Kind: BlockTool, ToolID: id, ToolName: name, Stage: ToolStageStreaming}
}

// SetStage advances a Tool block's stage. Returns an error if the
// transition is not monotonic (e.g. going from End back to Running).
func (b *Block) SetStage(next ToolStage) error {
	if b.Kind != BlockTool {
		return fmt.Errorf("SetStage: block is not a Tool block (kind=%s)", b.Kind)
	}
	if !canTransition(b.Stage, next) {
		return fmt.Errorf("SetStage: illegal transition %s -> %s for tool %s", b.Stage, next, b.ToolID)
	}
	b.Stage = next
	return nil
}

// End finalizes a Tool block, recording the result. It is the only
// function permitted to move a block into ToolStageEnd, and it is a
// terminal, monotonic transition: calling it twice on an already-ended
// block is a no-op that reports an error, except that PostToolUse hooks
// are allowed to append to ResultText afterward via AugmentResult.
func (b *Block) End(resultText, shortResult string, success bool, errText string) error {
	if err := b.SetStage(ToolStageEnd); err != nil {
		return err
	}
	b.ResultText = resultText
	b.ShortResult = shortResult
	b.Success = success
	b.ErrorText = errText
	return nil
}

// AugmentResult appends PostToolUse-provided additional context to an
// already-ended Tool block's result text. This is the one permitted
// mutation of an End-stage block (spec invariant: "a block in end is
// immutable except for post-hook augmentation of its result text").
func (b *Block) AugmentResult(additionalContext string) error {
	if b.Kind != BlockTool {
		return fmt.Errorf("AugmentResult: not a Tool block")
	}
	if b.Stage != ToolStageEnd {
		return fmt.Errorf("AugmentResult: tool %s has not reached end stage", b.ToolID)
	}
	if additionalContext == "" {
		return nil
	}
	b.ResultText += "\n" + additionalContext
	return nil
}
