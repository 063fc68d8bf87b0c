package store

import "testing"

func TestToolBlockStageTransitions(t *testing.T) {
	tests := []struct {
		name string
		from ToolStage
		to   ToolStage
		ok   bool
	}{
		{"streaming_to_running", ToolStageStreaming, ToolStageRunning, true},
		{"streaming_to_end", ToolStageStreaming, ToolStageEnd, true},
		{"running_to_end", ToolStageRunning, ToolStageEnd, true},
		{"end_to_running_rejected", ToolStageEnd, ToolStageRunning, false},
		{"running_to_streaming_rejected", ToolStageRunning, ToolStageStreaming, false},
		{"end_to_end_rejected", ToolStageEnd, ToolStageEnd, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewToolBlock("t1", "Bash")
			b.Stage = tt.from
			err := b.SetStage(tt.to)
			if tt.ok && err != nil {
				t.Errorf("SetStage(%s -> %s) = %v, want nil", tt.from, tt.to, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("SetStage(%s -> %s) = nil, want error", tt.from, tt.to)
			}
		})
	}
}

func TestSetStageRejectsNonToolBlock(t *testing.T) {
	b := NewTextBlock("hello")
	if err := b.SetStage(ToolStageRunning); err == nil {
		t.Error("SetStage on a Text block should error")
	}
}

func TestEndIsTerminal(t *testing.T) {
	b := NewToolBlock("t1", "Bash")
	if err := b.End("ok", "ok", true, ""); err != nil {
		t.Fatalf("End() = %v, want nil", err)
	}
	if b.Stage != ToolStageEnd {
		t.Errorf("Stage = %s, want %s", b.Stage, ToolStageEnd)
	}
	if err := b.End("again", "again", true, ""); err == nil {
		t.Error("second End() should error, block is already terminal")
	}
}

func TestAugmentResultOnlyAfterEnd(t *testing.T) {
	b := NewToolBlock("t1", "Bash")
	if err := b.AugmentResult("extra"); err == nil {
		t.Error("AugmentResult before End should error")
	}

	if err := b.End("ok", "ok", true, ""); err != nil {
		t.Fatalf("End() = %v", err)
	}
	if err := b.AugmentResult("post-hook context"); err != nil {
		t.Fatalf("AugmentResult() = %v, want nil", err)
	}
	want := "ok\npost-hook context"
	if b.ResultText != want {
		t.Errorf("ResultText = %q, want %q", b.ResultText, want)
	}
}

func TestAugmentResultEmptyIsNoop(t *testing.T) {
	b := NewToolBlock("t1", "Bash")
	_ = b.End("ok", "ok", true, "")
	if err := b.AugmentResult(""); err != nil {
		t.Fatalf("AugmentResult(\"\") = %v, want nil", err)
	}
	if b.ResultText != "ok" {
		t.Errorf("ResultText = %q, want unchanged %q", b.ResultText, "ok")
	}
}
