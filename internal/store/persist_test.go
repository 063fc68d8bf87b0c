package store

import (
	"path/filepath"
	"testing"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	cwd := "/home/user/project"
	id := GenerateID()

	h := NewHistory(id)
	h.Append(Message{ID: "m1", Role: RoleUser, Blocks: []Block{NewTextBlock("hi")}})
	if err := s.Persist(cwd, id, h.Messages, 0); err != nil {
		t.Fatalf("Persist() = %v", err)
	}

	tb := NewToolBlock("tool-1", "Bash")
	_ = tb.SetStage(ToolStageRunning)
	_ = tb.End("output", "output", true, "")
	h.Append(Message{ID: "m2", Role: RoleAssistant, Blocks: []Block{NewTextBlock("running it"), *tb}})
	if err := s.Persist(cwd, id, h.Messages, 1); err != nil {
		t.Fatalf("second Persist() = %v", err)
	}

	loaded, err := s.Load(cwd, id)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("len(loaded.Messages) = %d, want 2", len(loaded.Messages))
	}
	if loaded.Messages[1].Blocks[1].ToolName != "Bash" {
		t.Errorf("ToolName = %q, want %q", loaded.Messages[1].Blocks[1].ToolName, "Bash")
	}
	if loaded.Messages[1].Blocks[1].Stage != ToolStageEnd {
		t.Errorf("Stage = %q, want %q", loaded.Messages[1].Blocks[1].Stage, ToolStageEnd)
	}
}

func TestPersistAppendsOnlyNewLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	cwd := "/home/user/project"
	id := GenerateID()

	msgs := []Message{{ID: "m1", Role: RoleUser}}
	if err := s.Persist(cwd, id, msgs, 0); err != nil {
		t.Fatalf("Persist() = %v", err)
	}
	path, _ := s.Create(cwd, id)

	msgs = append(msgs, Message{ID: "m2", Role: RoleAssistant})
	if err := s.Persist(cwd, id, msgs, 1); err != nil {
		t.Fatalf("Persist() = %v", err)
	}

	loaded, err := s.Load(cwd, id)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("len(loaded.Messages) = %d, want 2", len(loaded.Messages))
	}
	if filepath.Ext(path) != ".jsonl" {
		t.Errorf("session file extension = %q, want .jsonl", filepath.Ext(path))
	}
}

func TestListAndMostRecent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	cwd := "/home/user/project"

	if _, err := s.Create(cwd, "s1"); err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := s.Persist(cwd, "s1", []Message{{ID: "m1", Role: RoleUser}}, 0); err != nil {
		t.Fatalf("Persist() = %v", err)
	}

	recent, err := s.MostRecent(cwd)
	if err != nil {
		t.Fatalf("MostRecent() = %v", err)
	}
	if recent != "s1" {
		t.Errorf("MostRecent() = %q, want %q", recent, "s1")
	}
}

func TestMostRecentEmptyReturnsEmptyString(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	recent, err := s.MostRecent("/nonexistent/cwd")
	if err != nil {
		t.Fatalf("MostRecent() = %v", err)
	}
	if recent != "" {
		t.Errorf("MostRecent() = %q, want empty", recent)
	}
}
