package ctxmsg

import (
	"strings"
	"testing"
)

func TestBuildContextMessageEmpty(t *testing.T) {
	got := BuildContextMessage(UserContext{})
	if got != "" {
		t.Errorf("empty context should return empty string, got: %q", got)
	}
}

func TestBuildContextMessageWithProjectMemory(t *testing.T) {
	ctx := UserContext{ProjectMemory: "Some project instructions"}
	got := BuildContextMessage(ctx)
	if !strings.Contains(got, "<system-reminder>") {
		t.Error("should contain system-reminder tag")
	}
	if !strings.Contains(got, "# projectMemory") {
		t.Error("should contain projectMemory section header")
	}
	if !strings.Contains(got, "Some project instructions") {
		t.Error("should contain project-memory content")
	}
	if !strings.Contains(got, "IMPORTANT: this context may or may not be relevant") {
		t.Error("should contain importance note")
	}
}

func TestBuildContextMessageWithCurrentDate(t *testing.T) {
	ctx := UserContext{CurrentDate: "Today's date is 2026-02-26."}
	got := BuildContextMessage(ctx)
	if !strings.Contains(got, "# currentDate") {
		t.Error("should contain currentDate section header")
	}
	if !strings.Contains(got, "2026-02-26") {
		t.Error("should contain date")
	}
}

func TestBuildContextMessageSectionOrder(t *testing.T) {
	ctx := UserContext{
		ProjectMemory: "# Project\nSome instructions",
		CurrentDate:   "Today's date is 2026-02-26.",
	}
	got := BuildContextMessage(ctx)

	if !strings.HasPrefix(got, "<system-reminder>") {
		t.Error("should start with <system-reminder>")
	}
	if !strings.Contains(got, "</system-reminder>") {
		t.Error("should contain closing </system-reminder>")
	}

	memIdx := strings.Index(got, "# projectMemory")
	dateIdx := strings.Index(got, "# currentDate")
	if memIdx == -1 || dateIdx == -1 {
		t.Fatal("both sections should be present")
	}
	if memIdx >= dateIdx {
		t.Error("sections should appear in order: projectMemory, currentDate")
	}
}

func TestFormatCurrentDate(t *testing.T) {
	date := FormatCurrentDate()
	if !strings.HasPrefix(date, "Today's date is ") {
		t.Errorf("should start with \"Today's date is\", got: %q", date)
	}
	if !strings.HasSuffix(date, ".") {
		t.Errorf("should end with period, got: %q", date)
	}
}

func TestCollectGitStatusNonRepo(t *testing.T) {
	got := CollectGitStatus(t.TempDir())
	if got != "" {
		t.Errorf("expected empty status outside a git repo, got: %q", got)
	}
}
