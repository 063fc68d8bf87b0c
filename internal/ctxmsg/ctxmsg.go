// Package ctxmsg builds the <system-reminder> context message the
// engine prepends to the first user turn of a session: project
// memory content plus the current date, and a separate git-status
// block destined for the system prompt rather than the message itself.
package ctxmsg

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// UserContext holds the pieces that get folded into a <system-reminder>
// block. Discovering ProjectMemory (CLAUDE.md-equivalent) content is the
// caller's responsibility; this package only formats what it's given.
type UserContext struct {
	ProjectMemory string // formatted project-memory content with path annotations
	CurrentDate   string // "Today's date is YYYY-MM-DD."
}

const maxStatusLen = 40000

// CollectGitStatus gathers branch, main-branch, status, and recent-commit
// information for cwd, for inclusion in the system prompt. Returns an
// empty string if cwd isn't inside a git repository.
func CollectGitStatus(cwd string) string {
	if !isGitRepo(cwd) {
		return ""
	}

	branchCh := make(chan string, 1)
	mainCh := make(chan string, 1)
	statusCh := make(chan string, 1)
	logCh := make(chan string, 1)

	go func() { branchCh <- gitCurrentBranch(cwd) }()
	go func() { mainCh <- gitMainBranch(cwd) }()
	go func() { statusCh <- gitStatusShort(cwd) }()
	go func() { logCh <- gitRecentCommits(cwd) }()

	branch := <-branchCh
	mainBranch := <-mainCh
	status := <-statusCh
	recentCommits := <-logCh

	if status == "" {
		status = "(clean)"
	}
	if len(status) > maxStatusLen {
		status = status[:maxStatusLen] + "\n... (truncated because it exceeds 40k characters. If you need more information, run \"git status\" using BashTool)"
	}

	return fmt.Sprintf(`This is the git status at the start of the conversation. Note that this status is a snapshot in time, and will not update during the conversation.
Current branch: %s

Main branch (you will usually use this for PRs): %s

Status:
%s

Recent commits:
%s`, branch, mainBranch, status, recentCommits)
}

// FormatCurrentDate returns "Today's date is YYYY-MM-DD.".
func FormatCurrentDate() string {
	return fmt.Sprintf("Today's date is %s.", time.Now().Format("2006-01-02"))
}

// BuildContextMessage renders the <system-reminder> block prepended to
// the conversation's first user message. Returns an empty string when
// ctx carries nothing to inject.
func BuildContextMessage(ctx UserContext) string {
	entries := make(map[string]string)

	if ctx.ProjectMemory != "" {
		entries["projectMemory"] = ctx.ProjectMemory
	}
	if ctx.CurrentDate != "" {
		entries["currentDate"] = ctx.CurrentDate
	}
	if len(entries) == 0 {
		return ""
	}

	var sections []string
	for _, key := range []string{"projectMemory", "currentDate"} {
		if val, ok := entries[key]; ok {
			sections = append(sections, fmt.Sprintf("# %s\n%s", key, val))
		}
	}

	return fmt.Sprintf(`<system-reminder>
As you answer the user's questions, you can use the following context:
%s

      IMPORTANT: this context may or may not be relevant to your tasks. You should not respond to this context unless it is highly relevant to your task.
</system-reminder>
`, strings.Join(sections, "\n"))
}

func isGitRepo(cwd string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func gitCurrentBranch(cwd string) string {
	cmd := exec.Command("git", "--no-optional-locks", "branch", "--show-current")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	result := strings.TrimSpace(string(out))
	if result == "" {
		cmd2 := exec.Command("git", "--no-optional-locks", "rev-parse", "--short", "HEAD")
		cmd2.Dir = cwd
		out2, err2 := cmd2.Output()
		if err2 != nil {
			return "unknown"
		}
		return strings.TrimSpace(string(out2))
	}
	return result
}

func gitMainBranch(cwd string) string {
	cmd := exec.Command("git", "--no-optional-locks", "symbolic-ref", "refs/remotes/origin/HEAD")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err == nil {
		ref := strings.TrimSpace(string(out))
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
	}

	for _, branch := range []string{"main", "master"} {
		cmd := exec.Command("git", "--no-optional-locks", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
		cmd.Dir = cwd
		if err := cmd.Run(); err == nil {
			return branch
		}
	}
	return "main"
}

func gitStatusShort(cwd string) string {
	cmd := exec.Command("git", "--no-optional-locks", "status", "--short")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func gitRecentCommits(cwd string) string {
	cmd := exec.Command("git", "--no-optional-locks", "log", "--oneline", "-n", "5")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
