package permission

import (
	"path/filepath"
	"regexp"
	"strings"
)

// splitOpRe splits a Bash command string into its pipeline/sequence
// segments on &&, ||, |, and ; — the operators that chain independently
// executable commands.
var splitOpRe = regexp.MustCompile(`&&|\|\||\||;`)

// SplitSegments splits cmd into its pipeline/sequence segments and
// strips each segment's leading environment-variable assignments and
// redirections, per the Bash rule-matching contract.
func SplitSegments(cmd string) []string {
	raw := splitOpRe.Split(cmd, -1)
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		s = stripAssignmentsAndRedirects(strings.TrimSpace(s))
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// assignmentRe matches a leading "NAME=value" environment assignment.
var assignmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S*\s*`)

func stripAssignmentsAndRedirects(s string) string {
	for {
		trimmed := assignmentRe.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = strings.TrimSpace(trimmed)
	}
	// Strip trailing/embedded simple redirections (">", ">>", "<", "2>", etc.)
	// by cutting at the first redirection operator not part of the command.
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, ">") || strings.HasPrefix(f, "<") ||
			strings.HasPrefix(f, "2>") || strings.HasPrefix(f, "&>") {
			break
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// safeCommands are bash base commands implicitly allowed regardless of
// configured rules: they are incapable of mutating state.
var safeCommands = map[string]bool{
	"pwd": true, "true": true, "false": true,
}

// pathRestrictedSafeCommands are allowed only when every path-like
// argument resolves inside the Safe Zone.
var pathRestrictedSafeCommands = map[string]bool{
	"cd": true, "ls": true,
}

// blacklistedCommands are always treated as unsafe and excluded from
// rule expansion, regardless of any configured allow rule.
var blacklistedCommands = map[string]bool{
	"rm": true, "dd": true, "mkfs": true, "shutdown": true, "reboot": true,
	"sudo": true, "su": true, "chmod": true, "chown": true,
}

// IsSafeSegment reports whether a single command segment is implicitly
// allowed without consulting configured rules.
func IsSafeSegment(segment string, zone *SafeZone) bool {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return true
	}
	base := filepath.Base(fields[0])
	if safeCommands[base] {
		return true
	}
	if pathRestrictedSafeCommands[base] {
		if zone == nil {
			return false
		}
		for _, arg := range fields[1:] {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			if !zone.Contains(arg) {
				return false
			}
		}
		return true
	}
	return false
}

// IsBlacklistedSegment reports whether a segment's base command is
// always treated as unsafe and excluded from rule expansion.
func IsBlacklistedSegment(segment string) bool {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return false
	}
	return blacklistedCommands[filepath.Base(fields[0])]
}

// AllSegmentsAllowed reports whether every segment of cmd is covered —
// either implicitly safe, or matched by at least one of the given
// allow-rules — which is the "allow-rule matches" condition for Bash.
func AllSegmentsAllowed(cmd string, rules []Rule, zone *SafeZone) bool {
	segments := SplitSegments(cmd)
	if len(segments) == 0 {
		return true
	}
	for _, seg := range segments {
		if IsSafeSegment(seg, zone) {
			continue
		}
		if !anyRuleMatchesSegment(rules, seg) {
			return false
		}
	}
	return true
}

// AnySegmentDenied reports whether any segment of cmd is matched by one
// of the given deny-rules — deny wins on any single matching segment.
func AnySegmentDenied(cmd string, rules []Rule) (bool, Rule) {
	for _, seg := range SplitSegments(cmd) {
		for _, r := range rules {
			if r.MatchesSegment(seg) {
				return true, r
			}
		}
	}
	return false, Rule{}
}

func anyRuleMatchesSegment(rules []Rule, segment string) bool {
	for _, r := range rules {
		if r.MatchesSegment(segment) {
			return true
		}
	}
	return false
}

// smartPrefix derives the prefix used for rule expansion: the base
// command plus its first argument, whatever that argument is (e.g.
// "git status -s" -> "git status", "ls -la" -> "ls -la", "npm" -> "npm").
func smartPrefix(segment string) string {
	fields := strings.Fields(segment)
	if len(fields) <= 1 {
		return segment
	}
	return fields[0] + " " + fields[1]
}

// Expand computes the set of rules to persist for "allow similar next
// time": each non-safe, in-bounds segment becomes either a
// Bash(smartPrefix:*) or a Bash(exactSegment) rule; safe and
// blacklisted segments are omitted since they need no rule or must
// never be auto-approved.
func Expand(cmd string, zone *SafeZone) []Rule {
	var rules []Rule
	seen := map[string]bool{}
	for _, seg := range SplitSegments(cmd) {
		if IsSafeSegment(seg, zone) || IsBlacklistedSegment(seg) {
			continue
		}
		fields := strings.Fields(seg)
		var r Rule
		if len(fields) > 1 {
			r = Rule{Kind: KindBashPrefix, Tool: "Bash", Pattern: smartPrefix(seg)}
		} else {
			r = Rule{Kind: KindBashExact, Tool: "Bash", Pattern: seg}
		}
		key := FormatRuleString(r)
		if !seen[key] {
			seen[key] = true
			rules = append(rules, r)
		}
	}
	return rules
}

// readOnlyCommands are bash base commands that only read state.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true,
	"less": true, "more": true, "wc": true, "file": true,
	"which": true, "whoami": true, "hostname": true,
	"pwd": true, "echo": true, "printf": true, "date": true,
	"uname": true, "env": true, "printenv": true,
	"id": true, "groups": true, "df": true, "du": true,
	"free": true, "uptime": true, "ps": true, "top": true,
	"find": true, "locate": true, "grep": true, "rg": true,
	"ag": true, "ack": true, "diff": true, "stat": true,
	"type": true, "command": true, "hash": true,
}

var readOnlyGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true,
	"branch": true, "tag": true, "remote": true,
	"describe": true, "ls-files": true, "ls-tree": true,
	"cat-file": true, "rev-parse": true, "rev-list": true,
	"name-rev": true, "shortlog": true, "blame": true,
	"config": true,
}

// IsReadOnlyCommand reports whether a bash command is guaranteed not to
// mutate state: no pipe, no redirection, and a recognised read-only
// base command (or a read-only git subcommand).
func IsReadOnlyCommand(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return false
	}
	if strings.Contains(cmd, "|") || strings.Contains(cmd, ">") {
		return false
	}
	fields := strings.Fields(cmd)
	base := filepath.Base(fields[0])
	if readOnlyCommands[base] {
		return true
	}
	if base == "git" && len(fields) > 1 {
		return readOnlyGitSubcommands[fields[1]]
	}
	return false
}

var downloadCommands = map[string]bool{"curl": true, "wget": true}
var shellInterpreters = map[string]bool{"sh": true, "bash": true, "zsh": true}

// SecurityAdvisory inspects a raw Bash command for shapes that look
// like a prompt-injected fragment, a continuation line, or a dangerous
// download-to-shell pipe. It never denies on its own: the returned
// string (empty if nothing suspicious was found) is surfaced only as an
// advisory note on an `ask` decision, per the engine's authoritative
// 8-step algorithm.
func SecurityAdvisory(cmd string) string {
	if strings.HasPrefix(cmd, "\t") {
		return "command appears to be an incomplete fragment (starts with tab)"
	}
	if strings.HasPrefix(cmd, "-") {
		return "command appears to be an incomplete fragment (starts with flags)"
	}
	if len(cmd) > 0 {
		switch cmd[0] {
		case '&', '|', ';', '>', '<':
			return "command appears to be a continuation line (starts with operator)"
		}
	}
	lower := strings.ToLower(strings.TrimSpace(cmd))
	if lower == "" {
		return ""
	}
	if reason := dangerousPipeReason(lower); reason != "" {
		return reason
	}
	if strings.HasPrefix(lower, "eval ") || strings.Contains(lower, " eval ") {
		return "eval can execute arbitrary code"
	}
	return ""
}

func dangerousPipeReason(lowerCmd string) string {
	segments := strings.Split(lowerCmd, "|")
	if len(segments) < 2 {
		return ""
	}
	for i := 0; i < len(segments)-1; i++ {
		left := strings.Fields(strings.TrimSpace(segments[i]))
		right := strings.Fields(strings.TrimSpace(segments[i+1]))
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		leftCmd := filepath.Base(left[0])
		rightCmd := filepath.Base(right[0])
		if downloadCommands[leftCmd] && shellInterpreters[rightCmd] {
			return "piping " + leftCmd + " to " + rightCmd + " is dangerous"
		}
	}
	return ""
}
