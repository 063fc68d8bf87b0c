package permission

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Action is the behavior a rule attaches to a matching tool call.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Kind discriminates the rule DSL's variants. A rule is one of:
// "any tool call to this tool", a Bash command pattern (exact or
// prefix), or a glob matched against a path-taking tool's designated
// input field.
type Kind int

const (
	KindToolAny Kind = iota
	KindBashExact
	KindBashPrefix
	KindPath
)

// Rule is one configured or session-level permission rule, parsed from
// and serialized back to the textual settings.json form, e.g.
// "Bash(npm:*)", "Read(src/**)", "WebFetch(domain:example.com)".
type Rule struct {
	Kind    Kind
	Tool    string
	Pattern string // empty for KindToolAny
}

// pathField names the single input field each path-taking tool's rule
// pattern is matched against.
var pathField = map[string]string{
	"Read": "file_path", "FileRead": "file_path",
	"Edit": "file_path", "FileEdit": "file_path",
	"Write": "file_path", "FileWrite": "file_path",
	"NotebookEdit": "notebook_path",
	"Glob":         "path",
	"Grep":         "path",
}

// ParseRuleString parses the settings.json textual rule form into a Rule.
//
//	"Bash"                          -> {Kind: KindToolAny, Tool: "Bash"}
//	"Bash(npm:*)"                   -> {Kind: KindBashPrefix, Tool: "Bash", Pattern: "npm"}
//	"Bash(npm test)"                -> {Kind: KindBashExact, Tool: "Bash", Pattern: "npm test"}
//	"Read(src/**)"                  -> {Kind: KindPath, Tool: "Read", Pattern: "src/**"}
//	"WebFetch(domain:example.com)"  -> {Kind: KindPath, Tool: "WebFetch", Pattern: "domain:example.com"}
func ParseRuleString(s string) Rule {
	parenIdx := findUnescaped(s, '(')
	if parenIdx == -1 {
		return Rule{Kind: KindToolAny, Tool: s}
	}
	closeIdx := findLastUnescaped(s, ')')
	if closeIdx == -1 || closeIdx <= parenIdx || closeIdx != len(s)-1 {
		return Rule{Kind: KindToolAny, Tool: s}
	}

	tool := s[:parenIdx]
	if tool == "" {
		return Rule{Kind: KindToolAny, Tool: s}
	}

	content := s[parenIdx+1 : closeIdx]
	if content == "" || content == "*" {
		return Rule{Kind: KindToolAny, Tool: tool}
	}
	content = unescapeRuleContent(content)

	if tool != "Bash" {
		return Rule{Kind: KindPath, Tool: tool, Pattern: content}
	}
	if strings.HasSuffix(content, ":*") {
		return Rule{Kind: KindBashPrefix, Tool: tool, Pattern: strings.TrimSuffix(content, ":*")}
	}
	return Rule{Kind: KindBashExact, Tool: tool, Pattern: content}
}

// FormatRuleString is the inverse of ParseRuleString.
func FormatRuleString(r Rule) string {
	switch r.Kind {
	case KindToolAny:
		return r.Tool
	case KindBashPrefix:
		return r.Tool + "(" + escapeRuleContent(r.Pattern) + ":*)"
	default:
		return r.Tool + "(" + escapeRuleContent(r.Pattern) + ")"
	}
}

func findUnescaped(s string, ch byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ch && evenBackslashesBefore(s, i) {
			return i
		}
	}
	return -1
}

func findLastUnescaped(s string, ch byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ch && evenBackslashesBefore(s, i) {
			return i
		}
	}
	return -1
}

func evenBackslashesBefore(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 0
}

func unescapeRuleContent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			next := s[i+1]
			if next == '(' || next == ')' || next == '\\' {
				b.WriteByte(next)
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeRuleContent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '(' || s[i] == ')' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// MatchesSegment reports whether a single Bash command segment matches
// this rule. Only meaningful for KindBashExact/KindBashPrefix rules.
func (r Rule) MatchesSegment(segment string) bool {
	switch r.Kind {
	case KindBashExact:
		return wildcardMatch(r.Pattern, segment)
	case KindBashPrefix:
		if segment == r.Pattern {
			return true
		}
		if strings.HasPrefix(segment, r.Pattern+" ") {
			return true
		}
		return wildcardMatch(r.Pattern, segment)
	default:
		return false
	}
}

// MatchesPath reports whether this rule's glob matches value, which is
// the content of the designated path-ish field for r.Tool. WebFetch's
// "domain:" pseudo-glob is matched by substring containment against the
// extracted field (a URL).
func (r Rule) MatchesPath(value string) bool {
	if r.Kind != KindPath || value == "" {
		return false
	}
	if strings.HasPrefix(r.Pattern, "domain:") {
		return strings.Contains(value, strings.TrimPrefix(r.Pattern, "domain:"))
	}
	if matched, err := doublestar.Match(r.Pattern, value); err == nil && matched {
		return true
	}
	if matched, err := doublestar.Match(r.Pattern, filepath.Base(value)); err == nil && matched {
		return true
	}
	return false
}

// FieldForTool returns the input field name r's pattern is matched
// against for path-taking tools (empty for Bash, which matches the
// whole command instead).
func FieldForTool(tool string) string {
	return pathField[tool]
}

// wildcardMatch is simple glob matching where '*' matches any sequence
// (including spaces) and '?' matches one character. Path separators are
// not special, since Bash command text isn't a filesystem path.
func wildcardMatch(pattern, value string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	return wildcardMatchAt(pattern, value, 0, 0)
}

func wildcardMatchAt(pattern, value string, pi, vi int) bool {
	for pi < len(pattern) && vi < len(value) {
		switch pattern[pi] {
		case '*':
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for vi <= len(value) {
				if wildcardMatchAt(pattern, value, pi, vi) {
					return true
				}
				vi++
			}
			return false
		case '?':
			pi++
			vi++
		default:
			if pattern[pi] != value[vi] {
				return false
			}
			pi++
			vi++
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern) && vi == len(value)
}
