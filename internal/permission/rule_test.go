package permission

import "testing"

func TestParseRuleStringVariants(t *testing.T) {
	tests := []struct {
		in   string
		want Rule
	}{
		{"Bash", Rule{Kind: KindToolAny, Tool: "Bash"}},
		{"Bash(npm:*)", Rule{Kind: KindBashPrefix, Tool: "Bash", Pattern: "npm"}},
		{"Bash(npm test)", Rule{Kind: KindBashExact, Tool: "Bash", Pattern: "npm test"}},
		{"Read(src/**)", Rule{Kind: KindPath, Tool: "Read", Pattern: "src/**"}},
		{"WebFetch(domain:example.com)", Rule{Kind: KindPath, Tool: "WebFetch", Pattern: "domain:example.com"}},
		{"Bash(*)", Rule{Kind: KindToolAny, Tool: "Bash"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseRuleString(tt.in)
			if got != tt.want {
				t.Errorf("ParseRuleString(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatRuleStringRoundTrip(t *testing.T) {
	cases := []string{"Bash", "Bash(npm:*)", "Bash(npm test)", "Read(src/**)"}
	for _, s := range cases {
		r := ParseRuleString(s)
		if got := FormatRuleString(r); got != s {
			t.Errorf("FormatRuleString(ParseRuleString(%q)) = %q, want %q", s, got, s)
		}
	}
}

func TestRuleMatchesSegmentBashPrefix(t *testing.T) {
	r := ParseRuleString("Bash(npm:*)")
	if !r.MatchesSegment("npm install") {
		t.Error("expected npm:* to match 'npm install'")
	}
	if r.MatchesSegment("npx foo") {
		t.Error("did not expect npm:* to match 'npx foo'")
	}
}

func TestRuleMatchesSegmentBashExact(t *testing.T) {
	r := ParseRuleString("Bash(git status)")
	if !r.MatchesSegment("git status") {
		t.Error("expected exact match")
	}
	if r.MatchesSegment("git status --short") {
		t.Error("exact rule should not match a longer invocation")
	}
}

func TestRuleMatchesPathGlob(t *testing.T) {
	r := ParseRuleString("Read(src/**)")
	if !r.MatchesPath("src/main.go") {
		t.Error("expected glob to match nested path")
	}
	if r.MatchesPath("other/main.go") {
		t.Error("did not expect glob to match path outside src/")
	}
}

func TestRuleMatchesPathDomain(t *testing.T) {
	r := ParseRuleString("WebFetch(domain:example.com)")
	if !r.MatchesPath("https://example.com/page") {
		t.Error("expected domain rule to match URL containing domain")
	}
	if r.MatchesPath("https://other.com/page") {
		t.Error("did not expect match for unrelated domain")
	}
}

func TestEscapingRoundTrip(t *testing.T) {
	r := Rule{Kind: KindBashExact, Tool: "Bash", Pattern: "echo (hi)"}
	s := FormatRuleString(r)
	back := ParseRuleString(s)
	if back.Pattern != r.Pattern {
		t.Errorf("round-trip pattern = %q, want %q", back.Pattern, r.Pattern)
	}
}
