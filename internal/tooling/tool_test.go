package tooling

import (
	"testing"
)

type formattingTool struct{ stubTool }

func (f *formattingTool) FormatCompactParams(args map[string]any) string {
	if cmd, ok := args["command"].(string); ok {
		return cmd
	}
	return ""
}

func TestFormatCompactParamsUsesFormatterWhenPresent(t *testing.T) {
	tool := &formattingTool{stubTool: stubTool{name: "Bash"}}
	got := FormatCompactParams(tool, map[string]any{"command": "ls -la"})
	if got != "ls -la" {
		t.Errorf("got %q, want ls -la", got)
	}
}

func TestFormatCompactParamsFallsBackToGeneric(t *testing.T) {
	tool := &stubTool{name: "Plain"}
	got := FormatCompactParams(tool, map[string]any{"a": "b"})
	if got != `{"a":"b"}` {
		t.Errorf("got %q, want generic JSON", got)
	}
}

func TestGenericCompactParamsEmptyArgs(t *testing.T) {
	got := genericCompactParams(nil)
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestGenericCompactParamsTruncates(t *testing.T) {
	args := map[string]any{"value": "this is a very long string that should exceed the eighty character truncation limit for sure"}
	got := genericCompactParams(args)
	if len(got) > 83 {
		t.Errorf("got length %d, want <= 83 (80 + ...)", len(got))
	}
}
