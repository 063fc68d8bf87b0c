package hooks

import (
	"strings"

	"github.com/tidwall/gjson"
)

// parseHookOutput is the single place that inspects a hook's raw stdout.
// It recognises a well-formed JSON object carrying any of: continue
// (bool), stopReason (string), systemMessage (string), and an
// event-specific hookSpecificData envelope
// (permissionDecision/permissionDecisionReason/updatedInput for
// PreToolUse, additionalContext for PostToolUse). gjson is used instead
// of encoding/json because
// hooks are external processes whose JSON may carry forward-compatible
// extra fields we don't model as a struct; gjson path lookups simply
// ignore anything unrecognised rather than failing to decode.
//
// ok is false when stdout is not a JSON object at all, signalling the
// caller should fall back to exit-code semantics instead.
func parseHookOutput(stdout string) (Decision, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return Decision{}, false
	}
	root := gjson.Parse(trimmed)
	if !root.IsObject() {
		return Decision{}, false
	}

	d := Decision{Continue: true}
	if v := root.Get("continue"); v.Exists() {
		d.Continue = v.Bool()
	}
	if v := root.Get("stopReason"); v.Exists() {
		d.StopReason = v.String()
	}
	if v := root.Get("systemMessage"); v.Exists() {
		d.SystemMessage = v.String()
	}
	if v := root.Get("hookSpecificData.permissionDecision"); v.Exists() {
		d.PermissionDecision = v.String()
	}
	if v := root.Get("hookSpecificData.permissionDecisionReason"); v.Exists() {
		d.PermissionDecisionReason = v.String()
	}
	if v := root.Get("hookSpecificData.updatedInput"); v.Exists() && v.IsObject() {
		m := map[string]any{}
		v.ForEach(func(key, value gjson.Result) bool {
			m[key.String()] = value.Value()
			return true
		})
		d.UpdatedInput = m
	}
	if v := root.Get("hookSpecificData.additionalContext"); v.Exists() {
		d.AdditionalContext = v.String()
	}
	return d, true
}
