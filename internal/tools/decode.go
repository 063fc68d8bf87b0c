package tools

import "encoding/json"

// decodeArgs re-encodes a tool call's parsed argument map into its
// typed input struct. Tool arguments arrive as map[string]any (already
// validated as parseable JSON by the engine before a tool ever runs),
// so round-tripping through json.Marshal/Unmarshal is cheaper than
// hand-rolling per-field type assertions for every tool.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
