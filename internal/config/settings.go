// Package config handles settings loading and merging: the five-level
// settings.json hierarchy the turn engine's collaborators (permission
// engine, compressor, hooks) are configured from.
//
// Settings are loaded from five levels (highest priority first):
//  1. Managed — /etc/claude/settings.json
//  2. CLI flags — applied after loading (not handled here)
//  3. Local — .claude/settings.local.json (gitignored, per-project)
//  4. Project — .claude/settings.json (committed, per-project)
//  5. User — ~/.claude/settings.json (global)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/agent-turn-engine/internal/hooks"
	"github.com/anthropics/agent-turn-engine/internal/permission"
)

// Settings holds merged configuration from all levels, ready to build
// the turn engine's collaborators from.
type Settings struct {
	Permissions permission.RuleSet `json:"-"`
	DefaultMode permission.Mode    `json:"-"`

	Model    string            `json:"model,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Hooks    hooks.Config      `json:"-"`
	RawHooks json.RawMessage   `json:"hooks,omitempty"`

	// Engine-facing tunables.
	MaxInputTokens        int      `json:"maxInputTokens,omitempty"`        // compressor ceiling override, 0 means use the default
	AdditionalDirectories []string `json:"additionalDirectories,omitempty"` // extra Safe Zone roots beyond cwd

	// Ambient preferences.
	AutoCompactEnabled *bool `json:"autoCompactEnabled,omitempty"`
	Verbose            *bool `json:"verbose,omitempty"`
	ThinkingEnabled    *bool `json:"alwaysThinkingEnabled,omitempty"`
	RespectGitignore   *bool `json:"respectGitignore,omitempty"`
	FastMode           *bool `json:"fastMode,omitempty"`
}

// jsPermissions is the settings.json "permissions" object shape:
//
//	{ "allow": ["Bash(npm:*)", "Read"], "deny": ["Bash(rm *)"], "ask": ["Write"],
//	  "defaultMode": "acceptEdits", "additionalDirectories": ["../shared"] }
type jsPermissions struct {
	Allow                 []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny                  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	Ask                   []string `json:"ask,omitempty" yaml:"ask,omitempty"`
	DefaultMode           string   `json:"defaultMode,omitempty" yaml:"defaultMode,omitempty"`
	AdditionalDirectories []string `json:"additionalDirectories,omitempty" yaml:"additionalDirectories,omitempty"`
}

// rawSettings is the on-disk shape, deserialized before the
// permissions/hooks sub-objects are parsed into their own packages'
// types. A level may be written as JSON or YAML; hooks stays a raw
// JSON blob either way since hooks.Config is unmarshaled from it
// separately, so a YAML settings file nests its hooks block as plain
// YAML mappings that get re-encoded to JSON before that second pass.
type rawSettings struct {
	Permissions           jsPermissions     `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Model                 string            `json:"model,omitempty" yaml:"model,omitempty"`
	Env                   map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Hooks                 json.RawMessage   `json:"hooks,omitempty" yaml:"-"`
	HooksYAML             map[string]any    `json:"-" yaml:"hooks,omitempty"`
	MaxInputTokens        int               `json:"maxInputTokens,omitempty" yaml:"maxInputTokens,omitempty"`
	AdditionalDirectories []string          `json:"additionalDirectories,omitempty" yaml:"additionalDirectories,omitempty"`
	AutoCompactEnabled    *bool             `json:"autoCompactEnabled,omitempty" yaml:"autoCompactEnabled,omitempty"`
	Verbose               *bool             `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	ThinkingEnabled       *bool             `json:"alwaysThinkingEnabled,omitempty" yaml:"alwaysThinkingEnabled,omitempty"`
	RespectGitignore      *bool             `json:"respectGitignore,omitempty" yaml:"respectGitignore,omitempty"`
	FastMode              *bool             `json:"fastMode,omitempty" yaml:"fastMode,omitempty"`
}

// LoadSettings loads and merges settings from all five levels. The
// merge order is user -> project -> local -> managed, each level
// overriding the previous one; permission rules are concatenated
// rather than replaced, with higher-priority levels placed first so
// the permission engine's first-match-wins algorithm favors them.
func LoadSettings(cwd string) (*Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return &Settings{}, nil // non-fatal: use empty settings
	}

	merged := &Settings{}
	for _, base := range settingsBases(home, cwd) {
		path, ok := resolveSettingsFile(base)
		if !ok {
			continue
		}
		layer, err := loadSettingsFile(path)
		if err != nil {
			continue // file doesn't exist or is invalid — skip
		}
		merged = mergeSettings(merged, layer)
	}

	return merged, nil
}

// settingsBases returns settings file paths, extension omitted, from
// lowest to highest priority. Each base resolves to whichever of
// base.json / base.yaml / base.yml exists on disk (in that order), so
// a project can commit either format at any level.
func settingsBases(home, cwd string) []string {
	return []string{
		filepath.Join(home, ".claude", "settings"),      // 5. User
		filepath.Join(cwd, ".claude", "settings"),       // 4. Project
		filepath.Join(cwd, ".claude", "settings.local"), // 3. Local
		"/etc/claude/settings",                          // 1. Managed
	}
}

// resolveSettingsFile finds the first existing file for base among its
// supported extensions.
func resolveSettingsFile(base string) (string, bool) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// loadSettingsFile reads and parses a single settings file, JSON or
// YAML depending on its extension.
func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw rawSettings
	isYAML := strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
	if isYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw.HooksYAML != nil {
			encoded, err := json.Marshal(raw.HooksYAML)
			if err != nil {
				return nil, err
			}
			raw.Hooks = encoded
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	s := &Settings{
		Model:                 raw.Model,
		Env:                   raw.Env,
		RawHooks:              raw.Hooks,
		MaxInputTokens:        raw.MaxInputTokens,
		AdditionalDirectories: raw.AdditionalDirectories,
		AutoCompactEnabled:    raw.AutoCompactEnabled,
		Verbose:               raw.Verbose,
		ThinkingEnabled:       raw.ThinkingEnabled,
		RespectGitignore:      raw.RespectGitignore,
		FastMode:              raw.FastMode,
		Permissions:           parsePermissions(raw.Permissions),
	}
	if raw.Permissions.DefaultMode != "" {
		s.DefaultMode = permission.Mode(raw.Permissions.DefaultMode)
	}
	if len(raw.Permissions.AdditionalDirectories) > 0 {
		s.AdditionalDirectories = append(s.AdditionalDirectories, raw.Permissions.AdditionalDirectories...)
	}
	if raw.Hooks != nil {
		var hc hooks.Config
		if err := json.Unmarshal(raw.Hooks, &hc); err == nil {
			s.Hooks = hc
		}
	}

	return s, nil
}

// parsePermissions parses a jsPermissions block into the permission
// package's own RuleSet, using its ParseRuleString rather than a
// config-local rule format.
func parsePermissions(jp jsPermissions) permission.RuleSet {
	var rs permission.RuleSet
	for _, s := range jp.Allow {
		rs.Allow = append(rs.Allow, permission.ParseRuleString(s))
	}
	for _, s := range jp.Deny {
		rs.Deny = append(rs.Deny, permission.ParseRuleString(s))
	}
	for _, s := range jp.Ask {
		rs.Ask = append(rs.Ask, permission.ParseRuleString(s))
	}
	return rs
}

// mergeSettings merges overlay on top of base: scalar fields from
// overlay replace base when set, permission rules are concatenated
// with overlay rules first (higher priority), and env maps are
// deep-merged with overlay winning per key.
func mergeSettings(base, overlay *Settings) *Settings {
	result := &Settings{}

	result.Model = base.Model
	if overlay.Model != "" {
		result.Model = overlay.Model
	}

	result.Permissions.Allow = append(append([]permission.Rule{}, overlay.Permissions.Allow...), base.Permissions.Allow...)
	result.Permissions.Deny = append(append([]permission.Rule{}, overlay.Permissions.Deny...), base.Permissions.Deny...)
	result.Permissions.Ask = append(append([]permission.Rule{}, overlay.Permissions.Ask...), base.Permissions.Ask...)

	result.DefaultMode = base.DefaultMode
	if overlay.DefaultMode != "" {
		result.DefaultMode = overlay.DefaultMode
	}

	result.AdditionalDirectories = append(append([]string{}, base.AdditionalDirectories...), overlay.AdditionalDirectories...)

	result.Env = make(map[string]string)
	for k, v := range base.Env {
		result.Env[k] = v
	}
	for k, v := range overlay.Env {
		result.Env[k] = v
	}

	result.Hooks = base.Hooks
	if overlay.RawHooks != nil {
		result.Hooks = overlay.Hooks
		result.RawHooks = overlay.RawHooks
	} else {
		result.RawHooks = base.RawHooks
	}

	result.MaxInputTokens = base.MaxInputTokens
	if overlay.MaxInputTokens != 0 {
		result.MaxInputTokens = overlay.MaxInputTokens
	}

	result.AutoCompactEnabled = overrideBool(base.AutoCompactEnabled, overlay.AutoCompactEnabled)
	result.Verbose = overrideBool(base.Verbose, overlay.Verbose)
	result.ThinkingEnabled = overrideBool(base.ThinkingEnabled, overlay.ThinkingEnabled)
	result.RespectGitignore = overrideBool(base.RespectGitignore, overlay.RespectGitignore)
	result.FastMode = overrideBool(base.FastMode, overlay.FastMode)

	return result
}

func overrideBool(base, overlay *bool) *bool {
	if overlay != nil {
		return overlay
	}
	return base
}

// UserSettingsPath returns the path to the user-level settings file (~/.claude/settings.json).
func UserSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// SaveUserSetting saves a single key/value pair to the user-level
// settings file. It reads the existing file, merges the new value, and
// writes back; a nil value removes the key.
func SaveUserSetting(key string, value interface{}) error {
	path, err := UserSettingsPath()
	if err != nil {
		return err
	}

	var settings map[string]interface{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			settings = make(map[string]interface{})
			if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
				return fmt.Errorf("creating settings directory: %w", mkErr)
			}
		} else {
			return fmt.Errorf("reading settings: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &settings); err != nil {
			settings = make(map[string]interface{}) // corrupt file: start fresh
		}
	}

	if value == nil {
		delete(settings, key)
	} else {
		settings[key] = value
	}

	output, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	output = append(output, '\n')

	if err := os.WriteFile(path, output, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// BoolVal returns the value of a *bool pointer, or the default if nil.
func BoolVal(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// BoolPtr returns a pointer to a bool value.
func BoolPtr(v bool) *bool {
	return &v
}
