package permission

import "context"

// ReasonKind classifies why a Decision was reached.
type ReasonKind string

const (
	ReasonRule  ReasonKind = "rule"
	ReasonMode  ReasonKind = "mode"
	ReasonOther ReasonKind = "other"
)

// Reason explains a Decision for display/logging purposes.
type Reason struct {
	Kind   ReasonKind
	Rule   string
	Mode   Mode
	Detail string
}

// Decision is the permission engine's output for one tool call.
type Decision struct {
	Action      Action
	Message     string
	Reason      Reason
	Suggestions []Rule // "allow similar next time" candidates, populated on a callback ask and on the no-approver deny
}

// RestrictedTools lists tools that require a permission decision at all;
// any tool not in this set is allowed unconditionally (step 6 of the
// algorithm). Read-only inspection tools (Read, Glob, Grep, ...) are
// intentionally absent.
var restrictedTools = map[string]bool{
	"Bash": true, "Edit": true, "MultiEdit": true, "Write": true,
	"Delete": true, "NotebookEdit": true, "WebFetch": true,
	"FileEdit": true, "FileWrite": true,
}

// IsRestricted reports whether name requires a permission decision.
func IsRestricted(name string) bool {
	return restrictedTools[name]
}

// Callback is the host-provided fallback invoked at step 7 of the
// algorithm when nothing else has decided.
type Callback interface {
	RequestPermission(ctx context.Context, toolName string, input map[string]any) (Action, error)
}

// RuleSet groups configured rules by action. Allow/Deny/Ask each
// combine persistent (settings-sourced) and session-temporary rules;
// the algorithm does not distinguish between the two for matching
// purposes — only for how long they live (temporary rules are cleared
// by the turn finaliser regardless of outcome).
type RuleSet struct {
	Allow []Rule
	Deny  []Rule
	Ask   []Rule
}

// Engine decides a permission Action for a given tool call under an
// effective mode, a set of configured rules, a Safe Zone, a plan-mode
// target file, and an optional host callback.
type Engine struct {
	Rules        RuleSet
	Mode         Mode
	Zone         *SafeZone
	PlanFilePath string
	Callback     Callback
}

// NewEngine constructs an Engine. callback may be nil, in which case
// step 7 is skipped and step 8's "no approver configured" denial
// applies.
func NewEngine(rules RuleSet, mode Mode, zone *SafeZone, planFilePath string, callback Callback) *Engine {
	return &Engine{Rules: rules, Mode: mode, Zone: zone, PlanFilePath: planFilePath, Callback: callback}
}

// targetPath extracts the tool's designated path field for Safe Zone
// and plan-mode checks.
func targetPath(toolName string, input map[string]any) string {
	field := FieldForTool(toolName)
	if field == "" {
		return ""
	}
	if v, ok := input[field].(string); ok {
		return v
	}
	return ""
}

func matchValue(toolName string, input map[string]any) string {
	if toolName == "Bash" {
		if v, ok := input["command"].(string); ok {
			return v
		}
		return ""
	}
	return targetPath(toolName, input)
}

func anyRuleMatchesToolCall(rules []Rule, toolName string, input map[string]any, zone *SafeZone, coverSegments bool) (bool, Rule) {
	value := matchValue(toolName, input)
	for _, r := range rules {
		if r.Tool != toolName {
			continue
		}
		if r.Kind == KindToolAny {
			return true, r
		}
		if toolName == "Bash" {
			if value != "" && r.MatchesSegment(value) {
				return true, r
			}
			continue
		}
		if r.MatchesPath(value) {
			return true, r
		}
	}
	// For Bash allow-rules, also honor the "every segment covered"
	// contract against the full rule set, not just a single rule. Deny
	// lookups skip this: implicitly safe segments count as covered, which
	// must never turn into a deny.
	if coverSegments && toolName == "Bash" && value != "" {
		var bashRules []Rule
		for _, r := range rules {
			if r.Tool == "Bash" {
				bashRules = append(bashRules, r)
			}
		}
		if AllSegmentsAllowed(value, bashRules, zone) {
			return true, Rule{Kind: KindToolAny, Tool: "Bash"}
		}
	}
	return false, Rule{}
}

// Decide runs the 8-step, first-match-wins algorithm for one tool call.
func (e *Engine) Decide(ctx context.Context, toolName string, input map[string]any) Decision {
	// 1. Deny-rule match always wins.
	if toolName == "Bash" {
		if cmd, _ := input["command"].(string); cmd != "" {
			if denied, r := AnySegmentDenied(cmd, e.Rules.Deny); denied {
				return Decision{
					Action:  ActionDeny,
					Message: "explicitly denied by rule " + FormatRuleString(r),
					Reason:  Reason{Kind: ReasonRule, Rule: FormatRuleString(r)},
				}
			}
		}
	}
	if matched, r := anyRuleMatchesToolCall(e.Rules.Deny, toolName, input, e.Zone, false); matched {
		return Decision{
			Action:  ActionDeny,
			Message: "explicitly denied by rule " + FormatRuleString(r),
			Reason:  Reason{Kind: ReasonRule, Rule: FormatRuleString(r)},
		}
	}

	// 2. bypassPermissions.
	if e.Mode == ModeBypassPermissions {
		return Decision{Action: ActionAllow, Reason: Reason{Kind: ReasonMode, Mode: e.Mode, Detail: "bypass permissions mode is active"}}
	}

	// 3. acceptEdits + edit-class tool.
	if e.Mode == ModeAcceptEdits && IsEditClass(toolName) {
		path := targetPath(toolName, input)
		if e.Zone.Contains(path) {
			return Decision{Action: ActionAllow, Reason: Reason{Kind: ReasonMode, Mode: e.Mode, Detail: "edit inside Safe Zone"}}
		}
		return Decision{Action: ActionDeny, Message: "outside Safe Zone", Reason: Reason{Kind: ReasonMode, Mode: e.Mode, Detail: "outside Safe Zone"}}
	}

	// 4. plan mode.
	if e.Mode == ModePlan {
		if toolName == "Bash" || toolName == "Delete" {
			return Decision{Action: ActionDeny, Message: "not permitted in plan mode", Reason: Reason{Kind: ReasonMode, Mode: e.Mode}}
		}
		if IsEditClass(toolName) {
			path := targetPath(toolName, input)
			if path == e.PlanFilePath {
				return Decision{Action: ActionAllow, Reason: Reason{Kind: ReasonMode, Mode: e.Mode, Detail: "plan file write"}}
			}
			return Decision{Action: ActionDeny, Message: "only the plan file may be edited in plan mode", Reason: Reason{Kind: ReasonMode, Mode: e.Mode}}
		}
	}

	// 5. allow-rule match.
	if matched, r := anyRuleMatchesToolCall(e.Rules.Allow, toolName, input, e.Zone, true); matched {
		return Decision{Action: ActionAllow, Reason: Reason{Kind: ReasonRule, Rule: FormatRuleString(r)}}
	}

	// 6. not restricted -> allow.
	if !IsRestricted(toolName) {
		return Decision{Action: ActionAllow, Reason: Reason{Kind: ReasonOther, Detail: "tool is not subject to permission checks"}}
	}

	// 7. host callback.
	if e.Callback != nil {
		action, err := e.Callback.RequestPermission(ctx, toolName, input)
		if err != nil {
			return Decision{Action: ActionDeny, Message: "callback error", Reason: Reason{Kind: ReasonOther, Detail: err.Error()}}
		}
		d := Decision{Action: action, Reason: Reason{Kind: ReasonOther, Detail: "host callback decision"}}
		if action == ActionAsk {
			d.Suggestions = e.suggestionsFor(toolName, input)
			if cmd, _ := input["command"].(string); toolName == "Bash" && cmd != "" {
				d.Message = SecurityAdvisory(cmd)
			}
		}
		return d
	}

	// 8. fallback deny.
	d := Decision{Action: ActionDeny, Message: "no approver configured", Reason: Reason{Kind: ReasonOther, Detail: "no approver configured"}}
	d.Suggestions = e.suggestionsFor(toolName, input)
	return d
}

func (e *Engine) suggestionsFor(toolName string, input map[string]any) []Rule {
	if toolName != "Bash" {
		return nil
	}
	cmd, _ := input["command"].(string)
	if cmd == "" {
		return nil
	}
	return Expand(cmd, e.Zone)
}
