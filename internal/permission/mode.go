// Package permission implements the engine that decides, for a given
// (toolName, toolInput, effectiveMode) triple, whether a tool call is
// allowed, denied, or must be asked about.
package permission

// Mode is the effective permission mode in force for a turn.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModePlan              Mode = "plan"
	ModeAcceptEdits       Mode = "acceptEdits"
	ModeBypassPermissions Mode = "bypassPermissions"
	ModeDontAsk           Mode = "dontAsk"
)

// AllModes is the canonical cycling order exposed to a host UI.
var AllModes = []Mode{ModeDefault, ModeAcceptEdits, ModePlan, ModeBypassPermissions}

// CycleMode returns the next mode in the cycling order:
// default -> acceptEdits -> plan -> [bypassPermissions if available] -> default.
// dontAsk always cycles back to default.
func CycleMode(current Mode, bypassAvailable bool) Mode {
	switch current {
	case ModeDefault:
		return ModeAcceptEdits
	case ModeAcceptEdits:
		return ModePlan
	case ModePlan:
		if bypassAvailable {
			return ModeBypassPermissions
		}
		return ModeDefault
	case ModeBypassPermissions:
		return ModeDefault
	case ModeDontAsk:
		return ModeDefault
	default:
		return ModeDefault
	}
}

// ValidMode reports whether s names one of the known modes.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeDefault, ModePlan, ModeAcceptEdits, ModeBypassPermissions, ModeDontAsk:
		return true
	}
	return false
}

// editClassTools are tools whose effect is a filesystem mutation, used
// by acceptEdits-mode and plan-mode gating.
var editClassTools = map[string]bool{
	"Edit": true, "MultiEdit": true, "Delete": true, "Write": true,
	"FileEdit": true, "FileWrite": true,
}

// IsEditClass reports whether name is one of Edit, MultiEdit, Delete, Write,
// FileEdit, FileWrite.
func IsEditClass(name string) bool {
	return editClassTools[name]
}

// readOnlyTools never mutate state and are safe to auto-allow in plan mode.
var readOnlyTools = map[string]bool{
	"Read": true, "Glob": true, "Grep": true, "TodoWrite": true,
	"AskUserQuestion": true, "ExitPlanMode": true, "TaskOutput": true, "Config": true,
	"FileRead": true,
}

// IsReadOnlyTool reports whether name only reads state.
func IsReadOnlyTool(name string) bool {
	return readOnlyTools[name]
}
