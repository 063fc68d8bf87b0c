package hooks

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// defaultTimeout bounds a single hook process when Def.Timeout is zero.
const defaultTimeout = 60 * time.Second

// Runner executes the hooks configured for each event and turns their
// raw process results into an Outcome the turn engine acts on.
type Runner struct {
	config Config
}

// NewRunner creates a Runner from the given hook configuration.
func NewRunner(config Config) *Runner {
	return &Runner{config: config}
}

// ExecuteHooks runs every hook configured for event in order, passing
// extraEnv (event-specific fields such as TOOL_NAME/TOOL_INPUT) to each.
func (r *Runner) ExecuteHooks(ctx context.Context, event Event, extraEnv []string) []Result {
	defs := r.config.forEvent(event)
	if len(defs) == 0 {
		return nil
	}
	env := append([]string{"HOOK_EVENT=" + string(event)}, extraEnv...)

	results := make([]Result, 0, len(defs))
	for _, def := range defs {
		results = append(results, r.runOne(ctx, def, env))
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, def Def, env []string) Result {
	if def.Command == "" {
		return Result{Success: true}
	}
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(hookCtx, "sh", "-c", def.Command)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: elapsed}
	if hookCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res
	}
	if err != nil {
		res.ExitCode = exitCodeOf(err)
		return res
	}
	res.Success = true
	return res
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// ProcessResults interprets the raw Results for one event firing into
// an Outcome. JSON-on-stdout always takes precedence over exit-code
// semantics: a well-formed JSON object with a recognised field wins
// even if the process exited non-zero. Hook failures never propagate as
// Go errors out of this function: a timeout, or a non-zero exit without
// parseable JSON on stdout, sets ShouldBlock and ErrorMessage, and each
// caller applies ShouldBlock according to its event (PostToolUse and
// Notification callers ignore it).
func ProcessResults(event Event, results []Result) Outcome {
	var out Outcome
	for _, res := range results {
		if res.TimedOut {
			out.ShouldBlock = true
			out.ErrorMessage = "hook timed out"
			continue
		}

		decision, ok := parseHookOutput(res.Stdout)
		if ok {
			out.Decisions = append(out.Decisions, decision)
			if !decision.Continue {
				out.ShouldBlock = true
				if decision.StopReason != "" {
					out.ErrorMessage = decision.StopReason
				}
			}
			continue
		}

		// No parseable JSON: fall back to exit-code semantics. A
		// nonzero exit blocks (UserPromptSubmit/PreToolUse semantics);
		// PostToolUse/Notification callers ignore ShouldBlock.
		if !res.Success {
			out.ShouldBlock = true
			msg := strings.TrimSpace(res.Stderr)
			if msg == "" {
				msg = strings.TrimSpace(res.Stdout)
			}
			if msg == "" {
				msg = "hook exited non-zero"
			}
			out.ErrorMessage = msg
		}
	}
	return out
}
