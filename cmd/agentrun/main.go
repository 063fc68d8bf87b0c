// Command agentrun is a minimal non-interactive entry point for the
// turn engine: it wires config, permission, hooks, tools, compression,
// the gateway, and persistence together, then drives either a single
// one-shot prompt or a line-at-a-time REPL against stdin/stdout. It has
// no TUI; it exists to exercise the engine and give scripts and CI
// jobs something to call.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/anthropics/agent-turn-engine/internal/compress"
	"github.com/anthropics/agent-turn-engine/internal/config"
	"github.com/anthropics/agent-turn-engine/internal/ctxmsg"
	"github.com/anthropics/agent-turn-engine/internal/engine"
	"github.com/anthropics/agent-turn-engine/internal/gateway"
	"github.com/anthropics/agent-turn-engine/internal/hooks"
	"github.com/anthropics/agent-turn-engine/internal/obslog"
	"github.com/anthropics/agent-turn-engine/internal/permission"
	"github.com/anthropics/agent-turn-engine/internal/store"
	"github.com/anthropics/agent-turn-engine/internal/tooling"
	"github.com/anthropics/agent-turn-engine/internal/tools"
)

const defaultModel = "claude-sonnet-4-5"

func init() {
	// Load a .env file from the working directory if present, silently
	// doing nothing otherwise — lets ANTHROPIC_API_KEY and friends come
	// from a local file instead of the calling shell's environment.
	_ = godotenv.Load()
}

// flags holds the cobra-parsed CLI surface. Names mirror the shape of
// a typical agent CLI: a model override, print-mode vs REPL, a
// permission-mode override, a skip-permissions escape hatch, and
// comma-separated tool allow/deny lists.
type flags struct {
	model           string
	maxTokens       int
	permissionMode  string
	skipPermissions bool
	sessionID       string
	resume          bool
	addDir          string
	allowedTools    string
	disallowedTools string
	verbose         bool
	fastMode        bool
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "agentrun [prompt]",
		Short: "Run the agent turn engine non-interactively",
		Long: "agentrun wires the turn engine's collaborators together and runs a single\n" +
			"prompt to completion, or a REPL reading prompts from stdin when none is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prompt string
			if len(args) == 1 {
				prompt = args[0]
			}
			return run(cmd.Context(), f, prompt)
		},
	}

	root.Flags().StringVar(&f.model, "model", "", "model to use (overrides settings.json)")
	root.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum response tokens (0 uses the engine default)")
	root.Flags().StringVar(&f.permissionMode, "permission-mode", "", "default, plan, acceptEdits, bypassPermissions, dontAsk")
	root.Flags().BoolVar(&f.skipPermissions, "dangerously-skip-permissions", false, "run in bypassPermissions mode")
	root.Flags().StringVar(&f.sessionID, "session-id", "", "resume a specific session by ID")
	root.Flags().BoolVar(&f.resume, "continue", false, "resume the most recently modified session in this directory")
	root.Flags().StringVar(&f.addDir, "add-dir", "", "additional Safe Zone directories (comma-separated)")
	root.Flags().StringVar(&f.allowedTools, "allowed-tools", "", "comma-separated allowlist of tool names visible to the model")
	root.Flags().StringVar(&f.disallowedTools, "disallowed-tools", "", "comma-separated list of tool names to deny outright")
	root.Flags().BoolVar(&f.verbose, "verbose", false, "enable verbose turn logging (also via AGENT_DEBUG)")
	root.Flags().BoolVar(&f.fastMode, "fast", false, "set speed:\"fast\" on eligible models")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// stdoutObserver prints, after every completed turn, each non-empty
// text block of the last message in the history, one Println per block.
type stdoutObserver struct{}

func (stdoutObserver) OnTurnComplete(h *store.History) {
	msg := h.Last()
	if msg == nil {
		return
	}
	for _, b := range msg.Blocks {
		if b.Kind == store.BlockText && b.Text != "" {
			fmt.Println(b.Text)
		}
	}
}

// autoDenyCallback denies every "ask" decision: agentrun has no
// terminal UI to prompt a human mid-turn, so any tool call the
// permission engine can't resolve from rules or mode is refused rather
// than hanging forever. Run with --dangerously-skip-permissions or a
// permissive settings.json to avoid tripping this.
type autoDenyCallback struct{}

func (autoDenyCallback) RequestPermission(ctx context.Context, toolName string, input map[string]any) (permission.Action, error) {
	return permission.ActionDeny, nil
}

func run(ctx context.Context, f *flags, prompt string) error {
	if f.verbose {
		os.Setenv(obslog.EnableEnvVar, "1")
	}
	if err := obslog.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: observability logging disabled:", err)
	}
	defer obslog.Sync()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	settings, err := config.LoadSettings(cwd)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	mode := settings.DefaultMode
	if mode == "" {
		mode = permission.ModeDefault
	}
	if f.permissionMode != "" {
		if !permission.ValidMode(f.permissionMode) {
			return fmt.Errorf("invalid --permission-mode %q", f.permissionMode)
		}
		mode = permission.Mode(f.permissionMode)
	}
	if f.skipPermissions {
		mode = permission.ModeBypassPermissions
	}

	additionalDirs := settings.AdditionalDirectories
	if f.addDir != "" {
		additionalDirs = append(additionalDirs, strings.Split(f.addDir, ",")...)
	}
	zone := permission.NewSafeZone(cwd, additionalDirs)

	rules := settings.Permissions
	if f.disallowedTools != "" {
		for _, name := range strings.Split(f.disallowedTools, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			rules.Deny = append([]permission.Rule{{Kind: permission.KindToolAny, Tool: name}}, rules.Deny...)
		}
	}

	permEngine := permission.NewEngine(rules, mode, zone, "", autoDenyCallback{})

	hookRunner := hooks.NewRunner(settings.Hooks)

	registry := tooling.NewRegistry(nil)
	registry.Register(tools.NewBashTool(cwd))
	registry.Register(tools.NewFileReadTool())
	registry.Register(tools.NewFileWriteTool())
	registry.Register(tools.NewFileEditTool())
	registry.Register(tools.NewGlobTool(cwd))
	registry.Register(tools.NewGrepTool(cwd))

	compressor := compress.New()
	if settings.MaxInputTokens > 0 {
		compressor.MaxInputTokens = settings.MaxInputTokens
	}

	gw := gateway.NewSDKGateway(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_BASE_URL"))

	storeDir := filepath.Join(mustUserHome(), ".agentrun", "sessions")
	sessionStore := store.NewStore(storeDir)

	history, err := loadOrCreateHistory(sessionStore, cwd, f)
	if err != nil {
		return err
	}

	model := settings.Model
	if model == "" {
		model = defaultModel
	}
	if f.model != "" {
		model = f.model
	}

	gitStatus := ctxmsg.CollectGitStatus(cwd)
	contextMsg := ctxmsg.BuildContextMessage(ctxmsg.UserContext{
		CurrentDate: ctxmsg.FormatCurrentDate(),
	})

	var baseSystemPrompt []string
	if gitStatus != "" {
		baseSystemPrompt = append(baseSystemPrompt, gitStatus)
	}

	eng := engine.New(engine.Config{
		Gateway:          gw,
		Tools:            registry,
		Permission:       permEngine,
		Hooks:            hookRunner,
		Compressor:       compressor,
		Store:            sessionStore,
		History:          history,
		CWD:              cwd,
		DefaultModel:     model,
		BaseSystemPrompt: baseSystemPrompt,
		ContextMessage:   contextMsg,
		Observer:         stdoutObserver{},
	})

	opts := engine.Options{
		Model:     f.model,
		MaxTokens: f.maxTokens,
		FastMode:  f.fastMode || config.BoolVal(settings.FastMode, false),
	}
	if f.allowedTools != "" {
		for _, name := range strings.Split(f.allowedTools, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.ToolsAllowlist = append(opts.ToolsAllowlist, name)
			}
		}
	}

	if prompt != "" {
		return eng.SubmitUserMessage(ctx, prompt, opts)
	}
	return repl(ctx, eng, opts)
}

// loadOrCreateHistory resolves --session-id / --continue / a fresh
// session, in that priority order.
func loadOrCreateHistory(s *store.Store, cwd string, f *flags) (*store.History, error) {
	switch {
	case f.sessionID != "":
		h, err := s.Load(cwd, f.sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", f.sessionID, err)
		}
		return h, nil
	case f.resume:
		id, err := s.MostRecent(cwd)
		if err != nil {
			return nil, fmt.Errorf("find most recent session: %w", err)
		}
		if id == "" {
			break
		}
		h, err := s.Load(cwd, id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		return h, nil
	}

	id := store.GenerateID()
	if _, err := s.Create(cwd, id); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return store.NewHistory(id), nil
}

// repl reads one prompt per line from stdin until EOF, running each to
// completion before reading the next.
func repl(ctx context.Context, eng *engine.Engine, opts engine.Options) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := eng.SubmitUserMessage(ctx, line, opts); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func mustUserHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
