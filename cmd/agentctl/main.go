package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/activitylog"
	"github.com/xonecas/symb/internal/config"
	"github.com/xonecas/symb/internal/convlog"
	"github.com/xonecas/symb/internal/embedding"
	"github.com/xonecas/symb/internal/fallback"
	"github.com/xonecas/symb/internal/ipcl"
	"github.com/xonecas/symb/internal/memtree"
	"github.com/xonecas/symb/internal/patternstore"
	"github.com/xonecas/symb/internal/permission"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/replloop"
	"github.com/xonecas/symb/internal/shell"
	"github.com/xonecas/symb/internal/store"
	"github.com/xonecas/symb/internal/tools"
)

const version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	configFlag := flag.String("config", "", "path to config.toml (defaults to <DataDir>/config.toml when it exists, otherwise ./config.toml)")
	flag.Parse()

	if *versionFlag {
		fmt.Println("agentctl " + version)
		return
	}

	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	app, err := bootstrap(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	args := flag.Args()
	if len(args) == 0 {
		os.Exit(app.runInteractive())
	}

	switch args[0] {
	case "query":
		os.Exit(app.runQuery(strings.Join(args[1:], " ")))
	case "plan":
		os.Exit(app.runPlan(strings.Join(args[1:], " ")))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected \"query <text>\", \"plan <task>\", or no command for interactive mode)\n", args[0])
		os.Exit(1)
	}
}

// app bundles every long-lived component the CLI surface drives: the
// fallback-chain-backed REPL loop (components D, E, H, I, J) plus the
// persistence layers it logs and retrieves against (B, C, F, G, K, L).
type app struct {
	cfg      *config.Config
	loop     *replloop.Loop
	chain    *fallback.Chain
	providers []provider.Provider
	webCache *store.Cache
	memStore *memtree.Store
	tree     *memtree.Tree
	convLog  *convlog.Logger
}

func bootstrap(configPath string) (*app, error) {
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	registry := buildRegistry(cfg, creds)
	chain, providers, err := buildChain(cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("building provider chain: %w", err)
	}

	perms := buildPermissions(cfg)

	var patterns *patternstore.Store
	var memStore *memtree.Store
	tree := memtree.New(embedding.Dim)
	if cfg.Memory.Enabled {
		dbPath := cfg.Memory.DBPath
		if dbPath == "" {
			dbPath = filepath.Join(dataDir, "patterns.db")
		}
		patterns, err = patternstore.OpenWithDB(dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening pattern store: %w", err)
		}

		memStore, err = memtree.OpenStore(filepath.Join(dataDir, "memtree.db"))
		if err != nil {
			return nil, fmt.Errorf("opening memtree store: %w", err)
		}
		loaded, err := memStore.Load(embedding.Dim)
		if err != nil {
			return nil, fmt.Errorf("loading memtree: %w", err)
		}
		tree = loaded
	} else {
		patterns = patternstore.Open()
	}

	webCache, err := store.Open(filepath.Join(dataDir, "cache.db"), time.Duration(cfg.Cache.CacheTTLOrDefault())*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("opening web cache: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	sh := shell.New(cwd, nil)

	reg := tools.NewRegistry()
	tools.RegisterCore(reg, sh, webCache)
	executor := tools.NewExecutor(reg, patterns, perms, &tools.ToolContext{WorkingDir: cwd})

	convLog, err := convlog.New(filepath.Join(dataDir, "conversations.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("opening conversation log: %w", err)
	}
	actLog, err := activitylog.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening activity log: %w", err)
	}

	loop := replloop.New(replloop.Options{
		Chain:    chain,
		Registry: reg,
		Executor: executor,
		Patterns: patterns,
		Tree:     tree,
		Embedder: embedding.NewHashEmbedding(),
		ConvLog:  convLog,
		ActLog:   actLog,
		MemoryK:  cfg.Memory.MaxContextItemsOrDefault(),
	})

	return &app{
		cfg:       cfg,
		loop:      loop,
		chain:     chain,
		providers: providers,
		webCache:  webCache,
		memStore:  memStore,
		tree:      tree,
		convLog:   convLog,
	}, nil
}

// Close flushes and releases every resource bootstrap opened, in roughly
// reverse acquisition order.
func (a *app) Close() {
	if a.convLog != nil {
		if err := a.convLog.Flush(); err != nil {
			log.Warn().Err(err).Msg("agentctl: failed to flush conversation log")
		}
	}
	if a.memStore != nil {
		if err := a.memStore.Save(a.tree); err != nil {
			log.Warn().Err(err).Msg("agentctl: failed to persist memtree")
		}
		a.memStore.Close()
	}
	if a.webCache != nil {
		a.webCache.Close()
	}
	for _, p := range a.providers {
		if p != nil {
			p.Close()
		}
	}
}

func resolveConfigPath() string {
	path := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			path = dataDirPath
		}
	}
	return path
}

func buildRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		name := pc.NameOrDefault()
		apiKey := pc.APIKey
		if apiKey == "" {
			apiKey = creds.GetAPIKey(name)
		}

		switch pc.Provider {
		case "ollama":
			endpoint := pc.BaseURL
			if endpoint == "" {
				endpoint = "http://localhost:11434"
			}
			registry.RegisterFactory(name, provider.NewOllamaFactory(name, endpoint))
		case "gemini":
			registry.RegisterFactory(name, provider.NewGeminiFactory(name, apiKey))
		case "zen":
			registry.RegisterFactory(name, provider.NewZenFactory(name, apiKey, pc.BaseURL))
		}
	}
	return registry
}

// buildChain constructs one provider instance per configured entry, in
// config order, and wraps them in a fallback.Chain — the array's order IS
// the fallback order (spec.md §4.E, §6).
func buildChain(cfg *config.Config, registry *provider.Registry) (*fallback.Chain, []provider.Provider, error) {
	provs := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		name := pc.NameOrDefault()
		p, err := registry.Create(name, pc.Model, provider.Options{Temperature: pc.Temperature})
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", name, err)
		}
		if p == nil {
			return nil, nil, fmt.Errorf("provider %q: factory failed to construct a client", name)
		}
		provs = append(provs, p)
	}
	return fallback.New(provs...), provs, nil
}

func buildPermissions(cfg *config.Config) *permission.Manager {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	mgr := permission.NewManager(cwd)
	for _, rule := range cfg.Permissions {
		mgr.AddRule(permission.Rule{
			ToolNameGlob: rule.Tool,
			Verdict:      parseVerdict(rule.Verdict),
			Reason:       rule.Reason,
		})
	}
	return mgr
}

func parseVerdict(s string) permission.Verdict {
	switch s {
	case "allow":
		return permission.Allow
	case "deny":
		return permission.Deny
	default:
		return permission.AskUser
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "agentctl.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

// runQuery drives a single one-shot query to completion (spec.md §6's
// "query <text>" CLI mode) and returns the process exit code: 0 success, 1
// provider failure, 2 tool error, 130 user cancellation.
func (a *app) runQuery(text string) int {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "usage: agentctl query <text>")
		return 1
	}

	ctx := context.Background()
	qid := a.loop.Submit(ctx, text)

	stopInterrupt := interruptCancelsQuery(a.loop, qid)
	defer stopInterrupt()

	return driveQuery(a.loop, qid)
}

// runInteractive reads one query per line from stdin until EOF (Ctrl-D),
// driving each to completion before reading the next.
func (a *app) runInteractive() int {
	fmt.Println("agentctl " + version + " — interactive mode. Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		qid := a.loop.Submit(ctx, text)
		stopInterrupt := interruptCancelsQuery(a.loop, qid)
		driveQuery(a.loop, qid)
		stopInterrupt()
	}

	a.loop.Shutdown()
	return 0
}

// runPlan drives the iterative plan-critique loop (component I) to
// convergence over task, printing each draft and its critiques and
// prompting the user to approve, cancel, or steer between iterations.
func (a *app) runPlan(task string) int {
	if strings.TrimSpace(task) == "" {
		fmt.Fprintln(os.Stderr, "usage: agentctl plan <task description>")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()

	loop := ipcl.New(a.chain, ipcl.DefaultConfig())
	result, err := loop.Run(ctx, task, steerFromStdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plan error: %v\n", err)
		return 1
	}

	fmt.Println("\n=== Final plan ===")
	fmt.Println(result.FinalPlan())

	switch result.Outcome {
	case ipcl.Cancelled:
		return 130
	default:
		return 0
	}
}

func steerFromStdin(iteration int, planText string, critiques []ipcl.CritiqueItem) ipcl.UserFeedback {
	fmt.Printf("\n--- plan iteration %d ---\n%s\n", iteration, planText)
	if len(critiques) > 0 {
		fmt.Println("critiques:")
		for _, c := range critiques {
			fmt.Printf("  [%s] %s (severity=%d confidence=%d)\n", c.Persona, c.Concern, c.Severity, c.Confidence)
		}
	}
	fmt.Print("approve? [y]es / [n]o (cancel) / <feedback text> to continue steering: ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)

	switch strings.ToLower(line) {
	case "y", "yes":
		return ipcl.Approve{}
	case "n", "no":
		return ipcl.Cancel{}
	default:
		return ipcl.Continue{Text: line}
	}
}

// driveQuery pumps loop's event stream, rendering deltas and resolving
// approval/question prompts over stdin, until qid reaches a terminal
// event. Returns the corresponding process exit code.
func driveQuery(loop *replloop.Loop, qid replloop.QueryID) int {
	for evt := range loop.Events() {
		if eventQID(evt) != qid {
			continue
		}

		switch e := evt.(type) {
		case replloop.StreamingDelta:
			fmt.Print(e.Delta)
		case replloop.ToolApprovalNeeded:
			approved := promptApproval(e)
			e.ReplyCh <- replloop.ApprovalReply{Approved: approved}
		case replloop.QuestionAsked:
			e.ReplyCh <- promptQuestions(e.Questions)
		case replloop.QueryComplete:
			fmt.Println()
			return 0
		case replloop.QueryFailed:
			fmt.Println()
			switch e.Reason {
			case replloop.FailureCancelled:
				fmt.Fprintln(os.Stderr, "cancelled")
				return 130
			case replloop.FailureTool:
				fmt.Fprintf(os.Stderr, "tool error: %v\n", e.Err)
				return 2
			default:
				fmt.Fprintf(os.Stderr, "error: %v\n", e.Err)
				return 1
			}
		}
	}
	return 1
}

func promptApproval(e replloop.ToolApprovalNeeded) bool {
	fmt.Printf("\n[approval needed] %s: %s\nAllow? [y/N] ", e.ToolUse.Name, e.Reason)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func promptQuestions(questions []replloop.Question) []string {
	reader := bufio.NewReader(os.Stdin)
	answers := make([]string, len(questions))
	for i, q := range questions {
		fmt.Printf("\n%s", q.Question)
		if len(q.Options) > 0 {
			fmt.Printf(" %s", strings.Join(q.Options, " / "))
		}
		fmt.Print("\n> ")
		line, _ := reader.ReadString('\n')
		answers[i] = strings.TrimSpace(line)
	}
	return answers
}

// eventQID extracts the originating query ID from any concrete Event type.
// Event.queryID() is unexported, so callers outside replloop must switch on
// the concrete type rather than calling the interface method directly.
func eventQID(evt replloop.Event) replloop.QueryID {
	switch e := evt.(type) {
	case replloop.UserInput:
		return e.QID
	case replloop.StreamingStarted:
		return e.QID
	case replloop.StreamingDelta:
		return e.QID
	case replloop.StreamingComplete:
		return e.QID
	case replloop.ToolApprovalNeeded:
		return e.QID
	case replloop.ToolResult:
		return e.QID
	case replloop.QuestionAsked:
		return e.QID
	case replloop.QueryComplete:
		return e.QID
	case replloop.QueryFailed:
		return e.QID
	case replloop.CancelQuery:
		return e.QID
	default:
		return 0
	}
}

// interruptCancelsQuery arranges for SIGINT/SIGTERM to cancel qid rather
// than kill the process outright, so an in-flight query ends in a clean
// QueryFailed{FailureCancelled} (exit 130) instead of an abrupt exit.
// Callers must invoke the returned stop func once the query finishes.
func interruptCancelsQuery(loop *replloop.Loop, qid replloop.QueryID) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			loop.Cancel(qid)
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
