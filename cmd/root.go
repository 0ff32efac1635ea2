// Package cmd wires the cobra entrypoint (Component H's process
// boundary): load config, build the Driver's dependency graph, and run
// a simple line-oriented REPL against it. Grounded on the teacher's
// cobra rootCmd + RunE shape; the body inside RunE is new, since the
// teacher's single-shot "suggest a command" flow has no Driver/Loop to
// call into.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/cocode/agent-core/internal/config"
	"github.com/cocode/agent-core/internal/corestate"
	"github.com/cocode/agent-core/internal/driver"
	"github.com/cocode/agent-core/internal/embedding"
	"github.com/cocode/agent-core/internal/events"
	"github.com/cocode/agent-core/internal/indexcoord"
	"github.com/cocode/agent-core/internal/llm"
	"github.com/cocode/agent-core/internal/loop"
	"github.com/cocode/agent-core/internal/retrieval"
	"github.com/cocode/agent-core/internal/storevec"
	"github.com/cocode/agent-core/internal/toolexec"
	"github.com/cocode/agent-core/internal/tools"
	"github.com/spf13/cobra"
)

const (
	embedDimension    = 768
	retrievalWorkers  = 4
	retrievalMaxChunk = 200_000
)

var workdirFlag string
var modelFlag string

var rootCmd = &cobra.Command{
	Use:   "agent-core",
	Short: "Run the agent loop against a workspace",
	Long: `agent-core drives one conversation's worth of agent turns over a
workspace, with tool execution and background code retrieval.`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&workdirFlag, "workdir", "C", "", "workspace root (default: current directory)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "override the configured model")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cwd := workdirFlag
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workspace: %w", err)
		}
		cwd = wd
	}

	if config.NeedsSetup() {
		configPath, _ := config.GetConfigPath()
		return fmt.Errorf("no configuration found; create one at %s", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr := config.NewManager(cfg)
	role := mgr.CurrentSpecForRole(config.MainRole)
	if modelFlag != "" {
		role.Model = modelFlag
	}

	registry, err := buildToolRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	if _, err := buildRetrievalService(cwd, cfg); err != nil {
		// Retrieval is an enrichment, not a hard dependency of the
		// agent loop itself, so a workspace without an embedding
		// provider configured still runs, just without repo search.
		fmt.Fprintf(os.Stderr, "retrieval disabled: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var d *driver.Driver
	getDriver := func() *driver.Driver { return d }
	emit := func(ev events.Event) { printEvent(ev) }
	buildLoop := func(r corestate.RoleSelection) *loop.Loop {
		return buildLoopForRole(r, registry, getDriver, emit)
	}
	d = driver.New(cwd, role, buildLoop, emit)

	commands := make(chan events.Command)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, commands)
		close(done)
	}()

	repl(ctx, commands)
	close(commands)
	<-done
	return nil
}

// buildLoopForRole constructs one *loop.Loop bound to role, wiring the
// Driver's approval Requester into a fresh toolexec.Executor so
// approval correlation survives a model switch, per LoopBuilder's doc
// comment. getDriver is indirected through a closure rather than a
// plain *driver.Driver because driver.New calls buildLoop once itself
// before it has anything to assign to the caller's driver variable —
// by the time a tool actually needs approval (deep inside the first
// RunTurn), getDriver's closure observes the now-assigned value.
func buildLoopForRole(role corestate.RoleSelection, registry *tools.LocalToolRegistry, getDriver func() *driver.Driver, emit func(events.Event)) *loop.Loop {
	provider, err := llm.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"), role.Model, "api_key")
	if err != nil {
		// A construction failure here would otherwise panic the
		// Driver's buildLoop call with no way to surface the cause;
		// fail the first turn instead via an always-erroring stream.
		exec := toolexec.NewExecutor(registry.ToRegistry(), &toolexec.Pipeline{Mode: toolexec.ModeBypass}, nil, nil, emit, retrievalWorkers)
		return loop.NewLoop(loop.NewLLMProviderAdapter(&brokenProvider{err: err}), exec, emit, loop.Config{Model: role.Model})
	}
	retried := llm.WrapWithRetry(provider, llm.DefaultRetryConfig())

	pipeline := &toolexec.Pipeline{Mode: toolexec.ModeDefault, Requester: &lazyRequester{getDriver: getDriver}}
	exec := toolexec.NewExecutor(registry.ToRegistry(), pipeline, nil, nil, emit, retrievalWorkers)

	return loop.NewLoop(loop.NewLLMProviderAdapter(retried), exec, emit, loop.Config{
		Model:         role.Model,
		ContextWindow: 200_000,
		Compact:       loop.DefaultCompactConfig(),
	})
}

// lazyRequester defers resolving the Driver's approval Requester until
// the first approval is actually requested, which is always after
// driver.New has returned and assigned its result.
type lazyRequester struct {
	getDriver func() *driver.Driver
}

func (l *lazyRequester) RequestApproval(ctx context.Context, req toolexec.PendingApproval) (events.ApprovalDecision, error) {
	d := l.getDriver()
	if d == nil {
		return nil, fmt.Errorf("approval requested before driver initialization completed")
	}
	return d.Requester().RequestApproval(ctx, req)
}

func buildToolRegistry(cfg *config.Config) (*tools.LocalToolRegistry, error) {
	enabled := cfg.Tools.Enabled
	if len(enabled) == 0 {
		enabled = []string{tools.ReadFileToolName, tools.WriteFileToolName, tools.EditFileToolName, tools.ShellToolName, tools.GrepToolName, tools.GlobToolName}
	}
	toolCfg := tools.NewToolConfigFromFields(enabled, cfg.Tools.ReadDirs, cfg.Tools.WriteDirs, cfg.Tools.ShellAllow, cfg.Tools.ShellAutoRun, cfg.Tools.ShellAutoRunEnv, cfg.Tools.ShellNonTTYEnv, cfg.Tools.ImageProvider)
	return tools.NewLocalToolRegistry(&toolCfg, cfg, nil)
}

// buildRetrievalService wires a Pipeline, HybridSearcher, and
// Coordinator into one indexcoord.Service for workdir, per spec.md
// §6. An embedding-provider construction failure degrades to a
// BM25-only pipeline (Pipeline.Embed == nil) rather than failing the
// whole command, matching the pipeline's documented nil-disables
// contract.
func buildRetrievalService(workdir string, cfg *config.Config) (*indexcoord.Service, error) {
	dbPath := filepath.Join(workdir, ".agent-core", "index.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	store, err := storevec.Open(dbPath, embedDimension)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	walker, err := retrieval.NewWalker(workdir, retrieval.WalkerConfig{
		IgnorePatterns:   []string{".git/**", "node_modules/**", ".agent-core/**"},
		MaxFileSizeBytes: 1 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("build walker: %w", err)
	}

	var embedCache *retrieval.EmbedCache
	if provider, embedErr := embedding.NewEmbeddingProvider(cfg, ""); embedErr == nil {
		embedCache = retrieval.NewEmbedCache(provider).WithRateLimit(600, 60)
	}

	pipeline := &retrieval.Pipeline{
		Workspace: workdir,
		Root:      workdir,
		Store:     store,
		BM25:      retrieval.NewBM25Index(retrieval.DefaultBM25Config()),
		Snippet:   retrieval.NewSnippetSearcher(),
		Walker:    walker,
		Chunker:   retrieval.NewChunker(retrieval.ChunkerConfig{}),
		Taggers:   retrieval.NewTaggerRegistry(),
		Embed:     embedCache,
	}

	coord := indexcoord.NewCoordinator(workdir, pipeline, retrievalWorkers)
	coord.MaxChunks = retrievalMaxChunk

	searcher := retrieval.NewHybridSearcher(store, pipeline.BM25).
		WithSnippetSearch(pipeline.Snippet).
		WithWorkspaceRoot(workdir)
	if embedCache != nil {
		searcher = searcher.WithEmbeddings(embedCache)
	}

	return indexcoord.NewService(coord, searcher, 50), nil
}

func repl(ctx context.Context, commands chan<- events.Command) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	fmt.Println("ready — type a request, or 'exit' to quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		switch line {
		case "":
			continue
		case "exit", "quit":
			return
		}
		select {
		case <-ctx.Done():
			return
		case commands <- events.SubmitInput{DisplayText: line}:
		}
	}
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TextDelta:
		fmt.Print(e.Delta)
	case events.ToolUseStarted:
		fmt.Printf("\n[tool] %s\n", e.Name)
	case events.TurnCompleted:
		fmt.Println()
	case events.Error:
		fmt.Fprintf(os.Stderr, "\n[error] %s\n", e.Message)
	}
}

// brokenProvider surfaces a construction-time error as a stream error
// on first use, rather than panicking buildLoop.
type brokenProvider struct{ err error }

func (b *brokenProvider) Name() string                   { return "broken" }
func (b *brokenProvider) Credential() string             { return "" }
func (b *brokenProvider) Capabilities() llm.Capabilities { return llm.Capabilities{} }
func (b *brokenProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return nil, b.err
}
