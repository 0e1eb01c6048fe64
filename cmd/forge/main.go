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

	"golang.org/x/term"

	"forge/pkg/checkpoint"
	"forge/pkg/config"
	"forge/pkg/executive"
	"forge/pkg/gather"
	"forge/pkg/history"
	"forge/pkg/llm"
	"forge/pkg/logx"
	"forge/pkg/metrics"
	"forge/pkg/persistence"
	"forge/pkg/repoindex"
	"forge/pkg/verify"
)

// Version information - set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		goal        = flag.String("goal", "", "Change goal in natural language (omit for interactive mode)")
		repoDir     = flag.String("repo", ".", "Repository directory")
		configPath  = flag.String("config", "", "Config file path (default: <repo>/.forge/config.yaml)")
		maxTries    = flag.Int("max-tries", 0, "Override max attempts per step")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("forge %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true, nil)
	}

	os.Exit(run(*repoDir, *configPath, *goal, *maxTries))
}

// run contains the main logic and returns an exit code, so defers in the
// call chain execute before os.Exit.
func run(repoDir, configPath, goal string, maxTries int) int {
	repoDir, err := filepath.Abs(repoDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad repository path: %v\n", err)
		return 1
	}

	stateDir, err := config.EnsureStateDir(repoDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create state directory: %v\n", err)
		return 1
	}

	if configPath == "" {
		configPath = filepath.Join(stateDir, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not load config: %v\n", err)
		return 1
	}
	if maxTries > 0 {
		cfg.MaxTries = maxTries
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := buildEnvironment(ctx, repoDir, stateDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer env.close()

	if goal != "" {
		return runGoal(ctx, env, cfg, goal)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "No goal given and stdin is not a terminal; use -goal")
		return 1
	}
	return runInteractive(ctx, env, cfg)
}

// environment holds the long-lived pieces shared by every session in a run.
type environment struct {
	repoDir     string
	index       *repoindex.Index
	hist        *history.Log
	checkpoints *checkpoint.Manager
	store       *persistence.Store
	client      llm.Client
	tracker     *llm.CostTracker
	recorder    *metrics.Recorder
	model       config.ModelConfig
	watchCancel context.CancelFunc
}

func buildEnvironment(ctx context.Context, repoDir, stateDir string, cfg *config.Config) (*environment, error) {
	client, err := llm.NewClientFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.ActiveModel()
	tracker := llm.NewCostTracker(&model)

	checkpoints, err := checkpoint.InitIfNeeded(repoDir)
	if err != nil {
		return nil, err
	}

	matcher := repoindex.NewMatcher(repoindex.MatcherOptions{
		RootDir:        repoDir,
		CustomPatterns: cfg.Index.IgnorePatterns,
		MaxFileSize:    cfg.Index.MaxFileSizeBytes,
	})
	summarizer := llm.NewFileSummarizer(client, tracker)
	index, err := repoindex.New(repoDir, stateDir, matcher, summarizer, cfg.Index.SummaryWorkers)
	if err != nil {
		return nil, err
	}
	loaded, err := index.Load()
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	if !loaded {
		fmt.Println("Building repository index (first run may take a while)...")
		if err := index.Build(ctx); err != nil {
			_ = index.Close()
			return nil, err
		}
		if err := index.Save(); err != nil {
			logx.Warnf("could not persist index: %v", err)
		}
	}

	// External edits mark entries dirty; sessions resync before gathering.
	watchCtx, watchCancel := context.WithCancel(ctx)
	go func() {
		if err := index.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			logx.Warnf("file watcher stopped: %v", err)
		}
	}()

	hist, err := history.Open(stateDir)
	if err != nil {
		watchCancel()
		_ = index.Close()
		return nil, err
	}

	store, err := persistence.Open(filepath.Join(stateDir, "forge.db"))
	if err != nil {
		watchCancel()
		_ = index.Close()
		_ = hist.Close()
		return nil, err
	}

	return &environment{
		repoDir:     repoDir,
		index:       index,
		hist:        hist,
		checkpoints: checkpoints,
		store:       store,
		client:      client,
		tracker:     tracker,
		recorder:    metrics.NewRecorder(),
		model:       model,
		watchCancel: watchCancel,
	}, nil
}

func (e *environment) close() {
	e.watchCancel()
	if err := e.index.Save(); err != nil {
		logx.Warnf("could not persist index: %v", err)
	}
	_ = e.index.Close()
	_ = e.hist.Close()
	_ = e.store.Close()
}

func runGoal(ctx context.Context, env *environment, cfg *config.Config, goal string) int {
	tool := verify.ToolByName(cfg.Verify.Tool, env.repoDir)
	verifier := verify.New(verify.NewHostExecutor(), tool, cfg.Verify.Timeout())

	var planner executive.Planner = executive.SingleStepPlanner{}
	if cfg.PlanWithModel {
		planner = executive.NewLLMPlanner(env.client, cfg.MaxPlanSteps)
	}

	session, err := executive.NewSession(executive.Options{
		Index:             env.index,
		History:           env.hist,
		Gatherer:          gather.New(),
		Generator:         llm.NewGenerator(env.client, &env.model, env.tracker),
		Verifier:          verifier,
		Checkpoints:       env.checkpoints,
		Store:             env.store,
		Metrics:           env.recorder,
		Tracker:           env.tracker,
		Planner:           planner,
		MaxTries:          cfg.MaxTries,
		BundleTokenBudget: cfg.BundleTokenBudget,
		GenerateTimeout:   cfg.GenerateTimeout(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not build session: %v\n", err)
		return 1
	}

	report, err := session.Run(ctx, goal)
	fmt.Print(report.Summary())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session did not complete: %v\n", err)
		return 1
	}
	return 0
}

func runInteractive(ctx context.Context, env *environment, cfg *config.Config) int {
	fmt.Printf("forge %s on %s (model %s). Enter a goal, or \"exit\".\n", version, env.repoDir, env.model.Name)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Printf("Session totals: %s\n", env.tracker.Summary())
			return 0
		}

		if code := runGoal(ctx, env, cfg, line); code != 0 {
			fmt.Fprintln(os.Stderr, "Goal failed; repository is at its last good checkpoint.")
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Printf("Session totals: %s\n", env.tracker.Summary())
	return 0
}
