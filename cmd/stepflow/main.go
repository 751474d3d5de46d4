package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stepflow-dev/stepflow/internal/agents"
	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/expressions"
	"github.com/stepflow-dev/stepflow/internal/scheduler"
	"github.com/stepflow-dev/stepflow/internal/store"
	"github.com/stepflow-dev/stepflow/internal/streaming"
	"github.com/stepflow-dev/stepflow/internal/validation"
	"github.com/stepflow-dev/stepflow/pkg/mcp"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(log, os.Args[2:])
	case "serve":
		err = cmdServe(cfg, log)
	case "schedule":
		err = cmdSchedule(log, os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "version":
		fmt.Println(Version)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: stepflow <command>

commands:
  run [-input <json>] <graph.json>   validate and execute a workflow graph
  serve                              start the MCP stdio server
  schedule -cron <expr> [-input <json>] <graph.json>
                                     run a graph on a cron schedule
  validate <graph.json>              validate a workflow graph document
  version                            print the version`)
}

// cmdRun validates and executes a graph, streaming state transitions to
// stderr and printing the final state to stdout.
func cmdRun(log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputJSON := fs.String("input", "", "trigger input as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: stepflow run [-input <json>] <graph.json>")
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	pipeline, err := validation.NewPipeline()
	if err != nil {
		return err
	}
	g, result := pipeline.ValidateDocument(raw)
	if g == nil {
		printJSON(os.Stderr, result)
		return errors.New("graph validation failed")
	}

	var triggerInput any
	if *inputJSON != "" {
		if err := json.Unmarshal([]byte(*inputJSON), &triggerInput); err != nil {
			return fmt.Errorf("invalid -input: %w", err)
		}
	}

	runner, err := newLocalRunner(log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final, err := runner.Run(ctx, g, triggerInput, func(state *schema.ExecutionState) {
		log.Info("state", "status", state.Status, "current_node", state.CurrentNodeID)
	})
	if err != nil {
		return err
	}

	printJSON(os.Stdout, final)
	if final.Status != schema.RunStatusCompleted {
		return fmt.Errorf("run %s: %s", final.Status, final.Error)
	}
	return nil
}

// cmdServe opens the store and serves the MCP tools over stdio until
// interrupted.
func cmdServe(cfg Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	events := store.NewEventLog(st)

	evaluator, err := expressions.NewEvaluator()
	if err != nil {
		return err
	}
	executor := engine.NewExecutor(evaluator, agents.NewMemoryStore(), agents.NewEchoInvoker())
	runner := engine.NewRunner(executor,
		engine.WithLogger(log),
		engine.WithHub(streaming.NewMemoryHub()),
		engine.WithStore(st, events),
	)

	pipeline, err := validation.NewPipeline()
	if err != nil {
		return err
	}

	srv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Runner:   runner,
		Pipeline: pipeline,
		Store:    st,
		Events:   events,
		Logger:   log,
	})

	log.Info("stepflow MCP server listening on stdio", "db_path", cfg.DBPath)
	return srv.Serve(ctx)
}

// cmdSchedule runs a graph on a cron schedule until interrupted.
func cmdSchedule(log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	cronExpr := fs.String("cron", "", "five-field cron expression")
	inputJSON := fs.String("input", "", "trigger input as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cronExpr == "" || fs.NArg() != 1 {
		return errors.New("usage: stepflow schedule -cron <expr> [-input <json>] <graph.json>")
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	pipeline, err := validation.NewPipeline()
	if err != nil {
		return err
	}
	g, result := pipeline.ValidateDocument(raw)
	if g == nil {
		printJSON(os.Stderr, result)
		return errors.New("graph validation failed")
	}

	var triggerInput any
	if *inputJSON != "" {
		if err := json.Unmarshal([]byte(*inputJSON), &triggerInput); err != nil {
			return fmt.Errorf("invalid -input: %w", err)
		}
	}

	runner, err := newLocalRunner(log)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(newEngineStarter(runner), log)
	job := &scheduler.Job{
		ID:             "cli",
		Name:           filepath.Base(fs.Arg(0)),
		CronExpression: *cronExpr,
		Graph:          g,
		TriggerInput:   triggerInput,
		Enabled:        true,
	}
	if err := sched.AddJob(job); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	log.Info("schedule active", "cron", *cronExpr, "graph", fs.Arg(0), "next_run", job.NextRunAt)
	<-ctx.Done()
	sched.Stop()
	return nil
}

// cmdValidate prints the validation result for a graph document.
func cmdValidate(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: stepflow validate <graph.json>")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	pipeline, err := validation.NewPipeline()
	if err != nil {
		return err
	}
	_, result := pipeline.ValidateDocument(raw)

	printJSON(os.Stdout, map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
	if !result.Valid() {
		return errors.New("graph validation failed")
	}
	return nil
}

// newLocalRunner builds a store-less runner with the echo invoker for local runs.
func newLocalRunner(log *slog.Logger) (*engine.Runner, error) {
	evaluator, err := expressions.NewEvaluator()
	if err != nil {
		return nil, err
	}
	executor := engine.NewExecutor(evaluator, agents.NewMemoryStore(), agents.NewEchoInvoker())
	return engine.NewRunner(executor, engine.WithLogger(log)), nil
}

// newEngineStarter adapts a runner to the scheduler's starter contract. A run
// that finalizes with any status other than completed counts as a failure.
func newEngineStarter(runner *engine.Runner) scheduler.StartRunFunc {
	return func(ctx context.Context, g *schema.Graph, triggerInput any) error {
		final, err := runner.Run(ctx, g, triggerInput, nil)
		if err != nil {
			return err
		}
		if final.Status != schema.RunStatusCompleted {
			return schema.NewErrorf(schema.ErrCodeExecution, "run %s: %s", final.Status, final.Error)
		}
		return nil
	}
}

func printJSON(w *os.File, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
