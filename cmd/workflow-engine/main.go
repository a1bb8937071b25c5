// Command workflow-engine runs or resumes a workflow definition against
// an injected agent-query transport.
//
// Usage:
//
//	workflow-engine run my-workflow --config engine.yaml
//	workflow-engine resume my-workflow --checkpoint .workflow/sessions/wf-.../checkpoint.json --from-phase review
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/kestrelflow/workflow-engine/pkg/agentquery"
	"github.com/kestrelflow/workflow-engine/pkg/checkpoint"
	"github.com/kestrelflow/workflow-engine/pkg/config"
	"github.com/kestrelflow/workflow-engine/pkg/engine"
	"github.com/kestrelflow/workflow-engine/pkg/handler"
	"github.com/kestrelflow/workflow-engine/pkg/logger"
	"github.com/kestrelflow/workflow-engine/pkg/metrics"
	"github.com/kestrelflow/workflow-engine/pkg/resolver"
	"github.com/kestrelflow/workflow-engine/pkg/schema"
	"github.com/kestrelflow/workflow-engine/pkg/session"
)

// CLI defines the command-line interface.
type CLI struct {
	Run    RunCmd    `cmd:"" help:"Run a workflow from its first phase."`
	Resume ResumeCmd `cmd:"" help:"Resume a workflow from a saved checkpoint."`

	Config      string `short:"c" help:"Path to engine config YAML." type:"path"`
	BuiltinRoot string `help:"Root directory of builtin workflows/agents/prompts." default:"."`
	LogLevel    string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat   string `help:"Log format (simple or verbose)." default:"simple"`
}

// RunCmd runs a workflow from its first phase.
type RunCmd struct {
	Workflow string `arg:"" help:"Workflow name to resolve and run."`
}

func (c *RunCmd) Run(cli *CLI) error {
	e, _, err := buildEngine(cli)
	if err != nil {
		return err
	}
	result, err := e.Run(context.Background(), c.Workflow)
	if err != nil {
		return err
	}
	return printResult(result)
}

// ResumeCmd resumes a workflow from a previously saved checkpoint.
type ResumeCmd struct {
	Workflow   string `arg:"" help:"Workflow name to resolve and resume."`
	Checkpoint string `help:"Path to checkpoint.json." required:""`
	FromPhase  string `name:"from-phase" help:"Top-level phase name to resume at." required:""`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	e, _, err := buildEngine(cli)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(c.Checkpoint)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var data checkpoint.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse checkpoint: %w", err)
	}

	result, err := e.Resume(context.Background(), c.Workflow, data, c.FromPhase)
	if err != nil {
		return err
	}
	return printResult(result)
}

func buildEngine(cli *CLI) (*engine.Engine, *config.EngineConfig, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	res := resolver.New(cfg.WorkingDirectory, cli.BuiltinRoot, cfg.Scope)
	sessions := session.NewManager(cfg.WorkingDirectory, cfg.Scope)

	e := &engine.Engine{
		Config:   cfg,
		Resolver: res,
		Handlers: handler.NewDefaultRegistry(),
		Schemas:  schema.NewBuiltinRegistry(),
		Sessions: sessions,
		Metrics:  metrics.New(),
		QueryFn:  unconfiguredTransport,
		OnAuditEntry: func(entry session.AuditEntry) {
			slog.Info("audit", "step", entry.Step, "status", entry.Status)
		},
	}
	return e, cfg, nil
}

// unconfiguredTransport is the engine's out-of-the-box QueryFunction: the
// LLM transport is an external collaborator the embedder supplies, never
// something this binary invents. It fails any agent step immediately
// with a message naming the gap, rather than silently no-op'ing. Wire a
// real agentquery.QueryFunction here before running a workflow with
// agent steps.
func unconfiguredTransport(ctx context.Context, opts agentquery.Options) iter.Seq2[agentquery.Message, error] {
	return func(yield func(agentquery.Message, error) bool) {
		yield(agentquery.Message{}, fmt.Errorf("workflow-engine: no agent transport configured; wire an agentquery.QueryFunction into cmd/workflow-engine before running agent steps"))
	}
}

func printResult(result *engine.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Status == engine.StatusFailed {
		os.Exit(1)
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("workflow-engine"),
		kong.Description("Deterministic, resumable workflow execution engine"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
