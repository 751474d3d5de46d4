package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/store"
	"github.com/stepflow-dev/stepflow/internal/validation"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// FlowRunner executes a workflow graph. Implemented by engine.Runner.
type FlowRunner interface {
	Run(ctx context.Context, graph *schema.Graph, triggerInput any, onStateChange engine.StateCallback) (*schema.ExecutionState, error)
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Runner   FlowRunner
	Pipeline *validation.Pipeline
	Store    store.Store
	Events   *store.EventLog
	Logger   *slog.Logger
}

// FlowServer wraps an MCP server with workflow tool handlers.
type FlowServer struct {
	runner   FlowRunner
	pipeline *validation.Pipeline
	store    store.Store
	events   *store.EventLog
	logger   *slog.Logger

	sessions  *SessionRegistry
	notifier  *RunNotifier
	tracker   *runTracker
	mcpServer *server.MCPServer
}

// NewFlowServer creates a FlowServer with all 5 tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		runner:   deps.Runner,
		pipeline: deps.Pipeline,
		store:    deps.Store,
		events:   deps.Events,
		logger:   logger,
		sessions: NewSessionRegistry(),
		tracker:  newRunTracker(),
	}

	mcpSrv := server.NewMCPServer(
		"stepflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepflow executes workflow graphs of generic, agent, and branch nodes. Use flow.run to execute a graph, flow.status to inspect a run, flow.cancel to stop one, flow.validate to check a graph document, and flow.query to list runs or events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Execute a workflow graph"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Workflow graph document with nodes and edges")),
		mcp.WithObject("trigger_input", mcp.Description("Input passed to the run's trigger context")),
		mcp.WithBoolean("wait", mcp.Description("Block until the run finishes and return the final state (default: true). When false, returns the run ID immediately")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get the current state of a workflow run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flow.cancel",
		mcp.WithDescription("Cancel a running workflow. Cancellation is cooperative: the run stops before its next node"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flow.validate",
		mcp.WithDescription("Validate a workflow graph document without executing it. Returns structural errors and semantic warnings"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Workflow graph document to validate")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flow.query",
		mcp.WithDescription("Query persisted runs or run events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, since, limit for runs; run_id, since_sequence for events)")),
	)
}
