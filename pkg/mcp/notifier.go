package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// RunNotifier pushes run completion notifications to the session that
// started the run.
type RunNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewRunNotifier creates a notifier that pushes via the MCP server.
func NewRunNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *RunNotifier {
	return &RunNotifier{mcpServer: mcpServer, sessions: sessions}
}

// NotifyFinished tells the originating session that a run reached a terminal
// status. Best-effort: returns nil if the session is gone.
func (n *RunNotifier) NotifyFinished(_ context.Context, state *schema.ExecutionState) error {
	sessionID, ok := n.sessions.SessionFor(state.RunID)
	if !ok {
		return nil // detached run, best-effort
	}

	payload := map[string]any{
		"run_id": state.RunID,
		"status": string(state.Status),
	}
	if state.Error != "" {
		payload["error"] = state.Error
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send, not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
