package agents

import (
	"context"
	"sync"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Agent is the configuration record an agent node resolves before invocation.
type Agent struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	Instructions string         `json:"instructions,omitempty"`
	ModelConfig  map[string]any `json:"model_config,omitempty"`
}

// ValidateAgent checks required fields on an Agent.
func ValidateAgent(agent *Agent) error {
	if agent.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent id is required")
	}
	if agent.DisplayName == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent display_name is required")
	}
	return nil
}

// Store resolves agent configurations by ID. Implementations return a
// FlowError with code NOT_FOUND when the agent does not exist.
type Store interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
}

// Message is one turn of conversation history passed to an invoker.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PartialFunc receives incremental partial-text notifications emitted by an
// invoker before the final text is returned.
type PartialFunc func(text string)

// Invoker executes an agent call. Implementations must honor ctx cancellation
// by aborting the underlying call, and may invoke onPartial zero or more
// times before returning the final text. onPartial may be nil.
type Invoker interface {
	Invoke(ctx context.Context, message string, agent *Agent, history []Message, onPartial PartialFunc) (string, error)
}

// MemoryStore is a thread-safe in-memory Store, used by the CLI and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

// Register validates and stores an agent, overwriting any existing record
// with the same ID.
func (s *MemoryStore) Register(agent *Agent) error {
	if err := ValidateAgent(agent); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
	return nil
}

// GetAgent returns the agent with the given ID.
func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent not found: %s", id)
	}
	return agent, nil
}

var _ Store = (*MemoryStore)(nil)
