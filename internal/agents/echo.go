package agents

import "context"

// EchoInvoker answers every invocation with the message it received,
// streaming it as a single delta. It stands in for a model backend in local
// runs and tests.
type EchoInvoker struct{}

// NewEchoInvoker creates an EchoInvoker.
func NewEchoInvoker() *EchoInvoker {
	return &EchoInvoker{}
}

// Invoke returns the message unchanged.
func (e *EchoInvoker) Invoke(ctx context.Context, message string, _ *Agent, _ []Message, onPartial PartialFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if onPartial != nil {
		onPartial(message)
	}
	return message, nil
}

var _ Invoker = (*EchoInvoker)(nil)
