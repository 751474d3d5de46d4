package expressions

import (
	"strings"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// ResolvePath resolves a dot-path reference against the execution context.
// If the first segment is the literal "trigger", the remaining segments walk
// the trigger object. Otherwise the first segment is a node ID: the remaining
// segments walk that node's step result (so "agent-1.output.message"
// dereferences output.message of that step). Returns (nil, false) when the
// referenced step has not run, a segment is absent, or the walk hits a
// non-object value. Pure read of the context as it exists at call time.
func ResolvePath(path string, ec *schema.ExecutionContext) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}

	var root map[string]any
	if segments[0] == "trigger" {
		root = ec.TriggerFields()
	} else {
		step, ok := ec.Steps[segments[0]]
		if !ok {
			return nil, false
		}
		root = step.Fields()
	}

	return walk(root, segments[1:])
}

// walk descends into nested maps one segment at a time. Any attempt to walk
// into a non-object short-circuits to undefined.
func walk(root map[string]any, segments []string) (any, bool) {
	var current any = root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
