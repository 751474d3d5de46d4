package validation

import (
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Pipeline validates a raw graph document end to end: JSON Schema shape
// first, then the semantic graph checks.
type Pipeline struct {
	schemaValidator *JSONSchemaValidator
}

// NewPipeline creates a validation Pipeline.
func NewPipeline() (*Pipeline, error) {
	sv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{schemaValidator: sv}, nil
}

// ValidateDocument parses and validates a raw graph document. On success the
// parsed graph is returned alongside the result, which may still carry
// warnings.
func (p *Pipeline) ValidateDocument(raw []byte) (*schema.Graph, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	if err := p.schemaValidator.ValidateDocument(raw); err != nil {
		result.AddError("", "schema", err.Error())
		return nil, result
	}

	g, err := schema.ParseGraph(raw)
	if err != nil {
		result.AddError("", "parse", err.Error())
		return nil, result
	}

	result.Merge(ValidateGraph(g))
	if !result.Valid() {
		return nil, result
	}
	return g, result
}

// ValidateInput validates trigger input against an optional JSON Schema.
func (p *Pipeline) ValidateInput(input any, inputSchema []byte) error {
	return p.schemaValidator.ValidateInput(input, inputSchema)
}
