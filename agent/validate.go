package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentcore/runtime/mcp"
)

// schemaValidator compiles and caches a JSON Schema per tool name so
// normalized arguments can be checked against the tool's declared
// InputSchema before a call ever reaches the Policy Middleware, per §4.1's
// "Normalize arguments" step and §7's validation_error outcome.
type schemaValidator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{cached: make(map[string]*jsonschema.Schema)}
}

// refresh rebuilds the validator's known tool set from the Compositor's
// current tool list. Tools without a declared InputSchema are left
// unvalidated (any arguments pass through).
func (v *schemaValidator) refresh(tools []mcp.ToolDescriptor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cached = make(map[string]*jsonschema.Schema, len(tools))
	for _, t := range tools {
		if len(t.InputSchema) == 0 {
			continue
		}
		sch, err := compileSchema(t.Name, t.InputSchema)
		if err != nil {
			// A malformed schema from a child server disables validation for
			// that tool rather than blocking every call to it; the policy
			// evaluator and the tool itself remain the backstop.
			continue
		}
		v.cached[t.Name] = sch
	}
}

func compileSchema(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	url := "mem://tool/" + toolName
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("agent: decoding schema for %q: %w", toolName, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("agent: registering schema for %q: %w", toolName, err)
	}
	return c.Compile(url)
}

// validate checks arguments against the cached schema for tool, if any.
func (v *schemaValidator) validate(tool string, arguments map[string]any) error {
	v.mu.Lock()
	sch := v.cached[tool]
	v.mu.Unlock()
	if sch == nil {
		return nil
	}

	raw, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("agent: encoding arguments for validation: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("agent: decoding arguments for validation: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("agent: arguments for %q failed schema validation: %w", tool, err)
	}
	return nil
}
