// Package toolcall routes and executes model-requested tool invocations,
// running parallel-capable tools concurrently while preserving the output
// ordering of the originating response.
package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition defines a tool's metadata, concurrency class, and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`

	// Parallel marks the tool safe to run concurrently with other
	// parallel-capable tools. The classification is static per tool.
	Parallel bool `json:"parallel"`

	Handler Handler `json:"-"`
}

// UnknownToolError is a fatal dispatch failure: the model requested a tool
// that was never registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Router holds the registered tools and validates arguments before dispatch
type Router struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// NewCallID generates a tool call identifier
func NewCallID() string {
	return "call_" + gonanoid.Must(12)
}

// Register registers a new tool
func (r *Router) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Bool("parallel", def.Parallel).Msg("Tool registered")

	return nil
}

// ParallelCapable reports the static concurrency class of a tool. Unknown
// tools are serial so the dispatch path can surface the failure in order.
func (r *Router) ParallelCapable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool := r.tools[name]
	return tool != nil && tool.Parallel
}

// Specs returns the registered tools as model tool specifications
func (r *Router) Specs() []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]model.ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, model.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaMap(*tool),
		})
	}

	return specs
}

// Dispatch validates and executes one tool call. Tool failures, including
// argument validation and handler errors, are results that flow back to the
// model. The returned error is reserved for fatal conditions.
func (r *Router) Dispatch(ctx context.Context, call model.FunctionCall) (model.FunctionCallOutput, error) {
	r.mu.RLock()
	tool := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", call.Name).Str("call_id", call.CallID).Msg("Tool not found")
		return model.FunctionCallOutput{}, &UnknownToolError{Name: call.Name}
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		return failure(call, fmt.Sprintf("failed to parse arguments: %v", err)), nil
	}

	if err := validateArguments(schema, args); err != nil {
		log.Error().Str("tool", call.Name).Err(err).Msg("Argument validation failed")
		return failure(call, fmt.Sprintf("argument validation failed: %v", err)), nil
	}

	log.Debug().Str("tool", call.Name).Str("call_id", call.CallID).Msg("Executing tool")

	start := time.Now()
	output, err := tool.Handler(ctx, args)
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Str("tool", call.Name).
			Str("call_id", call.CallID).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		return failure(call, err.Error()), nil
	}

	content, truncated := truncateOutput(output)

	log.Debug().
		Str("tool", call.Name).
		Str("call_id", call.CallID).
		Dur("duration", duration).
		Bool("truncated", truncated).
		Msg("Tool execution completed")

	return model.FunctionCallOutput{CallID: call.CallID, Content: content, Success: true}, nil
}

func failure(call model.FunctionCall, message string) model.FunctionCallOutput {
	return model.FunctionCallOutput{CallID: call.CallID, Content: message, Success: false}
}

// parseArguments decodes the raw JSON argument payload. An empty payload is
// an empty argument set.
func parseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// validateDefinition validates a tool definition
func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// schemaMap builds the JSON Schema document for a tool's parameters
func schemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// generateSchema compiles a tool's parameter schema
func generateSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap(def)))
}

// validateArguments validates parsed arguments against a compiled schema
func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput caps tool output at 10KB
func truncateOutput(output string) (string, bool) {
	const maxSize = 10 * 1024

	if len(output) <= maxSize {
		return output, false
	}

	log.Warn().
		Int("original", len(output)).
		Int("truncated", maxSize).
		Msg("Tool output truncated")

	return output[:maxSize] + "\n... [output truncated]", true
}
