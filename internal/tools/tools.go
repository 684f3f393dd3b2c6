// Package tools implements the Tool Registry (C5): looks up tools by name,
// validates arguments against a declared schema, executes under a bounded
// timeout, and always reduces results to text.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool is one callable function exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema object describing the argument map.
	Schema() map[string]any
	// Timeout overrides the registry default; zero means use the default.
	Timeout() time.Duration
	// Invoke runs the tool. ctx carries the turn's cancellation.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Spec is the describe() output: name/description/schema only, no behavior.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Result is invoke()'s output: always textual, with an explicit error flag
// so tool failures never propagate as orchestrator errors (§7.4).
type Result struct {
	Text    string
	IsError bool
}

// Registry holds the set of tools available to the agent loop.
type Registry struct {
	tools          map[string]Tool
	defaultTimeout time.Duration
}

// NewRegistry creates an empty registry with the given default per-tool
// timeout (30s when defaultTimeout is not positive); a tool's own non-zero
// Timeout overrides it.
func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Registry{tools: make(map[string]Tool), defaultTimeout: defaultTimeout}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Describe lists every registered tool's schema.
func (r *Registry) Describe() []Spec {
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Spec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return out
}

// Invoke looks up name, validates args against its schema, and executes it
// under a bounded timeout. Validation and execution failures are both
// captured as Result{IsError:true}, never returned as an error — tool
// failures stay local per §7.4.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.tools[name]
	if !ok {
		return Result{Text: fmt.Sprintf("unknown tool %q", name), IsError: true}
	}

	if err := validateArgs(t.Schema(), args); err != nil {
		return Result{Text: fmt.Sprintf("argument validation failed: %v", err), IsError: true}
	}

	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		text, err := t.Invoke(callCtx, args)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Result{Text: "cancelled", IsError: true}
		}
		return Result{Text: fmt.Sprintf("timeout after %s", timeout), IsError: true}
	case o := <-done:
		if o.err != nil {
			return Result{Text: o.err.Error(), IsError: true}
		}
		return Result{Text: o.text, IsError: false}
	}
}

func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-args.json", compiled); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	sch, err := compiler.Compile("tool-args.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return sch.Validate(args)
}
