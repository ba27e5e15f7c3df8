// Package tools holds the static catalogue of operations the model may
// request: declarative schemas for the model side, implementations wired to
// the session's stores on ours.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"hargraph/internal/gemini"
)

// Param declares one tool argument.
type Param struct {
	Type        string // "string", "number", "boolean", "object", "array"
	Description string
	Required    bool
	Items       string // element type for array params
}

// Definition is the declarative half of a tool: its name, what it does, and
// the argument shape the model must produce.
type Definition struct {
	Name        string
	Description string
	Params      map[string]Param
}

// Handler is the implementation half. It receives the explicit session
// handle rather than reaching into any ambient state, and returns a
// JSON-serializable result or an error.
type Handler func(ctx context.Context, sess *Session, args map[string]any) (any, error)

type registration struct {
	def     Definition
	handler Handler
}

// Registry is an ordered, immutable-after-startup catalogue of tools.
type Registry struct {
	order  []string
	byName map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registration)}
}

// Register adds a tool. Registering a duplicate name panics: the catalogue
// is assembled once at startup and a collision is a programming error.
func (r *Registry) Register(def Definition, h Handler) {
	if _, exists := r.byName[def.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", def.Name))
	}
	r.order = append(r.order, def.Name)
	r.byName[def.Name] = registration{def: def, handler: h}
}

// Definitions returns the catalogue in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].def)
	}
	return defs
}

// Dispatch looks up and runs a tool. The returned map is always one of
// {"result": ...} or {"error": ...} — unknown tools, handler errors, and
// handler panics are all converted; nothing propagates to the caller.
func (r *Registry) Dispatch(ctx context.Context, sess *Session, name string, args map[string]any) (out map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			out = map[string]any{"error": fmt.Sprintf("tool %s panicked: %v", name, rec)}
		}
	}()

	reg, ok := r.byName[name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool: %s", name)}
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := reg.handler(ctx, sess, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"result": result}
}

// Declarations converts the catalogue into the wire shape sent to the model.
func (r *Registry) Declarations() []gemini.FunctionDeclaration {
	defs := r.Definitions()
	decls := make([]gemini.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, declaration(def))
	}
	return decls
}

func declaration(def Definition) gemini.FunctionDeclaration {
	decl := gemini.FunctionDeclaration{
		Name:        def.Name,
		Description: def.Description,
	}
	if len(def.Params) == 0 {
		return decl
	}

	schema := &gemini.Schema{
		Type:       "object",
		Properties: make(map[string]*gemini.Schema, len(def.Params)),
	}
	for name, p := range def.Params {
		prop := &gemini.Schema{Type: p.Type, Description: p.Description}
		if p.Type == "array" && p.Items != "" {
			prop.Items = &gemini.Schema{Type: p.Items}
		}
		schema.Properties[name] = prop
		if p.Required {
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)
	decl.Parameters = schema
	return decl
}
