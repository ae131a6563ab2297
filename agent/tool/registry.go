package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// Tool is one registered capability. Params declares the input schema that the
// registry enforces before Invoke is called.
type Tool interface {
	Name() string
	Description() string
	Params() map[string]*schema.ParameterInfo
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

type funcTool struct {
	name   string
	desc   string
	params map[string]*schema.ParameterInfo
	fn     func(ctx context.Context, params map[string]any) (any, error)
}

// NewFunc wraps fn as a Tool.
func NewFunc(name, desc string, params map[string]*schema.ParameterInfo, fn func(ctx context.Context, params map[string]any) (any, error)) Tool {
	return &funcTool{name: name, desc: desc, params: params, fn: fn}
}

func (t *funcTool) Name() string                             { return t.name }
func (t *funcTool) Description() string                      { return t.desc }
func (t *funcTool) Params() map[string]*schema.ParameterInfo { return t.params }
func (t *funcTool) Invoke(ctx context.Context, params map[string]any) (any, error) {
	return t.fn(ctx, params)
}

// Registry maps tool names to tools. It is built once and read-only afterwards,
// so concurrent Invoke calls need no locking.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*openapi3.Schema
	names   []string
}

var _ contractx.ToolInvoker = (*Registry)(nil)

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*openapi3.Schema, len(tools)),
	}
	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("%w: nil tool", contractx.ErrValidation)
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
		}
		if name == contractx.RespondTool {
			return nil, fmt.Errorf("%w: tool name %q is reserved", contractx.ErrValidation, name)
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("%w: tool=%s registered twice", contractx.ErrValidation, name)
		}
		sc, err := paramsSchema(t.Params())
		if err != nil {
			return nil, fmt.Errorf("%w: tool=%s: params schema: %v", contractx.ErrValidation, name, err)
		}
		r.tools[name] = t
		r.schemas[name] = sc
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func MustNewRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Spec is the prompt-facing description of a tool.
type Spec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Params      map[string]ParamSpec `json:"params,omitempty"`
}

type ParamSpec struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *ParamSpec           `json:"items,omitempty"`
	Properties  map[string]ParamSpec `json:"properties,omitempty"`
}

// Specs describes every tool, in name order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		out = append(out, Spec{
			Name:        name,
			Description: t.Description(),
			Params:      paramSpecs(t.Params()),
		})
	}
	return out
}

func paramSpecs(params map[string]*schema.ParameterInfo) map[string]ParamSpec {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]ParamSpec, len(params))
	for name, info := range params {
		if info != nil {
			out[name] = paramSpec(info)
		}
	}
	return out
}

func paramSpec(info *schema.ParameterInfo) ParamSpec {
	ps := ParamSpec{
		Type:        string(info.Type),
		Description: info.Desc,
		Required:    info.Required,
		Enum:        info.Enum,
		Properties:  paramSpecs(info.SubParams),
	}
	if info.ElemInfo != nil {
		items := paramSpec(info.ElemInfo)
		ps.Items = &items
	}
	return ps
}

// Invoke validates params against the tool schema and runs the tool. Errors are
// always typed: ErrUnknownTool, ErrInvalidParams or *ToolExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (contractx.ToolResult, error) {
	t, ok := r.tools[name]
	if !ok {
		return failed(name, fmt.Errorf("%w: tool=%s", contractx.ErrUnknownTool, name))
	}
	if err := validateParams(r.schemas[name], params); err != nil {
		return failed(name, fmt.Errorf("%w: tool=%s: %v", contractx.ErrInvalidParams, name, err))
	}

	out, err := safeInvoke(ctx, t, params)
	if err != nil {
		if errors.Is(err, contractx.ErrInvalidParams) {
			return failed(name, err)
		}
		return failed(name, &contractx.ToolExecutionError{Tool: name, Err: err})
	}
	return contractx.ToolResult{Tool: name, Status: contractx.ToolOK, Result: out}, nil
}

func safeInvoke(ctx context.Context, t Tool, params map[string]any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return t.Invoke(ctx, params)
}

func failed(name string, err error) (contractx.ToolResult, error) {
	return contractx.ToolResult{Tool: name, Status: contractx.ToolError, Error: err.Error()}, err
}
