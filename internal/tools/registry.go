// Package tools is the declarative tool table shared by the MCP surface and
// the dispatcher: argument validation, alias normalisation and the response
// envelope all derive from the same Spec.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/metrics"
)

// ErrUnknownTool is returned by Dispatch for names that match no tool or
// alias. It is a protocol error and never rendered as an envelope.
var ErrUnknownTool = errors.New("unknown tool")

type ArgType string

const (
	String  ArgType = "string"
	Boolean ArgType = "boolean"
)

type Arg struct {
	Name        string
	Aliases     []string
	Type        ArgType
	Description string
	Required    bool
}

// Args holds validated arguments keyed by canonical name.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

type Handler func(ctx context.Context, args Args) (string, error)

type Spec struct {
	Name        string
	Aliases     []string
	Description string
	Args        []Arg
	Handler     Handler
}

// InputSchema describes the tool's arguments, aliases included, as a JSON
// object schema. Only canonical names are listed as required.
func (s Spec) InputSchema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(s.Args))
	var required []string
	for _, a := range s.Args {
		props[a.Name] = &jsonschema.Schema{Type: string(a.Type), Description: a.Description}
		for _, alias := range a.Aliases {
			props[alias] = &jsonschema.Schema{Type: string(a.Type), Description: "Alias of " + a.Name + "."}
		}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the uniform result envelope. A response carries either a
// result or an error text, never both.
type Response struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

func Text(s string) Response {
	return Response{Content: []Content{{Type: "text", Text: s}}}
}

func ErrorText(s string) Response {
	return Response{Content: []Content{{Type: "text", Text: s}}, IsError: true}
}

type Request struct {
	Name      string
	Arguments map[string]any
}

type Registry struct {
	specs []Spec
	names map[string]int
}

// NewRegistry indexes specs by name and alias. Duplicate names are a
// programming error and panic.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{names: make(map[string]int)}
	for _, s := range specs {
		idx := len(r.specs)
		r.specs = append(r.specs, s)
		for _, n := range append([]string{s.Name}, s.Aliases...) {
			if _, dup := r.names[n]; dup {
				panic(fmt.Sprintf("tools: duplicate tool name %q", n))
			}
			r.names[n] = idx
		}
	}
	return r
}

// Specs returns the registered tools in registration order.
func (r *Registry) Specs() []Spec {
	return append([]Spec(nil), r.specs...)
}

// Names lists every callable name, aliases included, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	idx, ok := r.names[name]
	if !ok {
		return Spec{}, false
	}
	return r.specs[idx], true
}

// Dispatch validates req against the named tool and runs its handler.
// In-tool failures, invalid arguments included, come back as an isError
// envelope with a nil error.
func (r *Registry) Dispatch(ctx context.Context, req Request) (Response, error) {
	spec, ok := r.Lookup(req.Name)
	if !ok {
		AuditLog("tool_unknown", auditUser, req.Name, "no such tool", false)
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownTool, req.Name)
	}
	start := time.Now()

	args, err := spec.normalize(req.Arguments)
	if err != nil {
		metrics.ObserveToolCall(spec.Name, "invalid", time.Since(start))
		AuditLog(spec.Name+"_input_validation_failed", auditUser, "", err.Error(), false)
		log.Debug().Str("tool", spec.Name).Err(err).Msg("input validation failed")
		return ErrorText(err.Error()), nil
	}

	detail := spec.primary(args)
	log.Debug().Str("tool", spec.Name).Str("called_as", req.Name).Str("input", detail).Msg("request")
	out, err := spec.Handler(ctx, args)
	if err != nil {
		metrics.ObserveToolCall(spec.Name, "error", time.Since(start))
		AuditLog(spec.Name+"_failed", auditUser, detail, err.Error(), false)
		log.Debug().Str("tool", spec.Name).Err(err).Dur("dur", time.Since(start)).Msg("tool failed")
		return ErrorText(err.Error()), nil
	}
	metrics.ObserveToolCall(spec.Name, "ok", time.Since(start))
	AuditLog(spec.Name+"_success", auditUser, detail, fmt.Sprintf("%d bytes", len(out)), true)
	log.Debug().Str("tool", spec.Name).Dur("dur", time.Since(start)).Msg("done")
	return Text(out), nil
}

func (s Spec) normalize(in map[string]any) (Args, error) {
	args := make(Args, len(s.Args))
	for _, a := range s.Args {
		v, present := in[a.Name]
		if !present || v == nil {
			for _, alias := range a.Aliases {
				if av, ok := in[alias]; ok && av != nil {
					v, present = av, true
					break
				}
			}
		}
		if !present || v == nil {
			if a.Required {
				return nil, fmt.Errorf("missing required argument %q", a.Name)
			}
			continue
		}
		switch a.Type {
		case Boolean:
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("argument %q must be a boolean", a.Name)
			}
			args[a.Name] = b
		default:
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q must be a string", a.Name)
			}
			if a.Required && strings.TrimSpace(str) == "" {
				return nil, fmt.Errorf("argument %q must not be empty", a.Name)
			}
			args[a.Name] = str
		}
	}
	return args, nil
}

// primary is the value of the first required string argument, for logs.
func (s Spec) primary(args Args) string {
	for _, a := range s.Args {
		if a.Required && a.Type == String {
			return args.String(a.Name)
		}
	}
	return ""
}

// MCP doesn't expose the caller identity to tool handlers.
const auditUser = "mcp-client"

// AuditLog logs security-relevant events.
func AuditLog(event, user, query, result string, success bool) {
	log.Info().
		Str("event", event).
		Str("user", user).
		Str("query", query).
		Str("result", result).
		Bool("success", success).
		Msg("audit_log")
}
