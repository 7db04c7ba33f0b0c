// Package bridge maps named method calls from application clients onto the
// device managers.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/chaz8081/wearlink/internal/manager"
)

// Call is one method invocation with its decoded arguments.
type Call struct {
	Method string
	Args   map[string]any
}

// Handler runs a call whose required arguments are present.
type Handler func(ctx context.Context, c *Call) (any, error)

// Param is a required argument. Aliases are accepted in place of Name.
type Param struct {
	Name    string
	Aliases []string
}

// Arg declares a required argument.
func Arg(name string, aliases ...string) Param {
	return Param{Name: name, Aliases: aliases}
}

type route struct {
	handler  Handler
	required []Param
}

// Router maps method names to handlers. It holds no call state.
type Router struct {
	routes map[string]route
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Register adds a handler. Calls missing any of required never reach it.
func (r *Router) Register(method string, h Handler, required ...Param) {
	r.routes[method] = route{handler: h, required: required}
}

// Methods lists the registered method names in order.
func (r *Router) Methods() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle validates c and dispatches it.
func (r *Router) Handle(ctx context.Context, c *Call) (any, error) {
	rt, ok := r.routes[c.Method]
	if !ok {
		slog.Warn("[BRIDGE] unknown method", "method", c.Method)
		return nil, manager.NewError(manager.CodeNotImplemented, "Method not implemented: "+c.Method)
	}

	args := make(map[string]any, len(c.Args))
	for k, v := range c.Args {
		args[k] = v
	}
	for _, p := range rt.required {
		v, ok := lookup(args, p)
		if !ok {
			return nil, manager.NewError(manager.CodeInvalidArgument, "Missing required argument: "+p.Name)
		}
		args[p.Name] = v
	}

	slog.Debug("[BRIDGE] handling method", "method", c.Method)
	return rt.handler(ctx, &Call{Method: c.Method, Args: args})
}

func lookup(args map[string]any, p Param) (any, bool) {
	if v, ok := args[p.Name]; ok && v != nil {
		return v, true
	}
	for _, alias := range p.Aliases {
		if v, ok := args[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func invalidArg(name, want string) error {
	return manager.NewError(manager.CodeInvalidArgument, fmt.Sprintf("Argument %s must be %s", name, want))
}

// String returns argument name as a string.
func (c *Call) String(name string) (string, error) {
	s, ok := c.Args[name].(string)
	if !ok {
		return "", invalidArg(name, "a string")
	}
	return s, nil
}

// Bool returns argument name as a bool.
func (c *Call) Bool(name string) (bool, error) {
	b, ok := c.Args[name].(bool)
	if !ok {
		return false, invalidArg(name, "a boolean")
	}
	return b, nil
}

// Int returns argument name as an int. JSON numbers arrive as float64 and
// must be integral.
func (c *Call) Int(name string) (int, error) {
	switch v := c.Args[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, invalidArg(name, "an integer")
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, invalidArg(name, "an integer")
		}
		return int(n), nil
	default:
		return 0, invalidArg(name, "an integer")
	}
}
