package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ToolFunc is a host capability invoked by the model. args is the JSON
// object the model produced; the returned value is serialised to JSON and
// sent back as the call output.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any `json:"parameters"`
}

// Tool pairs a definition with its implementation.
type Tool struct {
	ToolDefinition
	Func ToolFunc
}

// NewTool builds a Tool from a typed handler. Arguments are unmarshalled into
// T before fn is called.
func NewTool[T, R any](name, description string, params map[string]any, fn func(ctx context.Context, in T) (R, error)) Tool {
	return Tool{
		ToolDefinition: ToolDefinition{Name: name, Description: description, Parameters: params},
		Func: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in T
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			return fn(ctx, in)
		},
	}
}

// ErrDuplicateTool is returned by [Registry.Register] when the name is taken.
var ErrDuplicateTool = errors.New("realtime: tool already registered")

// Registry maps tool names to implementations. Registration is additive;
// there is no removal. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique and non-empty.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("realtime: tool name must not be empty")
	}
	if t.Func == nil {
		return fmt.Errorf("realtime: tool %q has no function", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the manifest in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, len(r.order))
	for i, name := range r.order {
		out[i] = r.tools[name].ToolDefinition
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ── Tool calls ─────────────────────────────────────────────────────────────────

type callState int

const (
	callPending callState = iota
	callExecuted
	callFailed
)

// toolCall is one model-requested invocation, tracked from the first frame
// that mentions it until the output item completes.
type toolCall struct {
	callID string
	itemID string
	name   string
	args   strings.Builder
	state  callState
}

// toolCalls indexes in-flight calls by call id and item id. It is owned by
// the session loop and needs no locking.
type toolCalls struct {
	byCall map[string]*toolCall
	byItem map[string]*toolCall
}

func newToolCalls() *toolCalls {
	return &toolCalls{byCall: make(map[string]*toolCall), byItem: make(map[string]*toolCall)}
}

// track returns the call matching callID or itemID, creating it if needed.
func (c *toolCalls) track(callID, itemID, name string) *toolCall {
	tc := c.find(callID, itemID)
	if tc == nil {
		tc = &toolCall{}
	}
	if callID != "" {
		tc.callID = callID
		c.byCall[callID] = tc
	}
	if itemID != "" {
		tc.itemID = itemID
		c.byItem[itemID] = tc
	}
	if name != "" {
		tc.name = name
	}
	return tc
}

func (c *toolCalls) find(callID, itemID string) *toolCall {
	if tc, ok := c.byCall[callID]; ok && callID != "" {
		return tc
	}
	if tc, ok := c.byItem[itemID]; ok && itemID != "" {
		return tc
	}
	return nil
}

func (c *toolCalls) forget(tc *toolCall) {
	if tc.callID != "" {
		delete(c.byCall, tc.callID)
	}
	if tc.itemID != "" {
		delete(c.byItem, tc.itemID)
	}
}

func (c *toolCalls) len() int { return len(c.byCall) + len(c.byItem) }

// resolveArguments picks the argument payload for a completed call: the
// complete string from the done frame wins over the accumulated deltas, and
// an empty payload is treated as an empty object.
func resolveArguments(done string, buffered string) json.RawMessage {
	args := strings.TrimSpace(done)
	if args == "" {
		args = strings.TrimSpace(buffered)
	}
	if args == "" {
		args = "{}"
	}
	return json.RawMessage(args)
}

type toolFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// failureOutput encodes err as {"success":false,"error":msg}.
func failureOutput(err error) string {
	msg := err.Error()
	if msg == "" {
		msg = "tool failed"
	}
	b, _ := json.Marshal(toolFailure{Success: false, Error: msg})
	return string(b)
}

// invokeTool runs t and returns the output string for the call result
// frame. Argument errors, returned errors and panics all become a failure
// payload; err reports which happened.
func invokeTool(ctx context.Context, t Tool, args json.RawMessage) (output string, err error) {
	if !json.Valid(args) {
		err = fmt.Errorf("invalid JSON arguments for %s", t.Name)
		return failureOutput(err), err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, r)
			output = failureOutput(err)
		}
	}()

	res, err := t.Func(ctx, args)
	if err != nil {
		return failureOutput(err), err
	}
	b, err := json.Marshal(res)
	if err != nil {
		err = fmt.Errorf("encode result of %s: %w", t.Name, err)
		return failureOutput(err), err
	}
	return string(b), nil
}
