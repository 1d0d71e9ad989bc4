// Package exec runs skill entry points inside ephemeral sandboxed
// workspaces. Each supported script runtime contributes an Invoker; the
// Adapter owns input shaping, timeouts and the declared output mapping.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dohr-michael/skillhub/internal/bundle"
	"github.com/dohr-michael/skillhub/internal/events"
)

var (
	// ErrEntryPointNotFound is returned when a skill declares no
	// entrypoint, its entry file is absent, or the named function does
	// not exist in the loaded script.
	ErrEntryPointNotFound = errors.New("entry point not found")
	// ErrMissingRequiredInput is returned when a declared required field
	// has neither a provided value nor a default.
	ErrMissingRequiredInput = errors.New("missing required input")
	// ErrOutputAdapterMismatch is returned when the declared output
	// mapping names a raw field the script did not produce.
	ErrOutputAdapterMismatch = errors.New("output adapter mismatch")
	// ErrUnsupportedRuntime is returned when no invoker handles the
	// entry file's type.
	ErrUnsupportedRuntime = errors.New("unsupported script runtime")
	// ErrRuntimeFault wraps script crashes, raised errors and timeouts.
	ErrRuntimeFault = errors.New("script runtime fault")
)

// Invoker loads one script runtime and calls a function in it.
type Invoker interface {
	Invoke(ctx context.Context, ws *Workspace, file, function string, input map[string]any) (map[string]any, error)
}

// Result is the outcome of one skill execution.
type Result struct {
	SkillID  string         `json:"skill_id"`
	Output   map[string]any `json:"output"`
	Raw      map[string]any `json:"raw,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Adapter executes assembled skill bundles.
type Adapter struct {
	invokers       map[string]Invoker
	defaultTimeout time.Duration
	bus            *events.Bus // optional
}

// NewAdapter creates an adapter with the built-in Lua and WASM runtimes
// registered. bus may be nil.
func NewAdapter(defaultTimeout time.Duration, bus *events.Bus) *Adapter {
	return &Adapter{
		invokers: map[string]Invoker{
			".lua":  &LuaInvoker{},
			".wasm": &WasmInvoker{},
		},
		defaultTimeout: defaultTimeout,
		bus:            bus,
	}
}

// Register installs an invoker for a file extension (with leading dot).
func (a *Adapter) Register(ext string, inv Invoker) {
	a.invokers[strings.ToLower(ext)] = inv
}

// Execute runs the bundle's entry point with the collected fields.
func (a *Adapter) Execute(ctx context.Context, b *bundle.Bundle, fields map[string]any) (*Result, error) {
	skillID := b.Metadata.SkillID

	spec, err := b.Spec()
	if err != nil {
		return nil, err
	}
	entry := spec.Entrypoint
	if entry == nil || entry.File == "" {
		return nil, fmt.Errorf("skill %s declares no entrypoint: %w", skillID, ErrEntryPointNotFound)
	}
	if _, ok := b.File(entry.File); !ok {
		return nil, fmt.Errorf("skill %s entry file %q not in bundle: %w", skillID, entry.File, ErrEntryPointNotFound)
	}

	invoker, ok := a.invokers[strings.ToLower(filepath.Ext(entry.File))]
	if !ok {
		return nil, fmt.Errorf("skill %s entry file %q: %w", skillID, entry.File, ErrUnsupportedRuntime)
	}

	input, err := buildInput(spec, fields)
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", skillID, err)
	}

	ws, err := Materialize(b)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	timeout := entry.Timeout.Duration()
	if timeout <= 0 {
		timeout = a.defaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := invoker.Invoke(runCtx, ws, entry.File, entry.Function, input)
	elapsed := time.Since(start)
	if err != nil {
		a.publishFailure(skillID, err)
		if errors.Is(err, ErrEntryPointNotFound) {
			return nil, fmt.Errorf("skill %s: %w", skillID, err)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("skill %s timed out after %s: %w", skillID, timeout, ErrRuntimeFault)
		}
		return nil, fmt.Errorf("skill %s: %v: %w", skillID, err, ErrRuntimeFault)
	}

	output, err := adaptOutput(spec, raw)
	if err != nil {
		a.publishFailure(skillID, err)
		return nil, fmt.Errorf("skill %s: %w", skillID, err)
	}

	slog.Debug("skill executed", "skill", skillID, "entry", entry.File, "duration", elapsed)
	if a.bus != nil {
		a.bus.Publish(events.NewEvent(events.EventSkillExecuted, events.SourceExecutor, map[string]any{
			"skill_id":    skillID,
			"duration_ms": elapsed.Milliseconds(),
		}))
	}
	return &Result{SkillID: skillID, Output: output, Raw: raw, Duration: elapsed}, nil
}

// buildInput shapes the script input from the collected fields. Declared
// fields get defaults; required fields without a value fail. Skills that
// declare no groups take the fields as-is.
func buildInput(spec *bundle.SkillSpec, fields map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(fields))
	if !spec.HasGroups() {
		for k, v := range fields {
			input[k] = v
		}
		return input, nil
	}

	for _, f := range spec.AllFields() {
		if v, ok := fields[f.Name]; ok {
			input[f.Name] = v
			continue
		}
		if f.Default != nil {
			input[f.Name] = f.Default
			continue
		}
		if f.Required {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrMissingRequiredInput)
		}
	}
	return input, nil
}

// adaptOutput applies the declared output mapping. Each declared name
// must resolve to a field the script actually produced; without a
// mapping the raw output passes through.
func adaptOutput(spec *bundle.SkillSpec, raw map[string]any) (map[string]any, error) {
	if len(spec.Output) == 0 {
		return raw, nil
	}
	out := make(map[string]any, len(spec.Output))
	for name, rawKey := range spec.Output {
		v, ok := raw[rawKey]
		if !ok {
			return nil, fmt.Errorf("declared output %q maps to absent field %q: %w", name, rawKey, ErrOutputAdapterMismatch)
		}
		out[name] = v
	}
	return out, nil
}

func (a *Adapter) publishFailure(skillID string, err error) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.NewEvent(events.EventSkillFailed, events.SourceExecutor, map[string]any{
		"skill_id": skillID,
		"error":    err.Error(),
	}))
}
