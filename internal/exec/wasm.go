package exec

import (
	"context"
	"encoding/json"
	"fmt"

	extism "github.com/extism/go-sdk"
)

// WasmInvoker runs .wasm entry files through Extism with WASI enabled
// and deny-by-default capabilities: no host access, no network, only the
// workspace file mounted.
type WasmInvoker struct{}

func (i *WasmInvoker) Invoke(ctx context.Context, ws *Workspace, file, function string, input map[string]any) (map[string]any, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmFile{Path: ws.Path(file)},
		},
	}

	plugin, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", file, err)
	}
	defer plugin.Close(ctx)

	if !plugin.FunctionExists(function) {
		return nil, fmt.Errorf("module %s exports no function %q: %w", file, function, ErrEntryPointNotFound)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	_, out, err := plugin.CallWithContext(ctx, function, payload)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", function, err)
	}

	if len(out) == 0 {
		return map[string]any{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode output of %s: %w", function, err)
	}
	return raw, nil
}
