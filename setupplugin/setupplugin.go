// Package setupplugin loads and runs the installer's ISetup contract as a
// WASM module: a plugin exporting name, description, json_schema and run,
// invoked with Extism and no network host-function surface, since a setup
// plugin configures the machine it's running on, not a remote target.
package setupplugin

import (
	"context"
	"encoding/json"
	"fmt"

	extism "github.com/extism/go-sdk"
)

// Plugin is the narrow contract a setup plugin must satisfy: metadata
// exports plus a single run entry point that returns a process-style exit
// code instead of an arbitrary result value, matching how the installer
// driver treats its child setup step.
type Plugin interface {
	Name() string
	Description() string
	JSONSchema() json.RawMessage
	Run(ctx context.Context, args json.RawMessage) (exitCode int, err error)
	Close() error
}

// Load compiles and instantiates a setup plugin from raw WASM bytes.
func Load(data []byte) (Plugin, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: data},
		},
	}
	config := extism.PluginConfig{
		EnableWasi: true,
	}

	ctx := context.Background()
	instance, err := extism.NewPlugin(ctx, manifest, config, nil)
	if err != nil {
		return nil, fmt.Errorf("setupplugin: create extism plugin: %w", err)
	}
	return &wasmPlugin{plugin: instance, ctx: ctx}, nil
}

type wasmPlugin struct {
	plugin *extism.Plugin
	ctx    context.Context
}

func (p *wasmPlugin) Close() error {
	return p.plugin.Close(p.ctx)
}

func (p *wasmPlugin) Name() string {
	result, err := p.callString("name")
	if err != nil {
		return ""
	}
	return result
}

func (p *wasmPlugin) Description() string {
	result, err := p.callString("description")
	if err != nil {
		return ""
	}
	return result
}

func (p *wasmPlugin) JSONSchema() json.RawMessage {
	result, err := p.callString("json_schema")
	if err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(result)
}

// Run invokes the plugin's run export with args as its JSON input. A
// nonzero exitCode from the WASM call is not itself an error: it is the
// setup step's declared failure code, which the installer driver uses to
// decide whether to preserve the extraction directory for diagnosis.
func (p *wasmPlugin) Run(ctx context.Context, args json.RawMessage) (int, error) {
	exitCode, _, err := p.plugin.Call("run", []byte(args))
	if err != nil {
		return int(exitCode), fmt.Errorf("setupplugin: call run: %w", err)
	}
	return int(exitCode), nil
}

func (p *wasmPlugin) callString(export string) (string, error) {
	exitCode, result, err := p.plugin.Call(export, nil)
	if err != nil {
		return "", fmt.Errorf("setupplugin: call %s: %w", export, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("setupplugin: %s returned exit code %d", export, exitCode)
	}
	return string(result), nil
}
