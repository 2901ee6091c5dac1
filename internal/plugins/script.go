package plugins

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/avionicsdev/mach/internal/bundle"
)

// Hook functions a plugin script may define. A script must define at least
// one of them.
const (
	resolveHookName  = "OnResolve"
	buildEndHookName = "OnBuildEnd"
)

// ScriptPlugin is a user plugin loaded from an interpreted Go source file.
//
// The script declares its hooks as top level functions:
//
//	func OnResolve(path, importer string) (string, bool)
//	func OnBuildEnd(result map[string]any) error
//
// OnResolve may redirect an import specifier to a different path; returning
// false passes the import through untouched. OnBuildEnd runs after every
// successful build and may perform side-effecting I/O. A hook error fails
// that build.
type ScriptPlugin struct {
	name       string
	onResolve  reflect.Value
	onBuildEnd reflect.Value
}

// LoadScript interprets the plugin source at path and binds its hooks.
func LoadScript(name, path string) (*ScriptPlugin, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: read %s: %w", name, path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin %s: %s is empty", name, path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin %s: load interpreter symbols: %w", name, err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin %s: interpret %s: %w", name, path, err)
	}

	p := &ScriptPlugin{name: name}
	p.onResolve = hookFunc(i, resolveHookName)
	p.onBuildEnd = hookFunc(i, buildEndHookName)
	if !p.onResolve.IsValid() && !p.onBuildEnd.IsValid() {
		return nil, fmt.Errorf("plugin %s: %s defines neither %s nor %s", name, path, resolveHookName, buildEndHookName)
	}
	return p, nil
}

// hookFunc binds an optional hook. A symbol that is missing or not a
// function yields an invalid value; result shapes are checked at call time.
func hookFunc(i *interp.Interpreter, name string) reflect.Value {
	v, err := i.Eval(name)
	if err != nil || v.Kind() != reflect.Func {
		return reflect.Value{}
	}
	return v
}

func (p *ScriptPlugin) PluginName() string {
	return p.name
}

func (p *ScriptPlugin) ResolveImport(args bundle.ResolveArgs) (*bundle.ResolveResult, error) {
	if !p.onResolve.IsValid() {
		return nil, nil
	}
	results, err := callHook(p.onResolve, resolveHookName, 2,
		reflect.ValueOf(args.Path), reflect.ValueOf(args.Importer))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.name, err)
	}
	if results[0].Kind() != reflect.String || results[1].Kind() != reflect.Bool {
		return nil, fmt.Errorf("plugin %s: %s must return (string, bool)", p.name, resolveHookName)
	}
	if !results[1].Bool() {
		return nil, nil
	}
	return &bundle.ResolveResult{Path: results[0].String()}, nil
}

func (p *ScriptPlugin) BuildEnd(res *bundle.Result) error {
	if !p.onBuildEnd.IsValid() {
		return nil
	}
	results, err := callHook(p.onBuildEnd, buildEndHookName, 1, reflect.ValueOf(resultPayload(res)))
	if err != nil {
		return fmt.Errorf("plugin %s: %w", p.name, err)
	}
	out := results[0]
	if out.Kind() != reflect.Interface && out.Kind() != reflect.Ptr {
		return fmt.Errorf("plugin %s: %s must return error", p.name, buildEndHookName)
	}
	if out.IsNil() {
		return nil
	}
	hookErr, ok := out.Interface().(error)
	if !ok {
		return fmt.Errorf("plugin %s: %s must return error", p.name, buildEndHookName)
	}
	return fmt.Errorf("plugin %s: %w", p.name, hookErr)
}

// callHook invokes an interpreted function, converting a panic inside the
// script into an error so a broken plugin fails the build it belongs to
// instead of the whole process.
func callHook(fn reflect.Value, name string, wantResults int, args ...reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	results = fn.Call(args)
	if len(results) != wantResults {
		return nil, fmt.Errorf("%s returned %d values, want %d", name, len(results), wantResults)
	}
	return results, nil
}

// resultPayload shapes the build result for interpreted code, which sees
// plain maps rather than internal types.
func resultPayload(res *bundle.Result) map[string]any {
	outputs := make(map[string]any, len(res.Outputs))
	for path, out := range res.Outputs {
		outputs[path] = map[string]any{
			"bytes":      out.Bytes,
			"entryPoint": out.EntryPoint,
		}
	}
	inputs := make(map[string]any, len(res.Inputs))
	for path, in := range res.Inputs {
		inputs[path] = map[string]any{"bytes": in.Bytes}
	}
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.String())
	}
	return map[string]any{
		"outputs":  outputs,
		"inputs":   inputs,
		"warnings": warnings,
	}
}
