package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// StarlarkEvaluator runs matrix scripts with a timeout.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult is the output of a script run.
type StarlarkResult struct {
	// Output holds the script globals, converted to Go values.
	Output map[string]interface{}

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration

	// Error is set when the script failed.
	Error string
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate executes a Starlark script with the given input and returns its globals.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := newThread("matrix-script")
	resultCh := make(chan *StarlarkResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := se.evaluateSync(thread, script, input)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         fmt.Sprintf("execution timeout after %v", se.timeout),
		}, fmt.Errorf("starlark execution timeout")
	case err := <-errCh:
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(startTime)
		return result, nil
	}
}

func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, script string, input map[string]interface{}) (*StarlarkResult, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	predeclared["range"] = starlark.NewBuiltin("range", builtinRange)

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, "matrix.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		// Functions defined by the script are helpers, not output.
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &StarlarkResult{Output: output}, nil
}

// ScriptInclusions runs script and decodes its global "inclusions" list.
// Each entry is a dict with optional settings, options, env and build_requires keys.
func (se *StarlarkEvaluator) ScriptInclusions(ctx context.Context, script string, ref matrix.Reference) ([]ConfigurationBlock, error) {
	result, err := se.Evaluate(ctx, script, map[string]interface{}{
		"name":    ref.Name,
		"version": ref.Version,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := result.Output["inclusions"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("script global inclusions must be a list, got %T", raw)
	}

	blocks := make([]ConfigurationBlock, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("inclusions[%d] must be a dict, got %T", i, item)
		}
		block, err := blockFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("inclusions[%d]: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// StarlarkExclusion is a matrix.Exclusion backed by a Starlark boolean expression.
//
// The expression sees four dicts: settings, options, env and build_requires.
// For example:
//
//	settings["compiler"] == "clang" and options.get("zlib/*:shared") == "True"
type StarlarkExclusion struct {
	source string
	expr   syntax.Expr
}

// CompileExclusion parses expr once so it can be evaluated for every candidate.
func CompileExclusion(expr string) (*StarlarkExclusion, error) {
	parsed, err := syntax.ParseExpr("exclusion", expr, 0)
	if err != nil {
		return nil, matrix.NewConfigurationError(fmt.Sprintf("invalid exclusion %q", expr), err)
	}
	return &StarlarkExclusion{source: expr, expr: parsed}, nil
}

// String returns the expression source.
func (e *StarlarkExclusion) String() string {
	return e.source
}

// Excludes evaluates the expression against cfg.
func (e *StarlarkExclusion) Excludes(cfg matrix.BuildConfiguration) (bool, error) {
	env := starlark.StringDict{
		"settings":       stringDict(cfg.Settings),
		"options":        stringDict(cfg.Options),
		"env":            stringDict(cfg.EnvVars),
		"build_requires": requiresDict(cfg.BuildRequires),
	}

	val, err := starlark.EvalExpr(newThread("exclusion"), e.expr, env)
	if err != nil {
		return false, fmt.Errorf("exclusion %q: %w", e.source, err)
	}
	b, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("exclusion %q returned %s, want bool", e.source, val.Type())
	}
	return bool(b), nil
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			// print() output is discarded
		},
	}
}

func stringDict(m map[string]string) *starlark.Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := starlark.NewDict(len(m))
	for _, k := range keys {
		_ = d.SetKey(starlark.String(k), starlark.String(m[k]))
	}
	d.Freeze()
	return d
}

func requiresDict(m map[string][]string) *starlark.Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := starlark.NewDict(len(m))
	for _, k := range keys {
		items := make([]starlark.Value, len(m[k]))
		for i, r := range m[k] {
			items[i] = starlark.String(r)
		}
		_ = d.SetKey(starlark.String(k), starlark.NewList(items))
	}
	d.Freeze()
	return d
}

func blockFromMap(m map[string]interface{}) (ConfigurationBlock, error) {
	var block ConfigurationBlock
	for key, raw := range m {
		switch key {
		case "settings", "options", "env":
			sm, err := toStringMap(raw)
			if err != nil {
				return block, fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "settings":
				block.Settings = sm
			case "options":
				block.Options = sm
			default:
				block.Env = sm
			}
		case "build_requires":
			rm, ok := raw.(map[string]interface{})
			if !ok {
				return block, fmt.Errorf("build_requires must be a dict")
			}
			block.BuildRequires = make(map[string][]string, len(rm))
			for pattern, v := range rm {
				list, ok := v.([]interface{})
				if !ok {
					return block, fmt.Errorf("build_requires[%s] must be a list", pattern)
				}
				for _, r := range list {
					block.BuildRequires[pattern] = append(block.BuildRequires[pattern], fmt.Sprint(r))
				}
			}
		default:
			return block, fmt.Errorf("unknown key %q", key)
		}
	}
	return block, nil
}

func toStringMap(raw interface{}) (map[string]string, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("must be a dict, got %T", raw)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// builtinRange implements range() returning a list, as scripts index into it.
func builtinRange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var list []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	}

	return starlark.NewList(list), nil
}
