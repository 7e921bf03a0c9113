// Package pac evaluates Proxy Auto-Config scripts and exposes the PAC host
// functions to them.
package pac

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
)

const entryPoint = "FindProxyForURL"

// EvaluationError reports a failure to set up or run a PAC script.
type EvaluationError struct {
	Op  string // compile, run, lookup, call
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("pac %s: %v", e.Op, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

var errNoEntryPoint = errors.New(entryPoint + " is not defined")

// runtime is a script VM with the host functions registered and the PAC
// script already executed. A VM must not be used by two goroutines at once.
type runtime struct {
	vm   *goja.Runtime
	find goja.Callable
}

// Engine evaluates one PAC script. It is safe for concurrent use: every
// evaluation borrows its own VM from a pool. Pooled VMs keep the script's
// global variables between calls; WithFreshRuntime runs every call in a
// newly initialised VM instead.
type Engine struct {
	program *goja.Program
	methods *Methods
	fresh   bool
	pool    sync.Pool
	log     zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	methods *Methods
	prewarm int
	fresh   bool
}

// WithMethods sets the host function implementation. The default uses the
// system resolver and the local clock.
func WithMethods(m *Methods) EngineOption {
	return func(o *engineOptions) { o.methods = m }
}

// WithPrewarm creates n VMs up front.
func WithPrewarm(n int) EngineOption {
	return func(o *engineOptions) { o.prewarm = n }
}

// WithFreshRuntime executes the script again in a new VM for every call,
// for scripts that keep state in globals or compute values at load time.
func WithFreshRuntime() EngineOption {
	return func(o *engineOptions) { o.fresh = true }
}

// NewEngine compiles script and runs it once, so syntax errors and a
// missing FindProxyForURL are reported here rather than on first use.
func NewEngine(script string, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{prewarm: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.methods == nil {
		o.methods = NewMethods(nil)
	}

	program, err := goja.Compile("proxy.pac", script, false)
	if err != nil {
		return nil, &EvaluationError{Op: "compile", Err: err}
	}
	e := &Engine{
		program: program,
		methods: o.methods,
		fresh:   o.fresh,
		log:     logger.WithComponent("pac"),
	}
	if o.fresh {
		// Still run once so script errors surface here.
		if _, err := e.newRuntime(); err != nil {
			return nil, err
		}
		return e, nil
	}
	if o.prewarm < 1 {
		o.prewarm = 1
	}
	for i := 0; i < o.prewarm; i++ {
		rt, err := e.newRuntime()
		if err != nil {
			return nil, err
		}
		e.pool.Put(rt)
	}
	return e, nil
}

func (e *Engine) newRuntime() (*runtime, error) {
	vm := goja.New()
	for _, fn := range functions {
		if err := vm.Set(fn.name, e.bind(vm, fn)); err != nil {
			return nil, &EvaluationError{Op: "setup", Err: err}
		}
	}
	if _, err := vm.RunProgram(e.program); err != nil {
		return nil, &EvaluationError{Op: "run", Err: err}
	}
	find, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return nil, &EvaluationError{Op: "lookup", Err: errNoEntryPoint}
	}
	return &runtime{vm: vm, find: find}, nil
}

func (e *Engine) bind(vm *goja.Runtime, fn function) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, fn.arity)
		for i := range args {
			args[i] = exportArg(call.Argument(i))
		}
		return vm.ToValue(fn.call(e.methods, args))
	}
}

// exportArg maps a script value to nil, int64, float64, string or bool.
func exportArg(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case int64, float64, string, bool:
		return x
	}
	return v.String()
}

func (e *Engine) acquire() (*runtime, error) {
	if e.fresh {
		return e.newRuntime()
	}
	if rt, ok := e.pool.Get().(*runtime); ok {
		return rt, nil
	}
	return e.newRuntime()
}

// Evaluate calls FindProxyForURL(url, host) and returns its result. An
// undefined, null or blank result is "DIRECT".
func (e *Engine) Evaluate(url, host string) (result string, err error) {
	rt, err := e.acquire()
	if err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			err = &EvaluationError{Op: "call", Err: fmt.Errorf("panic: %v", r)}
			return
		}
		if !e.fresh {
			e.pool.Put(rt)
		}
	}()

	v, err := rt.find(goja.Undefined(), rt.vm.ToValue(url), rt.vm.ToValue(host))
	if err != nil {
		return "", &EvaluationError{Op: "call", Err: err}
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "DIRECT", nil
	}
	result = v.String()
	if strings.TrimSpace(result) == "" {
		return "DIRECT", nil
	}
	e.log.Debug().Str("url", url).Str("result", result).Msg("PAC evaluated")
	return result, nil
}

// Evaluate compiles script and evaluates it once for url and host.
func Evaluate(script, url, host string, opts ...EngineOption) (string, error) {
	e, err := NewEngine(script, opts...)
	if err != nil {
		return "", err
	}
	return e.Evaluate(url, host)
}
