package lua

import (
	"context"

	lua "github.com/yuin/gopher-lua"
)

// Default limits for handler states.
const (
	DefaultCallStackSize   = 256
	DefaultRegistrySize    = 1024
	DefaultRegistryMaxSize = 64 * 1024
)

// Limits bounds the resources of one handler state.
type Limits struct {
	CallStackSize   int
	RegistryMaxSize int
}

// DefaultLimits returns the default handler limits.
func DefaultLimits() Limits {
	return Limits{
		CallStackSize:   DefaultCallStackSize,
		RegistryMaxSize: DefaultRegistryMaxSize,
	}
}

func (l Limits) options() lua.Options {
	opts := lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       l.CallStackSize,
		RegistrySize:        DefaultRegistrySize,
		RegistryMaxSize:     l.RegistryMaxSize,
		MinimizeStackMemory: true,
	}
	if opts.CallStackSize <= 0 {
		opts.CallStackSize = DefaultCallStackSize
	}
	if opts.RegistryMaxSize > 0 && opts.RegistryMaxSize < opts.RegistrySize {
		opts.RegistrySize = opts.RegistryMaxSize
	}
	if opts.RegistryMaxSize > 0 {
		opts.RegistryGrowStep = 32
	}
	return opts
}

// newState creates a sandboxed state bound to ctx. The caller must Close it.
func newState(ctx context.Context, limits Limits, host *hostModule) *lua.LState {
	L := lua.NewState(limits.options())
	openSafeLibraries(L)
	installSandbox(L)
	if host != nil {
		host.install(L)
	}
	if ctx != nil {
		L.SetContext(ctx)
	}
	return L
}

// openSafeLibraries opens the libraries handlers may use. package is opened
// only so require and preloading work; the sandbox empties its search paths.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// runProto executes a compiled chunk on L, defining its globals.
func runProto(L *lua.LState, proto *lua.FunctionProto) error {
	L.Push(L.NewFunctionFromProto(proto))
	return L.PCall(0, lua.MultRet, nil)
}
