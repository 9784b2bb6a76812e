package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// removedGlobals are base functions that load code from outside the
// compiled chunk.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring"}

// allowedModules may be required by handlers.
var allowedModules = map[string]bool{
	"string":       true,
	"table":        true,
	"math":         true,
	hostModuleName: true,
}

// installSandbox strips file and code loading from L and replaces require
// with a whitelist.
func installSandbox(L *lua.LState) {
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}

	original := L.GetGlobal("require")
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !allowedModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}
