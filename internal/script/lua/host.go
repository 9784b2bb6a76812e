package lua

import (
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/quill/internal/script"
)

const hostModuleName = "quill"

// hostModule is the "quill" module visible to handlers.
type hostModule struct {
	logger zerolog.Logger
}

func (h *hostModule) loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log": h.log,
	})
	L.SetField(mod, "api", lua.LString(script.APIVersion))
	L.Push(mod)
	return 1
}

// log(level, message)
func (h *hostModule) log(L *lua.LState) int {
	level, err := zerolog.ParseLevel(L.CheckString(1))
	if err != nil || level == zerolog.NoLevel {
		L.ArgError(1, "unknown log level")
		return 0
	}
	h.logger.WithLevel(level).Msg(L.CheckString(2))
	return 0
}

// print writes its arguments to the handler log at debug level.
func (h *hostModule) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	h.logger.Debug().Msg(strings.Join(parts, "\t"))
	return 0
}

func (h *hostModule) install(L *lua.LState) {
	L.PreloadModule(hostModuleName, h.loader)
	L.SetGlobal("print", L.NewFunction(h.print))
}
