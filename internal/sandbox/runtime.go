package sandbox

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// statePool recycles interpreter states across evaluations. A state is only
// ever used by one goroutine at a time; a state that raised an error is
// discarded rather than returned, since its stack and globals can no longer
// be trusted.
type statePool struct {
	pool sync.Pool
}

func newStatePool() *statePool {
	p := &statePool{}
	p.pool.New = func() any { return newState() }
	return p
}

func (p *statePool) get() *lua.LState {
	return p.pool.Get().(*lua.LState)
}

func (p *statePool) put(L *lua.LState) {
	L.SetGlobal(loggerGlobal, lua.LNil)
	L.RemoveContext()
	L.SetTop(0)
	p.pool.Put(L)
}

func (p *statePool) discard(L *lua.LState) {
	L.Close()
}

// newState builds an interpreter with a restricted library surface. Scripts
// get base, table, string and math; io, os, debug and the module loaders
// stay out so a rule script cannot touch the host beyond the values it is
// handed.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}

	// OpenBase installs file access helpers we do not want.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	registerTypes(L)
	return L
}

// newExecutionEnv builds the environment table one script run lives in. It
// reads through to the real globals but captures every write, so globals a
// script defines are discarded with the run instead of leaking to whatever
// runs on the state next.
func newExecutionEnv(L *lua.LState) *lua.LTable {
	env := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.G.Global)
	L.SetMetatable(env, mt)
	return env
}

// bindExecution installs the per-run values: the account under evaluation and
// the result alert go into the run's environment; the logger backing the log
// table is a host-managed global overwritten on every run.
func bindExecution(L *lua.LState, env *lua.LTable, account *lua.LUserData, result *lua.LUserData, logger *zap.Logger) {
	env.RawSetString("Account", account)
	env.RawSetString("Result", result)
	loggerUD := L.NewUserData()
	loggerUD.Value = logger
	L.SetGlobal(loggerGlobal, loggerUD)
}
