// Package sandbox runs user-authored Lua rule scripts against accounts.
// Each evaluation gets its own interpreter state from a pool, a read-only
// view of the account, and a fresh result alert named after the script.
package sandbox

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"cdi-alert-engine/internal/domain"
	apperrors "cdi-alert-engine/pkg/errors"
)

// Evaluator compiles, caches and executes rule scripts.
type Evaluator struct {
	cache  *scriptCache
	states *statePool
	logger *zap.Logger
}

// NewEvaluator builds an evaluator. Close must be called to release the
// script watcher.
func NewEvaluator(logger *zap.Logger) (*Evaluator, error) {
	cache, err := newScriptCache(logger)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		cache:  cache,
		states: newStatePool(),
		logger: logger,
	}, nil
}

// Close releases the evaluator's file watcher.
func (e *Evaluator) Close() error {
	return e.cache.close()
}

// Evaluate runs one script against one account and returns the alert the
// script produced. The script sees the account through the global Account
// and reports through the global Result; replacing Result with anything but
// an alert is a script error. The account is never mutated.
func (e *Evaluator) Evaluate(ctx context.Context, script Script, account *domain.Account) (*domain.Alert, error) {
	proto, err := e.cache.load(script.Path)
	if err != nil {
		return nil, err
	}

	L := e.states.get()
	L.SetContext(ctx)

	alert := domain.NewAlert(script.Name)
	logger := e.logger.With(
		zap.String("script", script.Name),
		zap.String("account_id", account.ID),
	)

	// Each run executes inside its own environment table so script-defined
	// globals never survive into the next run on this state.
	env := newExecutionEnv(L)
	bindExecution(L, env, newUserData(L, luaAccountType, account), newUserData(L, luaAlertType, alert), logger)

	fn := L.NewFunctionFromProto(proto)
	fn.Env = env
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		e.states.discard(L)
		return nil, apperrors.NewScript("script "+script.Name+" failed", err)
	}

	result, err := resultAlert(env, script.Name)
	if err != nil {
		e.states.discard(L)
		return nil, apperrors.NewScript("script "+script.Name+" returned an invalid result", err)
	}

	e.states.put(L)
	return result, nil
}

// resultAlert recovers the script's Result from its environment. The value
// must still be an alert carrying the running script's name; anything else,
// including an alert lifted off the account, is rejected.
func resultAlert(env *lua.LTable, scriptName string) (*domain.Alert, error) {
	ud, ok := env.RawGetString("Result").(*lua.LUserData)
	if !ok {
		return nil, errNotAlert
	}
	alert, ok := ud.Value.(*domain.Alert)
	if !ok {
		return nil, errNotAlert
	}
	if alert.ScriptName != scriptName {
		return nil, errForeignAlert
	}
	return alert, nil
}

var (
	errNotAlert     = apperrors.NewScript("Result is not an alert", nil)
	errForeignAlert = apperrors.NewScript("Result does not belong to the running script", nil)
)
