package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/ktx2-transcoder/errors"
)

// Token proves that an environment's backend has been initialized.
// Sessions and negotiators require one, which orders init before use.
type Token struct {
	env Environment
}

// Environment returns the initialized environment.
func (t *Token) Environment() Environment {
	return t.env
}

type initState struct {
	tok  *Token
	mu   sync.Mutex
	done atomic.Bool
}

var inits sync.Map // Environment -> *initState

// Initialize runs env.Init exactly once and returns the environment's token.
// Concurrent and repeated calls share the first successful result. A failed
// init is not recorded, so a later call retries it.
func Initialize(ctx context.Context, env Environment) (*Token, error) {
	if env == nil {
		return nil, errors.NotInitialized(errors.PhaseBackend, "environment")
	}

	v, _ := inits.LoadOrStore(env, &initState{})
	st := v.(*initState)

	if st.done.Load() {
		return st.tok, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.done.Load() {
		return st.tok, nil
	}

	if err := env.Init(ctx); err != nil {
		return nil, errors.Wrap(errors.PhaseBackend, errors.KindNotInitialized, err, "backend init "+env.Kind().String())
	}

	st.tok = &Token{env: env}
	st.done.Store(true)
	return st.tok, nil
}

// Forget drops the init record for env. Environments call it from Close so a
// closed environment cannot keep handing out tokens.
func Forget(env Environment) {
	inits.Delete(env)
}
