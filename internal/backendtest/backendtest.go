package backendtest

import (
	"context"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/backend/direct"
	"github.com/wippyai/ktx2-transcoder/backend/isolated"
)

// NewDirect returns a direct environment over a fresh Library.
func NewDirect() backend.Environment {
	env, _ := NewDirectWith(NewLibrary())
	return env
}

// NewDirectWith returns a direct environment over lib.
func NewDirectWith(lib *Library) (*direct.Environment, error) {
	return direct.New(lib)
}

// NewIsolated returns an isolated environment running the guest shim over
// a fresh Library.
func NewIsolated(ctx context.Context) (backend.Environment, error) {
	env, _, err := NewIsolatedWith(ctx, NewLibrary(), nil)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// NewIsolatedWith returns an isolated environment over lib together with
// its host. cfg may be nil; its Prepare hook is replaced.
func NewIsolatedWith(ctx context.Context, lib *Library, cfg *isolated.Config) (*isolated.Environment, *Host, error) {
	var c isolated.Config
	if cfg != nil {
		c = *cfg
	}
	host := NewHost(lib)
	c.Prepare = host.Register
	env, err := isolated.New(ctx, GuestModule(c.ExportPrefix), &c)
	if err != nil {
		return nil, nil, err
	}
	return env, host, nil
}

// Environments returns one environment of each kind, closed when the test
// that owns cleanup finishes.
func Environments(ctx context.Context, cleanup func(func())) (map[backend.Kind]backend.Environment, error) {
	iso, err := NewIsolated(ctx)
	if err != nil {
		return nil, err
	}
	envs := map[backend.Kind]backend.Environment{
		backend.KindDirect:   NewDirect(),
		backend.KindIsolated: iso,
	}
	for _, env := range envs {
		env := env
		cleanup(func() { _ = env.Close(ctx) })
	}
	return envs, nil
}
