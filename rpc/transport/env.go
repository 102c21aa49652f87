package transport

import (
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger(common.LoggerTransport)

// --------------------------------------------------------------------------
// Socket Environment
// --------------------------------------------------------------------------

// Env is a reference counted socket environment shared by sessions.
// The first Acquire runs the setup hook and the last Release runs the teardown hook.
// Go needs no socket library initialization, the hooks exist for platforms and tests
// that want to observe the environment lifetime.
type Env struct {
	mu       sync.Mutex
	refs     int
	setup    func() error
	teardown func()
}

// NewEnv creates an environment with optional setup and teardown hooks
func NewEnv(setup func() error, teardown func()) *Env {
	return &Env{setup: setup, teardown: teardown}
}

// DefaultEnv is the process wide environment used when a session is not given one
var DefaultEnv = NewEnv(nil, nil)

// Acquire takes a reference on the environment
func (e *Env) Acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 && e.setup != nil {
		if err := e.setup(); err != nil {
			return err
		}
		Logger.Debugf("Socket environment initialized")
	}
	e.refs++
	return nil
}

// Release drops a reference taken by Acquire
func (e *Env) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 {
		Logger.Warningf("Socket environment released more often than acquired")
		return
	}
	e.refs--
	if e.refs == 0 && e.teardown != nil {
		e.teardown()
		Logger.Debugf("Socket environment torn down")
	}
}

// Refs returns the number of outstanding references
func (e *Env) Refs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}
