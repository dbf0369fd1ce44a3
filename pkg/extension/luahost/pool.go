package luahost

import (
	"net/http"
	"sync"
	"time"

	"github.com/cjoudrey/gluahttp"
	"github.com/cosmotek/loguago"
	json "github.com/inbucket/gopher-json"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

const (
	// maxIdleStates caps the number of idle LStates kept for reuse.
	maxIdleStates = 8

	// httpTimeout bounds requests made by scripts through the http module.  Before-send listeners
	// run inside the send request.
	httpTimeout = 10 * time.Second
)

// statePool hands out LStates that have already run the compiled script, so event functions are
// defined and ready to call.
type statePool struct {
	mu       sync.Mutex
	proto    *lua.FunctionProto
	idle     []*lua.LState
	channels map[string]chan lua.LValue // Globals set in each new LState.
	logger   zerolog.Logger
	http     *http.Client
}

func newStatePool(logger zerolog.Logger, proto *lua.FunctionProto) *statePool {
	return &statePool{
		proto:    proto,
		channels: make(map[string]chan lua.LValue),
		logger:   logger,
		http:     &http.Client{Timeout: httpTimeout},
	}
}

// newState creates an LState, loads the mailgate modules and types, and runs the script.  The
// lock must be held.
func (p *statePool) newState() (*lua.LState, error) {
	ls := lua.NewState()
	ls.PreloadModule("http", gluahttp.NewHttpModule(p.http).Loader)
	ls.PreloadModule("json", json.Loader)
	ls.PreloadModule("logger", loguago.NewLogger(p.logger).Loader)
	for name, ch := range p.channels {
		ls.SetGlobal(name, lua.LChannel(ch))
	}

	registerMailAddressType(ls)
	registerMailgateTypes(ls)
	registerOutboundMessageType(ls)
	registerSendResponseType(ls)

	ls.Push(ls.NewFunctionFromProto(p.proto))
	if err := ls.PCall(0, lua.MultRet, nil); err != nil {
		ls.Close()
		return nil, err
	}
	return ls, nil
}

// acquire returns an idle LState, or creates one.
func (p *statePool) acquire() (*lua.LState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.idle)
	if n == 0 {
		return p.newState()
	}
	ls := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return ls, nil
}

// release returns ls to the pool with an empty stack.  Closed states, and states beyond
// maxIdleStates, are dropped.
func (p *statePool) release(ls *lua.LState) {
	if ls.IsClosed() {
		return
	}
	ls.Pop(ls.GetTop())

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= maxIdleStates {
		ls.Close()
		return
	}
	p.idle = append(p.idle, ls)
}

// createChannel creates a buffered channel that becomes the named global in LStates created from
// now on.  Idle states are closed so they are not reused without it; states checked out at the
// time keep running without the global.
func (p *statePool) createChannel(name string) chan lua.LValue {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan lua.LValue, 10)
	p.channels[name] = ch
	for _, ls := range p.idle {
		ls.Close()
	}
	p.idle = p.idle[:0]
	return ch
}
