// Package luahost runs a Lua script as an extension, calling the script's mailgate.before and
// mailgate.after functions when gateway events occur.
package luahost

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

const listenerName = "lua"

// Host of Lua extensions.
type Host struct {
	Functions []string // Functions detected in lua script.
	extHost   *extension.Host
	pool      *statePool
	logger    zerolog.Logger
}

// New constructs a new Lua Host, pre-compiling the source.  A nil Host is returned if the script
// does not exist.
func New(conf config.Lua, extHost *extension.Host) (*Host, error) {
	scriptPath := conf.Path
	if scriptPath == "" {
		return nil, nil
	}

	logger := log.With().Str("module", "lua").Logger()
	startLogger := logger.With().Str("phase", "startup").Str("path", scriptPath).Logger()

	// Pre-load, parse, and compile script.
	if fi, err := os.Stat(scriptPath); err != nil {
		startLogger.Info().Msg("Script file not found")
		return nil, nil
	} else if fi.IsDir() {
		return nil, fmt.Errorf("Lua script %v is a directory", scriptPath)
	}

	startLogger.Info().Msg("Loading script")
	file, err := os.Open(scriptPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return NewFromReader(logger, extHost, bufio.NewReader(file), scriptPath)
}

// NewFromReader constructs a new Lua Host, loading Lua source from the provided reader.
// The provided path is used in logging and error messages.
func NewFromReader(logger zerolog.Logger, extHost *extension.Host, r io.Reader, path string) (*Host, error) {
	// Pre-parse, and compile script.
	chunk, err := parse.Parse(r, path)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, err
	}

	// Build the pool and confirm LState is retrievable.
	pool := newStatePool(logger, proto)
	h := &Host{extHost: extHost, pool: pool, logger: logger}
	ls, err := pool.acquire()
	if err != nil {
		return nil, err
	}
	defer pool.release(ls)

	// The script assigns its event functions when run; inspect them to decide which events to
	// listen for.
	mg, err := getMailgate(ls)
	if err != nil {
		return nil, err
	}
	h.wireFunctions(mg)

	return h, nil
}

// CreateChannel creates a channel and places it into the named global variable
// in newly created LStates.
func (h *Host) CreateChannel(name string) chan lua.LValue {
	return h.pool.createChannel(name)
}

// wireFunctions registers an event listener for each function defined by the script.
func (h *Host) wireFunctions(mg *Mailgate) {
	events := h.extHost.Events
	detect := func(name string, fn *lua.LFunction, wire func()) {
		if fn != nil {
			h.Functions = append(h.Functions, name)
			wire()
		}
	}

	detect("before.message_sent", mg.Before.MessageSent, func() {
		events.BeforeMessageSent.AddListener(listenerName, h.handleBeforeMessageSent)
	})
	detect("after.archive_failed", mg.After.ArchiveFailed, func() {
		events.AfterArchiveFailed.AddListener(listenerName, h.handleAfterArchiveFailed)
	})
	detect("after.message_moved", mg.After.MessageMoved, func() {
		events.AfterMessageMoved.AddListener(listenerName, h.handleAfterMessageMoved)
	})
	detect("after.message_sent", mg.After.MessageSent, func() {
		events.AfterMessageSent.AddListener(listenerName, h.handleAfterMessageSent)
	})
	detect("after.session_closed", mg.After.SessionClosed, func() {
		events.AfterSessionClosed.AddListener(listenerName, h.handleAfterSessionClosed)
	})
	detect("after.session_opened", mg.After.SessionOpened, func() {
		events.AfterSessionOpened.AddListener(listenerName, h.handleAfterSessionOpened)
	})

	h.logger.Info().Strs("functions", h.Functions).Msg("Lua event functions registered")
}

func (h *Host) handleBeforeMessageSent(msg event.OutboundMessage) *event.PolicyResponse {
	logger, ls, mg, ok := h.prepareFuncCall("before.message_sent")
	if !ok {
		return nil
	}
	defer h.pool.release(ls)

	fn := mg.Before.MessageSent
	if fn == nil {
		return nil
	}
	err := ls.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, wrapOutboundMessage(ls, &msg))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
		return nil
	}

	lval := ls.Get(-1)
	ls.Pop(1)
	logger.Debug().Str("ret", lval.String()).Msg("Lua function returned")
	if lval.Type() == lua.LTNil {
		return nil
	}
	resp, err := unwrapSendResponse(lval)
	if err != nil {
		logger.Error().Err(err).Msg("Bad response from Lua function")
		return nil
	}
	return resp
}

func (h *Host) handleAfterArchiveFailed(f event.ArchiveFailure) {
	h.callAfter("after.archive_failed",
		func(mg *Mailgate) *lua.LFunction { return mg.After.ArchiveFailed },
		func(ls *lua.LState) lua.LValue { return archiveFailureTable(ls, &f) })
}

func (h *Host) handleAfterMessageMoved(m event.MessageMoved) {
	h.callAfter("after.message_moved",
		func(mg *Mailgate) *lua.LFunction { return mg.After.MessageMoved },
		func(ls *lua.LState) lua.LValue { return messageMovedTable(ls, &m) })
}

func (h *Host) handleAfterMessageSent(msg event.OutboundMessage) {
	h.callAfter("after.message_sent",
		func(mg *Mailgate) *lua.LFunction { return mg.After.MessageSent },
		func(ls *lua.LState) lua.LValue { return wrapOutboundMessage(ls, &msg) })
}

func (h *Host) handleAfterSessionClosed(s event.Session) {
	h.callAfter("after.session_closed",
		func(mg *Mailgate) *lua.LFunction { return mg.After.SessionClosed },
		func(ls *lua.LState) lua.LValue { return sessionTable(ls, &s) })
}

func (h *Host) handleAfterSessionOpened(s event.Session) {
	h.callAfter("after.session_opened",
		func(mg *Mailgate) *lua.LFunction { return mg.After.SessionOpened },
		func(ls *lua.LState) lua.LValue { return sessionTable(ls, &s) })
}

// callAfter calls an after-event function, which returns no value.
func (h *Host) callAfter(
	funcName string,
	fn func(*Mailgate) *lua.LFunction,
	arg func(*lua.LState) lua.LValue,
) {
	logger, ls, mg, ok := h.prepareFuncCall(funcName)
	if !ok {
		return
	}
	defer h.pool.release(ls)

	f := fn(mg)
	if f == nil {
		return
	}
	if err := ls.CallByParam(lua.P{Fn: f, NRet: 0, Protect: true}, arg(ls)); err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
	}
}

// prepareFuncCall checks out an LState and its mailgate object for a call to funcName.
func (h *Host) prepareFuncCall(funcName string) (zerolog.Logger, *lua.LState, *Mailgate, bool) {
	logger := h.logger.With().Str("phase", funcName).Logger()

	ls, err := h.pool.acquire()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get Lua state instance from pool")
		return logger, nil, nil, false
	}

	mg, err := getMailgate(ls)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get mailgate object")
		h.pool.release(ls)
		return logger, nil, nil, false
	}

	return logger, ls, mg, true
}
