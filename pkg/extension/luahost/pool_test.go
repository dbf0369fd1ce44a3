package luahost

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

func makePool(t *testing.T, script string) *statePool {
	t.Helper()
	chunk, err := parse.Parse(strings.NewReader(script), "pool.lua")
	require.NoError(t, err)
	proto, err := lua.Compile(chunk, "pool.lua")
	require.NoError(t, err)
	return newStatePool(zerolog.Nop(), proto)
}

func TestPoolAcquireDistinct(t *testing.T) {
	pool := makePool(t, "-- empty")

	a, err := pool.acquire()
	require.NoError(t, err)
	b, err := pool.acquire()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestPoolReusesReleased(t *testing.T) {
	pool := makePool(t, "-- empty")

	a, err := pool.acquire()
	require.NoError(t, err)
	pool.release(a)
	require.Len(t, pool.idle, 1)

	b, err := pool.acquire()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Empty(t, pool.idle)
}

func TestPoolRunsScript(t *testing.T) {
	pool := makePool(t, `
		mailgate.after.session_opened = function(s) end
		loaded = "yes"
	`)

	ls, err := pool.acquire()
	require.NoError(t, err)
	assert.Equal(t, lua.LString("yes"), ls.GetGlobal("loaded"))

	mg, err := getMailgate(ls)
	require.NoError(t, err)
	assert.NotNil(t, mg.After.SessionOpened)
	assert.Nil(t, mg.Before.MessageSent)
}

func TestPoolScriptError(t *testing.T) {
	pool := makePool(t, `error("broken")`)

	_, err := pool.acquire()
	assert.ErrorContains(t, err, "broken")
}

func TestPoolReleaseDiscardsClosed(t *testing.T) {
	pool := makePool(t, "-- empty")

	a, err := pool.acquire()
	require.NoError(t, err)
	a.Close()
	pool.release(a)
	assert.Empty(t, pool.idle)
}

func TestPoolReleaseClearsStack(t *testing.T) {
	pool := makePool(t, "-- empty")

	ls, err := pool.acquire()
	require.NoError(t, err)
	ls.Push(lua.LNumber(4))
	ls.Push(lua.LString("inbox"))
	require.Equal(t, 2, ls.GetTop())

	pool.release(ls)
	assert.Len(t, pool.idle, 1)
	assert.Equal(t, 0, ls.GetTop())
}

func TestPoolCapsIdle(t *testing.T) {
	pool := makePool(t, "-- empty")

	states := make([]*lua.LState, maxIdleStates+2)
	for i := range states {
		ls, err := pool.acquire()
		require.NoError(t, err)
		states[i] = ls
	}
	for _, ls := range states {
		pool.release(ls)
	}

	assert.Len(t, pool.idle, maxIdleStates)
	assert.True(t, states[len(states)-1].IsClosed(), "overflow state should be closed")
}

func TestPoolCreateChannel(t *testing.T) {
	pool := makePool(t, "-- empty")
	old, err := pool.acquire()
	require.NoError(t, err)
	pool.release(old)

	pool.createChannel("notify")
	assert.Empty(t, pool.idle, "idle states should be flushed")
	assert.True(t, old.IsClosed())

	ls, err := pool.acquire()
	require.NoError(t, err)
	got := ls.GetGlobal("notify")
	assert.Equal(t, lua.LTChannel, got.Type(), "got global type %v", got.Type())
}

func TestPoolHTTPTimeout(t *testing.T) {
	pool := makePool(t, "-- empty")
	assert.Equal(t, httpTimeout, pool.http.Timeout)
}
