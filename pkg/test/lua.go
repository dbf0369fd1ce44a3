package test

import (
	"io"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// NotifyTimeout bounds how long AssertNotified waits for a script.
const NotifyTimeout = 2 * time.Second

// LuaInit defines assertion helpers for test scripts.  Scripts run by event listeners should set
// `async = true`; failures are then logged and recorded in `test_ok` rather than raised, and the
// script reports `test_ok` on its notify channel.
const LuaInit = `
	local logger = require("logger")

	async = false
	test_ok = true

	function assert_async(value, message)
		if not value then
			if async then
				logger.error(message, {from = "assert_async"})
				test_ok = false
			else
				error(message)
			end
		end
	end

	-- Compares plain values, or list-style tables element by element.
	function assert_eq(got, want)
		if type(got) == "table" and type(want) == "table" then
			assert_async(#got == #want, string.format("got %d elements, wanted %d", #got, #want))
			for i, gotv in ipairs(got) do
				assert_eq(gotv, want[i])
			end
			return
		end

		assert_async(got == want,
			string.format("got %s, wanted %s", tostring(got), tostring(want)))
	end

	function assert_nil(got, what)
		assert_async(got == nil, string.format("%s = %s, wanted nil", what, tostring(got)))
	end
`

// LuaScript prefixes script with LuaInit.
func LuaScript(script string) io.Reader {
	return strings.NewReader(LuaInit + script)
}

// AssertNotified requires a truthy LValue on the notify channel.
func AssertNotified(t *testing.T, notify chan lua.LValue) {
	t.Helper()
	select {
	case reslv := <-notify:
		// Lua function received event.
		if lua.LVIsFalse(reslv) {
			t.Error("Lua responded with false, wanted true")
		}
	case <-time.After(NotifyTimeout):
		t.Fatal("Lua did not respond to event within timeout")
	}
}
