package luahost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestMailgateEventFuncs(t *testing.T) {
	script := `
		assert(mailgate, "mailgate should not be nil")
		assert(mailgate.before, "mailgate.before should not be nil")
		assert(mailgate.after, "mailgate.after should not be nil")

		local fns = {
			before = { "message_sent" },
			after = { "archive_failed", "message_moved", "message_sent", "session_closed",
				"session_opened" },
		}

		-- Test function to track func calls made.
		local calls = {}
		local testfn = function(name)
			calls[name] = true
		end

		for kind, names in pairs(fns) do
			for i, name in ipairs(names) do
				local key = kind .. "." .. name
				assert(mailgate[kind][name] == nil, key .. " should start nil")
				mailgate[kind][name] = testfn
				assert(mailgate[kind][name], key .. " should not be nil")
				mailgate[kind][name](key)
				assert(calls[key], key .. " should have been called")
			end
		end
	`

	ls := lua.NewState()
	registerMailgateTypes(ls)
	require.NoError(t, ls.DoString(script))

	mg, err := getMailgate(ls)
	require.NoError(t, err)
	assert.NotNil(t, mg.Before.MessageSent)
	assert.NotNil(t, mg.After.ArchiveFailed)
	assert.NotNil(t, mg.After.MessageMoved)
	assert.NotNil(t, mg.After.MessageSent)
	assert.NotNil(t, mg.After.SessionClosed)
	assert.NotNil(t, mg.After.SessionOpened)
}

func TestMailgateInvalidFunc(t *testing.T) {
	ls := lua.NewState()
	registerMailgateTypes(ls)

	err := ls.DoString(`function mailgate.after.message_stored() end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message_stored")

	err = ls.DoString(`mailgate.before.message_sent = "not a function"`)
	assert.Error(t, err)

	require.NoError(t, ls.DoString(`assert(mailgate.sideways == nil)`))
}

func TestGetMailgateMissing(t *testing.T) {
	ls := lua.NewState()
	_, err := getMailgate(ls)
	assert.Error(t, err)

	ls.SetGlobal(mailgateName, lua.LString("impostor"))
	_, err = getMailgate(ls)
	assert.Error(t, err)
}
