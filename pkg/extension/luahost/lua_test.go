package luahost_test

import (
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/inbucket/mailgate/pkg/extension/luahost"
	"github.com/inbucket/mailgate/pkg/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var consoleLogger = zerolog.New(zerolog.NewConsoleWriter())

func outbound() *event.OutboundMessage {
	return &event.OutboundMessage{
		Account:   "alice@example.com",
		From:      mail.Address{Name: "alice", Address: "alice@example.com"},
		To:        []mail.Address{{Name: "Bob", Address: "bob@example.org"}},
		Subject:   "subj1",
		MessageID: "id1@example.com",
		Size:      42,
	}
}

func TestEmptyScript(t *testing.T) {
	script := ""
	extHost := extension.NewHost()

	h, err := luahost.NewFromReader(consoleLogger, extHost, strings.NewReader(script), "test.lua")
	require.NoError(t, err)
	assert.Empty(t, h.Functions)
	assert.Nil(t, extHost.Events.BeforeMessageSent.Emit(outbound()))
}

func TestSyntaxError(t *testing.T) {
	extHost := extension.NewHost()
	_, err := luahost.NewFromReader(consoleLogger, extHost, strings.NewReader("function ("), "test.lua")
	assert.Error(t, err)
}

func TestRuntimeErrorAtLoad(t *testing.T) {
	extHost := extension.NewHost()
	_, err := luahost.NewFromReader(consoleLogger, extHost,
		strings.NewReader(`error("bad config")`), "test.lua")
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	script := `
		local logger = require("logger")
		logger.info("_test log entry_", {})
	`

	extHost := extension.NewHost()
	output := &strings.Builder{}
	logger := zerolog.New(output)

	_, err := luahost.NewFromReader(logger, extHost, strings.NewReader(script), "test.lua")
	require.NoError(t, err)

	assert.Contains(t, output.String(), "_test log entry_")
}

func TestFunctionsDetected(t *testing.T) {
	script := `
		function mailgate.after.message_sent(msg) end
		function mailgate.after.session_opened(session) end
	`
	extHost := extension.NewHost()
	h, err := luahost.NewFromReader(consoleLogger, extHost, strings.NewReader(script), "test.lua")
	require.NoError(t, err)
	assert.Equal(t, []string{"after.message_sent", "after.session_opened"}, h.Functions)
}

func TestAfterMessageSent(t *testing.T) {
	// Register lua event listener, setup notify channel.
	script := `
		async = true

		function mailgate.after.message_sent(msg)
			-- Full message bindings tested elsewhere.
			assert_eq(msg.account, "alice@example.com")
			assert_eq(msg.subject, "subj1")
			assert_eq(msg.to[1].address, "bob@example.org")
			notify:send(test_ok)
		end
	`
	extHost := extension.NewHost()
	luaHost, err := luahost.NewFromReader(consoleLogger, extHost,
		test.LuaScript(script), "test.lua")
	require.NoError(t, err)
	notify := luaHost.CreateChannel("notify")

	extHost.Events.AfterMessageSent.Emit(outbound())
	test.AssertNotified(t, notify)
}

func TestAfterArchiveFailed(t *testing.T) {
	script := `
		async = true

		function mailgate.after.archive_failed(failure)
			assert_eq(failure.folder, "sent")
			assert_eq(failure.error, "quota exceeded")
			assert_eq(failure.message.message_id, "id1@example.com")
			notify:send(test_ok)
		end
	`
	extHost := extension.NewHost()
	luaHost, err := luahost.NewFromReader(consoleLogger, extHost,
		test.LuaScript(script), "test.lua")
	require.NoError(t, err)
	notify := luaHost.CreateChannel("notify")

	extHost.Events.AfterArchiveFailed.Emit(&event.ArchiveFailure{
		Message: *outbound(),
		Folder:  "sent",
		Error:   "quota exceeded",
	})
	test.AssertNotified(t, notify)
}

func TestAfterMessageMoved(t *testing.T) {
	script := `
		async = true

		function mailgate.after.message_moved(move)
			assert_eq(move.account, "alice@example.com")
			assert_eq(move.from_folder, "inbox")
			assert_async(move.from_id == 7, "from_id")
			assert_eq(move.to_folder, "trash")
			assert_async(move.to_id == 12, "to_id")
			notify:send(test_ok)
		end
	`
	extHost := extension.NewHost()
	luaHost, err := luahost.NewFromReader(consoleLogger, extHost,
		test.LuaScript(script), "test.lua")
	require.NoError(t, err)
	notify := luaHost.CreateChannel("notify")

	extHost.Events.AfterMessageMoved.Emit(&event.MessageMoved{
		Account:    "alice@example.com",
		FromFolder: "inbox",
		FromID:     7,
		ToFolder:   "trash",
		ToID:       12,
	})
	test.AssertNotified(t, notify)
}

func TestAfterSessionEvents(t *testing.T) {
	script := `
		async = true

		function mailgate.after.session_opened(session)
			assert_eq(session.account, "alice@example.com")
			assert_eq(session.reason, "")
			assert_async(session.at == 981173106, "at")
			assert_nil(session.id, "session.id")
			notify:send(test_ok)
		end

		function mailgate.after.session_closed(session)
			assert_eq(session.reason, "expired")
			notify:send(test_ok)
		end
	`
	extHost := extension.NewHost()
	luaHost, err := luahost.NewFromReader(consoleLogger, extHost,
		test.LuaScript(script), "test.lua")
	require.NoError(t, err)
	notify := luaHost.CreateChannel("notify")

	at := time.Date(2001, time.February, 3, 4, 5, 6, 0, time.UTC)
	extHost.Events.AfterSessionOpened.Emit(&event.Session{
		ID: "secret-token", Account: "alice@example.com", At: at,
	})
	test.AssertNotified(t, notify)

	extHost.Events.AfterSessionClosed.Emit(&event.Session{
		ID: "secret-token", Account: "alice@example.com", Reason: "expired", At: at,
	})
	test.AssertNotified(t, notify)
}

func TestBeforeMessageSent(t *testing.T) {
	script := `
		function mailgate.before.message_sent(msg)
			for i, addr in ipairs(msg.to) do
				if string.find(addr.address, "@blocked.example$") then
					logger.info("denying message", {})
					return send.deny("recipient domain blocked")
				end
			end
			if msg.subject == "allow me" then
				return send.allow()
			end
			return nil
		end
	`
	extHost := extension.NewHost()
	_, err := luahost.NewFromReader(
		consoleLogger, extHost, test.LuaScript(script), "test.lua")
	require.NoError(t, err)

	{
		// Default response.
		got := extHost.Events.BeforeMessageSent.Emit(outbound())
		assert.Nil(t, got)
	}

	{
		msg := outbound()
		msg.Subject = "allow me"
		got := extHost.Events.BeforeMessageSent.Emit(msg)
		require.NotNil(t, got, "Expected result from Emit()")
		assert.Equal(t, event.ActionAllow, got.Action)
	}

	{
		msg := outbound()
		msg.To = append(msg.To, mail.Address{Address: "eve@blocked.example"})
		got := extHost.Events.BeforeMessageSent.Emit(msg)
		require.NotNil(t, got, "Expected result from Emit()")
		assert.Equal(t, event.ActionDeny, got.Action)
		assert.Equal(t, "recipient domain blocked", got.Reason)
	}
}

func TestBeforeMessageSentBadReturn(t *testing.T) {
	script := `
		function mailgate.before.message_sent(msg)
			return "yes please"
		end
	`
	extHost := extension.NewHost()
	_, err := luahost.NewFromReader(consoleLogger, extHost, strings.NewReader(script), "test.lua")
	require.NoError(t, err)

	assert.Nil(t, extHost.Events.BeforeMessageSent.Emit(outbound()))
}

func TestBeforeMessageSentError(t *testing.T) {
	script := `
		function mailgate.before.message_sent(msg)
			error("script failure")
		end
	`
	extHost := extension.NewHost()
	_, err := luahost.NewFromReader(consoleLogger, extHost, strings.NewReader(script), "test.lua")
	require.NoError(t, err)

	// A failing script must not block sending.
	assert.Nil(t, extHost.Events.BeforeMessageSent.Emit(outbound()))
}

func TestNewFromConfig(t *testing.T) {
	extHost := extension.NewHost()

	h, err := luahost.New(config.Lua{Path: ""}, extHost)
	require.NoError(t, err)
	assert.Nil(t, h)

	dir := t.TempDir()
	h, err = luahost.New(config.Lua{Path: filepath.Join(dir, "missing.lua")}, extHost)
	require.NoError(t, err)
	assert.Nil(t, h)

	_, err = luahost.New(config.Lua{Path: dir}, extHost)
	assert.Error(t, err)

	path := filepath.Join(dir, "mailgate.lua")
	require.NoError(t, os.WriteFile(path, []byte("function mailgate.after.message_sent(msg) end"), 0o600))
	h, err = luahost.New(config.Lua{Path: path}, extHost)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, []string{"after.message_sent"}, h.Functions)
}
