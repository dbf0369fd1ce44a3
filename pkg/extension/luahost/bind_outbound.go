package luahost

import (
	"net/mail"

	"github.com/inbucket/mailgate/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const outboundMessageName = "outbound_message"

func registerOutboundMessageType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(outboundMessageName)
	ls.SetGlobal(outboundMessageName, mt)

	// Read only; scripts cannot alter a message being sent.
	ls.SetField(mt, "__index", ls.NewFunction(outboundMessageIndex))
}

func wrapOutboundMessage(ls *lua.LState, val *event.OutboundMessage) *lua.LUserData {
	ud := ls.NewUserData()
	ud.Value = val
	ls.SetMetatable(ud, ls.GetTypeMetatable(outboundMessageName))

	return ud
}

// Checks there is an OutboundMessage at stack position `pos`, else throws Lua error.
func checkOutboundMessage(ls *lua.LState, pos int) *event.OutboundMessage {
	ud := ls.CheckUserData(pos)
	if v, ok := ud.Value.(*event.OutboundMessage); ok {
		return v
	}
	ls.ArgError(pos, outboundMessageName+" expected")
	return nil
}

// Gets a field value from OutboundMessage user object.  This emulates a Lua table,
// allowing `msg.subject` instead of a Lua object syntax of `msg:subject()`.
func outboundMessageIndex(ls *lua.LState) int {
	m := checkOutboundMessage(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "account":
		ls.Push(lua.LString(m.Account))
	case "from":
		from := m.From
		ls.Push(wrapMailAddress(ls, &from))
	case "to":
		ls.Push(addressTable(ls, m.To))
	case "cc":
		ls.Push(addressTable(ls, m.CC))
	case "bcc":
		ls.Push(addressTable(ls, m.BCC))
	case "subject":
		ls.Push(lua.LString(m.Subject))
	case "message_id":
		ls.Push(lua.LString(m.MessageID))
	case "size":
		ls.Push(lua.LNumber(m.Size))
	case "attachments":
		ls.Push(lua.LNumber(m.Attachments))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// addressTable returns a list-style table of address objects.  Addresses are copied.
func addressTable(ls *lua.LState, addrs []mail.Address) *lua.LTable {
	lt := ls.NewTable()
	for _, a := range addrs {
		addr := a
		lt.Append(wrapMailAddress(ls, &addr))
	}
	return lt
}
