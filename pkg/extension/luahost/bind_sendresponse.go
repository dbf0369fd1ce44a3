package luahost

import (
	"fmt"

	"github.com/inbucket/mailgate/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const sendResponseName = "send"

func registerSendResponseType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(sendResponseName)
	ls.SetGlobal(sendResponseName, mt)

	// Static attributes.
	ls.SetField(mt, "allow", ls.NewFunction(newSendResponse(event.ActionAllow)))
	ls.SetField(mt, "deny", ls.NewFunction(newSendResponse(event.ActionDeny)))
}

func newSendResponse(action int) func(*lua.LState) int {
	return func(ls *lua.LState) int {
		val := &event.PolicyResponse{Action: action}

		if action == event.ActionDeny {
			// Optionally accept a reason shown to the sender.
			val.Reason = ls.OptString(1, "Message denied by policy")
		}

		ls.Push(wrapSendResponse(ls, val))
		return 1
	}
}

func wrapSendResponse(ls *lua.LState, val *event.PolicyResponse) *lua.LUserData {
	ud := ls.NewUserData()
	ud.Value = val
	ls.SetMetatable(ud, ls.GetTypeMetatable(sendResponseName))

	return ud
}

func unwrapSendResponse(lv lua.LValue) (*event.PolicyResponse, error) {
	if ud, ok := lv.(*lua.LUserData); ok {
		if v, ok := ud.Value.(*event.PolicyResponse); ok {
			return v, nil
		}
	}

	return nil, fmt.Errorf("expected send response, got %q", lv.Type().String())
}
