package luahost

import (
	"net/mail"

	lua "github.com/yuin/gopher-lua"
)

const mailAddressName = "address"

func registerMailAddressType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(mailAddressName)
	ls.SetGlobal(mailAddressName, mt)

	// Static attributes.
	ls.SetField(mt, "new", ls.NewFunction(newMailAddress))

	// Methods.
	ls.SetField(mt, "__index", ls.NewFunction(mailAddressIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(mailAddressNewIndex))
	ls.SetField(mt, "__tostring", ls.NewFunction(mailAddressToString))
}

// newMailAddress implements address.new(address [, name]).
func newMailAddress(ls *lua.LState) int {
	val := &mail.Address{
		Address: ls.CheckString(1),
		Name:    ls.OptString(2, ""),
	}
	ls.Push(wrapMailAddress(ls, val))

	return 1
}

func wrapMailAddress(ls *lua.LState, val *mail.Address) *lua.LUserData {
	ud := ls.NewUserData()
	ud.Value = val
	ls.SetMetatable(ud, ls.GetTypeMetatable(mailAddressName))

	return ud
}

func checkMailAddress(ls *lua.LState, pos int) *mail.Address {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(*mail.Address); ok {
		return val
	}
	ls.ArgError(pos, mailAddressName+" expected")
	return nil
}

// Gets a field value from the address, ex: `addr.name`.
func mailAddressIndex(ls *lua.LState) int {
	val := checkMailAddress(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "address":
		ls.Push(lua.LString(val.Address))
	case "name":
		ls.Push(lua.LString(val.Name))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// Sets a field value on the address, ex: `addr.name = "Bob"`.
func mailAddressNewIndex(ls *lua.LState) int {
	val := checkMailAddress(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "address":
		val.Address = ls.CheckString(3)
	case "name":
		val.Name = ls.CheckString(3)
	default:
		ls.RaiseError("invalid address index %q", field)
	}

	return 0
}

func mailAddressToString(ls *lua.LState) int {
	val := checkMailAddress(ls, 1)
	ls.Push(lua.LString(val.String()))
	return 1
}
