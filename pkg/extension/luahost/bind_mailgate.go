package luahost

import (
	"errors"
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

const (
	mailgateName       = "mailgate"
	mailgateBeforeName = "mailgate_before"
	mailgateAfterName  = "mailgate_after"
)

// Mailgate holds the event functions assigned by the script, ex: `function
// mailgate.after.message_sent(msg)`.
type Mailgate struct {
	Before MailgateBeforeFuncs
	After  MailgateAfterFuncs
}

// MailgateBeforeFuncs are called synchronously, and may return a policy response.
type MailgateBeforeFuncs struct {
	MessageSent *lua.LFunction
}

// MailgateAfterFuncs are called asynchronously after an event completes.
type MailgateAfterFuncs struct {
	ArchiveFailed *lua.LFunction
	MessageMoved  *lua.LFunction
	MessageSent   *lua.LFunction
	SessionClosed *lua.LFunction
	SessionOpened *lua.LFunction
}

func (f *MailgateBeforeFuncs) slots() map[string]**lua.LFunction {
	return map[string]**lua.LFunction{
		"message_sent": &f.MessageSent,
	}
}

func (f *MailgateAfterFuncs) slots() map[string]**lua.LFunction {
	return map[string]**lua.LFunction{
		"archive_failed": &f.ArchiveFailed,
		"message_moved":  &f.MessageMoved,
		"message_sent":   &f.MessageSent,
		"session_closed": &f.SessionClosed,
		"session_opened": &f.SessionOpened,
	}
}

// slotter is implemented by the before and after function sets.
type slotter interface {
	slots() map[string]**lua.LFunction
}

func registerMailgateTypes(ls *lua.LState) {
	// mailgate type.
	mt := ls.NewTypeMetatable(mailgateName)
	ls.SetField(mt, "__index", ls.NewFunction(mailgateIndex))

	// mailgate.before and mailgate.after types.
	for _, name := range []string{mailgateBeforeName, mailgateAfterName} {
		mt = ls.NewTypeMetatable(name)
		ls.SetField(mt, "__index", ls.NewFunction(funcsIndex))
		ls.SetField(mt, "__newindex", ls.NewFunction(funcsNewIndex))
	}

	// mailgate global.
	ud := ls.NewUserData()
	ud.Value = &Mailgate{}
	ls.SetMetatable(ud, ls.GetTypeMetatable(mailgateName))
	ls.SetGlobal(mailgateName, ud)
}

func wrapFuncs(ls *lua.LState, typeName string, val slotter) *lua.LUserData {
	ud := ls.NewUserData()
	ud.Value = val
	ls.SetMetatable(ud, ls.GetTypeMetatable(typeName))

	return ud
}

func getMailgate(ls *lua.LState) (*Mailgate, error) {
	lv := ls.GetGlobal(mailgateName)
	if lv == nil || lv == lua.LNil {
		return nil, errors.New("mailgate object was nil")
	}

	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, fmt.Errorf("mailgate object was type %s instead of UserData", lv.Type())
	}

	val, ok := ud.Value.(*Mailgate)
	if !ok {
		return nil, fmt.Errorf("mailgate object (%v) could not be cast", ud.Value)
	}

	return val, nil
}

func checkMailgate(ls *lua.LState, pos int) *Mailgate {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(*Mailgate); ok {
		return val
	}
	ls.ArgError(pos, mailgateName+" expected")
	return nil
}

func checkFuncs(ls *lua.LState, pos int) slotter {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(slotter); ok {
		return val
	}
	ls.ArgError(pos, "mailgate.before or mailgate.after expected")
	return nil
}

// mailgate getter.
func mailgateIndex(ls *lua.LState) int {
	mg := checkMailgate(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "before":
		ls.Push(wrapFuncs(ls, mailgateBeforeName, &mg.Before))
	case "after":
		ls.Push(wrapFuncs(ls, mailgateAfterName, &mg.After))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// mailgate.before and mailgate.after getter.
func funcsIndex(ls *lua.LState) int {
	funcs := checkFuncs(ls, 1)
	field := ls.CheckString(2)

	if slot, ok := funcs.slots()[field]; ok {
		ls.Push(funcOrNil(*slot))
	} else {
		ls.Push(lua.LNil)
	}

	return 1
}

// mailgate.before and mailgate.after setter.
func funcsNewIndex(ls *lua.LState) int {
	funcs := checkFuncs(ls, 1)
	field := ls.CheckString(2)

	slot, ok := funcs.slots()[field]
	if !ok {
		ls.RaiseError("invalid mailgate event function %q, expected one of: %v", field, slotNames(funcs))
		return 0
	}
	*slot = ls.CheckFunction(3)

	return 0
}

func slotNames(funcs slotter) []string {
	var names []string
	for name := range funcs.slots() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func funcOrNil(f *lua.LFunction) lua.LValue {
	if f == nil {
		return lua.LNil
	}

	return f
}
