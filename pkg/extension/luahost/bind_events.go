package luahost

import (
	"github.com/inbucket/mailgate/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

// Events without a Go side API are passed to Lua as plain tables.

func sessionTable(ls *lua.LState, s *event.Session) *lua.LTable {
	lt := ls.NewTable()
	ls.SetField(lt, "account", lua.LString(s.Account))
	ls.SetField(lt, "reason", lua.LString(s.Reason))
	ls.SetField(lt, "at", lua.LNumber(s.At.Unix()))
	return lt
}

func messageMovedTable(ls *lua.LState, m *event.MessageMoved) *lua.LTable {
	lt := ls.NewTable()
	ls.SetField(lt, "account", lua.LString(m.Account))
	ls.SetField(lt, "from_folder", lua.LString(m.FromFolder))
	ls.SetField(lt, "from_id", lua.LNumber(m.FromID))
	ls.SetField(lt, "to_folder", lua.LString(m.ToFolder))
	ls.SetField(lt, "to_id", lua.LNumber(m.ToID))
	return lt
}

func archiveFailureTable(ls *lua.LState, f *event.ArchiveFailure) *lua.LTable {
	lt := ls.NewTable()
	ls.SetField(lt, "message", wrapOutboundMessage(ls, &f.Message))
	ls.SetField(lt, "folder", lua.LString(f.Folder))
	ls.SetField(lt, "error", lua.LString(f.Error))
	return lt
}
