// Package folder translates between the gateway's stable folder ids and the mailbox names used by
// a particular mail server.
package folder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
)

// Well-known folder ids.
const (
	Inbox   = "inbox"
	Starred = "starred"
	Sent    = "sent"
	Drafts  = "drafts"
	Archive = "archive"
	Spam    = "spam"
	Trash   = "trash"
)

// CustomPrefix marks ids of mailboxes without a well-known role.
const CustomPrefix = "mbox:"

const inboxNative = "INBOX"

// Folder is a client facing folder.
type Folder struct {
	ID      string
	Name    string // Display name.
	Native  string // Server mailbox name.
	Special bool   // True for well-known folders.
}

// Target is the server side of a resolved folder id.
type Target struct {
	ID          string
	Native      string
	FlaggedOnly bool // Virtual folder, restricted to \Flagged messages.
}

type role struct {
	id   string
	name string
	attr string // Special-use attribute, if any.
}

// roles lists well-known folders in display order.
var roles = []role{
	{Inbox, "Inbox", ""},
	{Starred, "Starred", remote.AttrFlagged},
	{Sent, "Sent", remote.AttrSent},
	{Drafts, "Drafts", remote.AttrDrafts},
	{Archive, "Archive", remote.AttrArchive},
	{Spam, "Spam", remote.AttrJunk},
	{Trash, "Trash", remote.AttrTrash},
}

// presets holds native name candidates for each provider, most likely first.
var presets = map[string]map[string][]string{
	"generic": {
		Sent:    {"Sent", "Sent Items", "Sent Messages"},
		Drafts:  {"Drafts"},
		Archive: {"Archive", "Archives"},
		Spam:    {"Junk", "Spam", "Junk E-mail"},
		Trash:   {"Trash", "Deleted Items", "Deleted Messages"},
	},
	"gmail": {
		Sent:    {"[Gmail]/Sent Mail"},
		Drafts:  {"[Gmail]/Drafts"},
		Archive: {"[Gmail]/All Mail"},
		Spam:    {"[Gmail]/Spam"},
		Trash:   {"[Gmail]/Trash"},
	},
	"outlook": {
		Sent:    {"Sent Items", "Sent"},
		Drafts:  {"Drafts"},
		Archive: {"Archive"},
		Spam:    {"Junk Email", "Junk"},
		Trash:   {"Deleted Items", "Deleted"},
	},
	"icloud": {
		Sent:    {"Sent Messages", "Sent"},
		Drafts:  {"Drafts"},
		Archive: {"Archive"},
		Spam:    {"Junk"},
		Trash:   {"Deleted Messages", "Trash"},
	},
}

// Table holds the configured candidates for each well-known folder.  It is immutable and shared by
// all sessions.
type Table struct {
	candidates map[string][]string
}

// NewTable builds the table for the configured provider, applying overrides.
func NewTable(conf config.Folders) (*Table, error) {
	preset, ok := presets[strings.ToLower(conf.Provider)]
	if !ok {
		return nil, fmt.Errorf("unknown folder provider %q", conf.Provider)
	}
	t := &Table{candidates: make(map[string][]string, len(preset)+1)}
	t.candidates[Inbox] = []string{inboxNative}
	for id, names := range preset {
		t.candidates[id] = names
	}
	for id, value := range conf.Map {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == Starred || lookupRole(id) == nil {
			return nil, fmt.Errorf("folder override for unknown id %q", id)
		}
		var names []string
		for _, name := range strings.Split(value, "|") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("folder override for %q has no mailbox names", id)
		}
		t.candidates[id] = names
	}
	return t, nil
}

// ToNative resolves id using configuration alone, picking the first candidate.
func (t *Table) ToNative(id string) (Target, error) {
	return t.resolve(id, func(string, []string) string { return "" })
}

// Bind learns the server's mailbox listing and returns a resolver for that server.
func (t *Table) Bind(boxes []remote.Mailbox) *Binding {
	b := &Binding{
		table:   t,
		natives: make(map[string]string),
		ids:     make(map[string]string),
	}
	present := make(map[string]remote.Mailbox, len(boxes))
	for _, mb := range boxes {
		if !mb.HasAttr(remote.AttrNoSelect) {
			present[key(mb.Name)] = mb
		}
	}
	if mb, ok := present[key(inboxNative)]; ok {
		b.bind(Inbox, mb.Name)
	}
	// Special-use attributes beat configured names.
	for _, r := range roles {
		if r.attr == "" || r.id == Starred {
			continue
		}
		for _, mb := range boxes {
			if _, ok := present[key(mb.Name)]; ok && mb.HasAttr(r.attr) && b.ids[key(mb.Name)] == "" {
				b.bind(r.id, mb.Name)
				break
			}
		}
	}
	for _, r := range roles {
		if _, ok := b.natives[r.id]; ok || r.id == Starred {
			continue
		}
		for _, name := range t.candidates[r.id] {
			if mb, ok := present[key(name)]; ok && b.ids[key(mb.Name)] == "" {
				b.bind(r.id, mb.Name)
				break
			}
		}
	}
	for _, mb := range boxes {
		if _, ok := present[key(mb.Name)]; ok && b.ids[key(mb.Name)] == "" {
			b.custom = append(b.custom, mb.Name)
		}
	}
	sort.Strings(b.custom)
	return b
}

func (t *Table) resolve(id string, learned func(id string, candidates []string) string) (Target, error) {
	if strings.HasPrefix(id, CustomPrefix) {
		native := strings.TrimPrefix(id, CustomPrefix)
		if native == "" {
			return Target{}, fmt.Errorf("%w: empty mailbox name", mailerr.ErrUnknownFolder)
		}
		return Target{ID: id, Native: native}, nil
	}
	lookup := id
	if id == Starred {
		lookup = Inbox
	}
	candidates, ok := t.candidates[lookup]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", mailerr.ErrUnknownFolder, id)
	}
	native := learned(lookup, candidates)
	if native == "" {
		native = candidates[0]
	}
	return Target{ID: id, Native: native, FlaggedOnly: id == Starred}, nil
}

// Binding resolves folder ids for one server, using its actual mailbox names.  It is not safe for
// concurrent modification, but is never modified after Bind returns.
type Binding struct {
	table   *Table
	natives map[string]string // id -> native
	ids     map[string]string // key(native) -> id
	custom  []string
}

func (b *Binding) bind(id, native string) {
	b.natives[id] = native
	b.ids[key(native)] = id
}

// ToNative resolves id, preferring mailboxes the server actually has.  A custom id naming a
// well-known mailbox resolves to that folder's id, so both spellings report the same folder.
func (b *Binding) ToNative(id string) (Target, error) {
	t, err := b.table.resolve(id, func(id string, _ []string) string {
		return b.natives[id]
	})
	if err != nil {
		return Target{}, err
	}
	if strings.HasPrefix(id, CustomPrefix) {
		t.ID = b.ToClient(t.Native)
	}
	return t, nil
}

// ToClient returns the folder id for a native mailbox name.
func (b *Binding) ToClient(native string) string {
	if id, ok := b.ids[key(native)]; ok {
		return id
	}
	return CustomPrefix + native
}

// Folders lists the client facing folders: well-known folders present on the server in a fixed
// order, followed by custom mailboxes ordered by name.  Inbox and Starred are always included.
func (b *Binding) Folders() []Folder {
	result := make([]Folder, 0, len(roles)+len(b.custom))
	for _, r := range roles {
		native, ok := b.natives[r.id]
		switch r.id {
		case Inbox, Starred:
			native, ok = inboxNative, true
			if n, found := b.natives[Inbox]; found {
				native = n
			}
		}
		if !ok {
			continue
		}
		result = append(result, Folder{ID: r.id, Name: r.name, Native: native, Special: true})
	}
	for _, native := range b.custom {
		result = append(result, Folder{
			ID:     CustomPrefix + native,
			Name:   displayName(native),
			Native: native,
		})
	}
	return result
}

// Same reports whether two folder ids resolve to the same server mailbox.
func Same(a, b Target) bool {
	return key(a.Native) == key(b.Native)
}

func lookupRole(id string) *role {
	for i := range roles {
		if roles[i].id == id {
			return &roles[i]
		}
	}
	return nil
}

// displayName returns the last component of a hierarchical mailbox name.
func displayName(native string) string {
	if i := strings.LastIndex(native, "/"); i >= 0 && i < len(native)-1 {
		return native[i+1:]
	}
	return native
}

// INBOX is case-insensitive, other mailbox names are not.
func key(native string) string {
	if strings.EqualFold(native, inboxNative) {
		return inboxNative
	}
	return native
}
