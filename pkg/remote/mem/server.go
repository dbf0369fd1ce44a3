// Package mem implements an in-memory mail server, usable as a remote backend for demos and as the
// fake mail server in tests.
package mem

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
)

// Default mailbox layout for new accounts.
var DefaultMailboxes = []remote.Mailbox{
	{Name: "INBOX"},
	{Name: "Sent", Attrs: []string{remote.AttrSent}},
	{Name: "Drafts", Attrs: []string{remote.AttrDrafts}},
	{Name: "Junk", Attrs: []string{remote.AttrJunk}},
	{Name: "Trash", Attrs: []string{remote.AttrTrash}},
	{Name: "Archive", Attrs: []string{remote.AttrArchive}},
}

// Op names a server operation that can be made to fail.
type Op string

// Operations accepting injected faults.
const (
	OpDial    Op = "dial"
	OpList    Op = "list"
	OpSearch  Op = "search"
	OpFetch   Op = "fetch"
	OpStore   Op = "store"
	OpMove    Op = "move"
	OpExpunge Op = "expunge"
	OpAppend  Op = "append"
	OpSubmit  Op = "submit"
)

// Server is an in-memory mail server holding any number of accounts.
type Server struct {
	sync.Mutex
	accounts      map[string]*Account
	faults        map[Op]error
	latency       time.Duration
	autoProvision bool
	conns         []*conn
	outbox        []Sent
	now           func() time.Time
}

// Account is a mail account and its mailboxes.
type Account struct {
	sync.Mutex
	address string
	secret  string
	boxes   map[string]*mbox
	order   []string // Mailbox names in creation order.
}

type mbox struct {
	sync.RWMutex
	name        string
	attrs       []string
	uidValidity uint32
	last        uint32
	messages    map[uint32]*Message
}

// Message is a stored message.
type Message struct {
	uid      uint32
	flags    []remote.Flag
	internal time.Time
	source   []byte
}

// Sent records one accepted submission.
type Sent struct {
	From       string
	Recipients []string
	Source     []byte
}

// NewServer returns an empty server.
func NewServer() *Server {
	return &Server{
		accounts: make(map[string]*Account),
		faults:   make(map[Op]error),
		now:      time.Now,
	}
}

// New returns a demo backend: any address may log in, its first password is remembered, and new
// accounts are seeded with sample mail.
func New(_ *config.Root) (*remote.Backend, error) {
	s := NewServer()
	s.autoProvision = true
	return s.Backend(), nil
}

// Backend returns a remote.Backend serving this server.
func (s *Server) Backend() *remote.Backend {
	return &remote.Backend{Dialer: s, Submitter: s}
}

// AddAccount creates an account with the provided mailboxes, DefaultMailboxes if none.
func (s *Server) AddAccount(address, secret string, mailboxes ...remote.Mailbox) *Account {
	if len(mailboxes) == 0 {
		mailboxes = DefaultMailboxes
	}
	a := &Account{
		address: address,
		secret:  secret,
		boxes:   make(map[string]*mbox),
	}
	for i, mb := range mailboxes {
		a.addMailbox(mb.Name, mb.Attrs, uint32(i+1))
	}
	s.Lock()
	s.accounts[strings.ToLower(address)] = a
	s.Unlock()
	return a
}

// Account returns the named account, or nil.
func (s *Server) Account(address string) *Account {
	s.Lock()
	defer s.Unlock()
	return s.accounts[strings.ToLower(address)]
}

// SetFault causes every subsequent op to fail with err; a nil err clears it.
func (s *Server) SetFault(op Op, err error) {
	s.Lock()
	defer s.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// SetLatency delays every operation by d.
func (s *Server) SetLatency(d time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.latency = d
}

// DropConnections breaks every open connection, as a network failure would.
func (s *Server) DropConnections() {
	s.Lock()
	defer s.Unlock()
	for _, c := range s.conns {
		c.dead.Store(true)
	}
	s.conns = nil
}

// Outbox returns all accepted submissions.
func (s *Server) Outbox() []Sent {
	s.Lock()
	defer s.Unlock()
	return append([]Sent(nil), s.outbox...)
}

// begin applies latency and fault injection for op.
func (s *Server) begin(op Op) error {
	s.Lock()
	latency := s.latency
	err := s.faults[op]
	s.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
	return err
}

// Deliver stores source in the named mailbox, returning its UID.
func (a *Account) Deliver(mailbox string, source []byte, date time.Time, flags ...remote.Flag) (uint32, error) {
	var uid uint32
	err := a.withMailbox(mailbox, true, func(mb *mbox) {
		uid = mb.add(&Message{
			flags:    append([]remote.Flag(nil), flags...),
			internal: date,
			source:   append([]byte(nil), source...),
		})
	})
	return uid, err
}

// Message returns the message with uid in mailbox, or nil.
func (a *Account) Message(mailbox string, uid uint32) *Message {
	var m *Message
	_ = a.withMailbox(mailbox, false, func(mb *mbox) {
		m = mb.messages[uid]
	})
	return m
}

// Count returns the number of messages in mailbox.
func (a *Account) Count(mailbox string) int {
	n := 0
	_ = a.withMailbox(mailbox, false, func(mb *mbox) {
		n = len(mb.messages)
	})
	return n
}

// FindMessageID returns the UID of the message in mailbox with the Message-ID, or 0.
func (a *Account) FindMessageID(mailbox, id string) uint32 {
	var uid uint32
	_ = a.withMailbox(mailbox, false, func(mb *mbox) {
		for _, m := range mb.sorted() {
			if messageID(m.source) == id {
				uid = m.uid
			}
		}
	})
	return uid
}

// Flags returns a copy of the message flags.
func (m *Message) Flags() []remote.Flag {
	return append([]remote.Flag(nil), m.flags...)
}

// Source returns the raw message.
func (m *Message) Source() []byte {
	return m.source
}

func (a *Account) addMailbox(name string, attrs []string, validity uint32) {
	a.Lock()
	defer a.Unlock()
	key := mailboxKey(name)
	if _, ok := a.boxes[key]; ok {
		return
	}
	a.boxes[key] = &mbox{
		name:        name,
		attrs:       attrs,
		uidValidity: validity,
		messages:    make(map[uint32]*Message),
	}
	a.order = append(a.order, key)
}

func (a *Account) mailboxes() []remote.Mailbox {
	a.Lock()
	defer a.Unlock()
	result := make([]remote.Mailbox, 0, len(a.order))
	for _, key := range a.order {
		mb := a.boxes[key]
		result = append(result, remote.Mailbox{Name: mb.name, Attrs: append([]string(nil), mb.attrs...)})
	}
	return result
}

// withMailbox locks the named mailbox, then calls f.  Unlike a mail store, mailboxes are never
// created implicitly.
func (a *Account) withMailbox(name string, writeLock bool, f func(mb *mbox)) error {
	a.Lock()
	mb, ok := a.boxes[mailboxKey(name)]
	a.Unlock()
	if !ok {
		return fmt.Errorf("%w: mailbox %q does not exist", mailerr.ErrUnknownFolder, name)
	}
	if writeLock {
		mb.Lock()
		defer mb.Unlock()
	} else {
		mb.RLock()
		defer mb.RUnlock()
	}
	f(mb)
	return nil
}

// add assigns the next UID to m and stores it.  Lock must be held.
func (mb *mbox) add(m *Message) uint32 {
	mb.last++
	m.uid = mb.last
	mb.messages[m.uid] = m
	return m.uid
}

// sorted returns messages in ascending UID order.  Lock must be held.
func (mb *mbox) sorted() []*Message {
	ms := make([]*Message, 0, len(mb.messages))
	for _, m := range mb.messages {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].uid < ms[j].uid
	})
	return ms
}

// INBOX is case-insensitive, other mailbox names are not.
func mailboxKey(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return "INBOX"
	}
	return name
}

func setFlags(flags []remote.Flag, add bool, change []remote.Flag) []remote.Flag {
	result := make([]remote.Flag, 0, len(flags)+len(change))
	for _, f := range flags {
		if !remote.HasFlag(change, f) {
			result = append(result, f)
		}
	}
	if add {
		result = append(result, change...)
	}
	return result
}

// splitMessage returns the header section, including its terminating blank line, and the body.
func splitMessage(source []byte) (header, body []byte) {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(source, sep); i >= 0 {
			return source[:i+len(sep)], source[i+len(sep):]
		}
	}
	return source, nil
}
