package mem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
)

type conn struct {
	server *Server
	acct   *Account
	dead   atomic.Bool
}

var (
	_ remote.Dialer    = &Server{}
	_ remote.Submitter = &Server{}
	_ remote.Conn      = &conn{}
)

// Dial implements remote.Dialer.
func (s *Server) Dial(ctx context.Context, id account.Identity) (remote.Conn, error) {
	if err := s.begin(OpDial); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, mailerr.Wrap(mailerr.ErrTimeout, err)
	}
	a := s.Account(id.Address)
	if a == nil && s.autoProvision && id.Valid() {
		a = s.AddAccount(id.Address, id.Secret.Reveal())
		seed(a, s.now())
	}
	if a == nil || a.secret != id.Secret.Reveal() {
		return nil, fmt.Errorf("%w: invalid credentials for %s", mailerr.ErrAuthentication, id.Address)
	}
	c := &conn{server: s, acct: a}
	s.Lock()
	s.conns = append(s.conns, c)
	s.Unlock()
	return c, nil
}

// Submit implements remote.Submitter.  Recipients with a local account receive the message in
// their INBOX.
func (s *Server) Submit(ctx context.Context, sub *remote.Submission) error {
	id, err := remote.Caller(ctx)
	if err != nil {
		return err
	}
	if err := s.begin(OpSubmit); err != nil {
		return err
	}
	a := s.Account(id.Address)
	if a == nil || a.secret != id.Secret.Reveal() {
		return fmt.Errorf("%w: submission rejected for %s", mailerr.ErrAuthentication, id.Address)
	}
	source, err := io.ReadAll(sub.Source)
	if err != nil {
		return mailerr.Wrap(mailerr.ErrTransport, err)
	}
	now := s.now()
	for _, rcpt := range sub.Recipients {
		if local := s.Account(rcpt); local != nil {
			if _, err := local.Deliver("INBOX", source, now); err != nil {
				return mailerr.Wrap(mailerr.ErrTransport, err)
			}
		}
	}
	s.Lock()
	s.outbox = append(s.outbox, Sent{
		From:       sub.From,
		Recipients: append([]string(nil), sub.Recipients...),
		Source:     source,
	})
	s.Unlock()
	return nil
}

// begin checks the connection and applies server faults for op.
func (c *conn) begin(op Op) error {
	if c.dead.Load() {
		return fmt.Errorf("%w: connection closed", mailerr.ErrTransport)
	}
	if err := c.server.begin(op); err != nil {
		return err
	}
	if c.dead.Load() {
		return fmt.Errorf("%w: connection closed", mailerr.ErrTransport)
	}
	return nil
}

func notFound(mailbox string, uid uint32) error {
	return fmt.Errorf("%w: uid %d in %q", mailerr.ErrMessageNotFound, uid, mailbox)
}

func (c *conn) ListMailboxes(ctx context.Context) ([]remote.Mailbox, error) {
	if err := c.begin(OpList); err != nil {
		return nil, err
	}
	return c.acct.mailboxes(), nil
}

func (c *conn) Search(ctx context.Context, mailbox string, crit remote.Criteria) ([]uint32, error) {
	if err := c.begin(OpSearch); err != nil {
		return nil, err
	}
	var uids []uint32
	err := c.acct.withMailbox(mailbox, false, func(mb *mbox) {
		for _, m := range mb.sorted() {
			if matches(m, crit) {
				uids = append(uids, m.uid)
			}
		}
	})
	return uids, err
}

func (c *conn) FetchEnvelopes(
	ctx context.Context, mailbox string, uids []uint32, prefixBytes int,
) ([]*remote.Envelope, error) {
	if err := c.begin(OpFetch); err != nil {
		return nil, err
	}
	var envs []*remote.Envelope
	err := c.acct.withMailbox(mailbox, false, func(mb *mbox) {
		for _, uid := range uids {
			m, ok := mb.messages[uid]
			if !ok {
				continue
			}
			header, body := splitMessage(m.source)
			if len(body) > prefixBytes {
				body = body[:prefixBytes]
			}
			envs = append(envs, &remote.Envelope{
				UID:            m.uid,
				Flags:          m.Flags(),
				InternalDate:   m.internal,
				Size:           int64(len(m.source)),
				Header:         append([]byte(nil), header...),
				TextPrefix:     append([]byte(nil), body...),
				HasAttachments: hasAttachments(m.source),
			})
		}
	})
	return envs, err
}

func (c *conn) FetchRaw(ctx context.Context, mailbox string, uid uint32) (*remote.Raw, error) {
	if err := c.begin(OpFetch); err != nil {
		return nil, err
	}
	var raw *remote.Raw
	err := c.acct.withMailbox(mailbox, false, func(mb *mbox) {
		if m, ok := mb.messages[uid]; ok {
			raw = &remote.Raw{
				UID:          m.uid,
				Flags:        m.Flags(),
				InternalDate: m.internal,
				Source:       append([]byte(nil), m.source...),
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, notFound(mailbox, uid)
	}
	return raw, nil
}

func (c *conn) StoreFlags(ctx context.Context, mailbox string, uid uint32, add bool, flags ...remote.Flag) error {
	if err := c.begin(OpStore); err != nil {
		return err
	}
	found := false
	err := c.acct.withMailbox(mailbox, true, func(mb *mbox) {
		if m, ok := mb.messages[uid]; ok {
			found = true
			m.flags = setFlags(m.flags, add, flags)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return notFound(mailbox, uid)
	}
	return nil
}

func (c *conn) Move(ctx context.Context, from string, uid uint32, to string) (uint32, error) {
	if err := c.begin(OpMove); err != nil {
		return 0, err
	}
	// Confirm destination exists before removing from source.
	if err := c.acct.withMailbox(to, false, func(*mbox) {}); err != nil {
		return 0, err
	}
	var m *Message
	err := c.acct.withMailbox(from, true, func(mb *mbox) {
		if m = mb.messages[uid]; m != nil {
			delete(mb.messages, uid)
		}
	})
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, notFound(from, uid)
	}
	var newUID uint32
	err = c.acct.withMailbox(to, true, func(mb *mbox) {
		newUID = mb.add(m)
	})
	return newUID, err
}

func (c *conn) Expunge(ctx context.Context, mailbox string, uid uint32) error {
	if err := c.begin(OpExpunge); err != nil {
		return err
	}
	found := false
	err := c.acct.withMailbox(mailbox, true, func(mb *mbox) {
		if _, found = mb.messages[uid]; found {
			delete(mb.messages, uid)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return notFound(mailbox, uid)
	}
	return nil
}

func (c *conn) Append(
	ctx context.Context, mailbox string, flags []remote.Flag, date time.Time, source []byte,
) (uint32, error) {
	if err := c.begin(OpAppend); err != nil {
		return 0, err
	}
	return c.acct.Deliver(mailbox, source, date, flags...)
}

func (c *conn) Alive() bool {
	return !c.dead.Load()
}

func (c *conn) Close() error {
	c.dead.Store(true)
	return nil
}

// matches evaluates search criteria against a stored message.
func matches(m *Message, crit remote.Criteria) bool {
	if crit.Flagged && !remote.HasFlag(m.flags, remote.FlagFlagged) {
		return false
	}
	if crit.Unseen && remote.HasFlag(m.flags, remote.FlagSeen) {
		return false
	}
	if !crit.Since.IsZero() && m.internal.Before(crit.Since) {
		return false
	}
	if !crit.Before.IsZero() && !m.internal.Before(crit.Before) {
		return false
	}
	if crit.Text == "" {
		return true
	}
	needle := strings.ToLower(crit.Text)
	ent, err := readEntity(m.source)
	if err != nil {
		return bytes.Contains(bytes.ToLower(m.source), []byte(needle))
	}
	h := mail.Header{Header: ent.Header}
	if subject, err := h.Subject(); err == nil && strings.Contains(strings.ToLower(subject), needle) {
		return true
	}
	if from, err := h.AddressList("From"); err == nil {
		for _, addr := range from {
			if strings.Contains(strings.ToLower(addr.String()), needle) {
				return true
			}
		}
	}
	body, _ := io.ReadAll(ent.Body)
	return bytes.Contains(bytes.ToLower(body), []byte(needle))
}

// hasAttachments reports whether any part is marked as an attachment.
func hasAttachments(source []byte) bool {
	ent, err := readEntity(source)
	if err != nil {
		return false
	}
	found := false
	_ = ent.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			return err
		}
		if disp, _, err := part.Header.ContentDisposition(); err == nil && disp == "attachment" {
			found = true
		}
		return nil
	})
	return found
}

// readEntity parses source, tolerating unknown charsets and transfer encodings.
func readEntity(source []byte) (*message.Entity, error) {
	ent, err := message.Read(bytes.NewReader(source))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, err
	}
	return ent, nil
}

// messageID returns the Message-ID header of source, without angle brackets.
func messageID(source []byte) string {
	ent, err := readEntity(source)
	if err != nil {
		return ""
	}
	h := mail.Header{Header: ent.Header}
	id, _ := h.MessageID()
	return id
}
