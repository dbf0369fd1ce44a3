package imapconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/rs/zerolog"
)

// conn is one logged in IMAP connection.  It is not safe for concurrent use.
type conn struct {
	client   *imapclient.Client
	netConn  net.Conn
	selected string        // Currently selected mailbox.
	grace    time.Duration // Transport deadline beyond the caller's deadline.
	dead     bool
	logger   zerolog.Logger
}

var _ remote.Conn = &conn{}

// exchange runs one protocol exchange, bounding the transport by the context deadline.
func (c *conn) exchange(ctx context.Context, op string, f func() error) error {
	if c.dead {
		return fmt.Errorf("%w: connection closed", mailerr.ErrTransport)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetDeadline(deadline.Add(c.grace))
		defer func() { _ = c.netConn.SetDeadline(time.Time{}) }()
	}
	if err := f(); err != nil {
		return c.classify(op, err)
	}
	return nil
}

// classify maps err onto the error taxonomy.  Anything other than a tagged server response means
// the connection can no longer be trusted.
func (c *conn) classify(op string, err error) error {
	// Errors raised by this package leave the connection usable.
	if errors.Is(err, mailerr.ErrMessageNotFound) || errors.Is(err, mailerr.ErrUnknownFolder) ||
		errors.Is(err, mailerr.ErrTransport) {
		return err
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeNonExistent, imap.ResponseCodeTryCreate:
			return fmt.Errorf("%w: %s: %s", mailerr.ErrUnknownFolder, op, imapErr.Text)
		}
		return fmt.Errorf("%w: %s: %s", mailerr.ErrTransport, op, imapErr.Text)
	}
	c.dead = true
	c.logger.Warn().Str("op", op).Err(err).Msg("Connection failed")
	return fmt.Errorf("%s: %w", op, classifyNet(err))
}

// selectMailbox selects name unless it is already selected.
func (c *conn) selectMailbox(name string) error {
	if c.selected == name {
		return nil
	}
	if _, err := c.client.Select(name, nil).Wait(); err != nil {
		c.selected = ""
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return fmt.Errorf("%w: select %q: %s", mailerr.ErrUnknownFolder, name, imapErr.Text)
		}
		return err
	}
	c.selected = name
	return nil
}

// exists reports whether uid is present in the selected mailbox.
func (c *conn) exists(uid uint32) (bool, error) {
	data, err := c.client.UIDSearch(&imap.SearchCriteria{
		UID: []imap.UIDSet{imap.UIDSetNum(imap.UID(uid))},
	}, nil).Wait()
	if err != nil {
		return false, err
	}
	return len(data.AllUIDs()) > 0, nil
}

func notFound(mailbox string, uid uint32) error {
	return fmt.Errorf("%w: uid %d in %q", mailerr.ErrMessageNotFound, uid, mailbox)
}

func (c *conn) ListMailboxes(ctx context.Context) ([]remote.Mailbox, error) {
	var result []remote.Mailbox
	err := c.exchange(ctx, "list", func() error {
		var opts *imap.ListOptions
		if c.client.Caps().Has(imap.CapSpecialUse) {
			opts = &imap.ListOptions{ReturnSpecialUse: true}
		}
		data, err := c.client.List("", "*", opts).Collect()
		if err != nil {
			return err
		}
		for _, d := range data {
			attrs := make([]string, len(d.Attrs))
			for i, a := range d.Attrs {
				attrs[i] = string(a)
			}
			result = append(result, remote.Mailbox{Name: d.Mailbox, Attrs: attrs})
		}
		return nil
	})
	return result, err
}

func (c *conn) Search(ctx context.Context, mailbox string, crit remote.Criteria) ([]uint32, error) {
	var uids []uint32
	err := c.exchange(ctx, "search", func() error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		data, err := c.client.UIDSearch(searchCriteria(crit), nil).Wait()
		if err != nil {
			return err
		}
		for _, uid := range data.AllUIDs() {
			uids = append(uids, uint32(uid))
		}
		return nil
	})
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, err
}

// searchCriteria translates gateway criteria into an IMAP SEARCH.
func searchCriteria(crit remote.Criteria) *imap.SearchCriteria {
	sc := &imap.SearchCriteria{Since: crit.Since, Before: crit.Before}
	if crit.Flagged {
		sc.Flag = append(sc.Flag, imap.FlagFlagged)
	}
	if crit.Unseen {
		sc.NotFlag = append(sc.NotFlag, imap.FlagSeen)
	}
	if crit.Text != "" {
		subject := imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: crit.Text}},
		}
		from := imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: crit.Text}},
		}
		body := imap.SearchCriteria{Body: []string{crit.Text}}
		sc.Or = append(sc.Or, [2]imap.SearchCriteria{
			subject,
			{Or: [][2]imap.SearchCriteria{{from, body}}},
		})
	}
	return sc
}

func (c *conn) FetchEnvelopes(
	ctx context.Context, mailbox string, uids []uint32, prefixBytes int,
) ([]*remote.Envelope, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	headerSection := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	textSection := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierText,
		Peek:      true,
		Partial:   &imap.SectionPartial{Offset: 0, Size: int64(prefixBytes)},
	}
	opts := &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		InternalDate:  true,
		RFC822Size:    true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		BodySection:   []*imap.FetchItemBodySection{headerSection},
	}
	if prefixBytes > 0 {
		opts.BodySection = append(opts.BodySection, textSection)
	}

	var envs []*remote.Envelope
	err := c.exchange(ctx, "fetch", func() error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		bufs, err := c.client.Fetch(imap.UIDSetNum(toUIDs(uids)...), opts).Collect()
		if err != nil {
			return err
		}
		for _, buf := range bufs {
			envs = append(envs, &remote.Envelope{
				UID:            uint32(buf.UID),
				Flags:          fromIMAPFlags(buf.Flags),
				InternalDate:   buf.InternalDate,
				Size:           buf.RFC822Size,
				Header:         buf.FindBodySection(headerSection),
				TextPrefix:     buf.FindBodySection(textSection), // nil when not fetched.
				HasAttachments: hasAttachments(buf.BodyStructure),
			})
		}
		return nil
	})
	return envs, err
}

func (c *conn) FetchRaw(ctx context.Context, mailbox string, uid uint32) (*remote.Raw, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}

	var raw *remote.Raw
	err := c.exchange(ctx, "fetch", func() error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		bufs, err := c.client.Fetch(imap.UIDSetNum(imap.UID(uid)), opts).Collect()
		if err != nil {
			return err
		}
		for _, buf := range bufs {
			if uint32(buf.UID) == uid {
				raw = &remote.Raw{
					UID:          uid,
					Flags:        fromIMAPFlags(buf.Flags),
					InternalDate: buf.InternalDate,
					Source:       buf.FindBodySection(section),
				}
			}
		}
		if raw == nil {
			return notFound(mailbox, uid)
		}
		return nil
	})
	return raw, err
}

func (c *conn) StoreFlags(ctx context.Context, mailbox string, uid uint32, add bool, flags ...remote.Flag) error {
	op := imap.StoreFlagsDel
	if add {
		op = imap.StoreFlagsAdd
	}
	return c.exchange(ctx, "store", func() error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		if ok, err := c.exists(uid); err != nil {
			return err
		} else if !ok {
			return notFound(mailbox, uid)
		}
		return c.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  toIMAPFlags(flags),
		}, nil).Close()
	})
}

func (c *conn) Move(ctx context.Context, from string, uid uint32, to string) (uint32, error) {
	var newUID uint32
	err := c.exchange(ctx, "move", func() error {
		if err := c.selectMailbox(from); err != nil {
			return err
		}
		if ok, err := c.exists(uid); err != nil {
			return err
		} else if !ok {
			return notFound(from, uid)
		}

		// Servers may omit the destination UID; it is then found by Message-ID.
		bufs, err := c.client.Fetch(imap.UIDSetNum(imap.UID(uid)),
			&imap.FetchOptions{UID: true, Envelope: true}).Collect()
		if err != nil {
			return err
		}
		var messageID string
		if len(bufs) > 0 && bufs[0].Envelope != nil {
			messageID = bufs[0].Envelope.MessageID
		}
		// The client falls back to COPY and EXPUNGE on servers without MOVE.
		if !c.client.Caps().Has(imap.CapMove) {
			if err := c.checkExpunge(from, uid); err != nil {
				return err
			}
		}

		data, err := c.client.Move(imap.UIDSetNum(imap.UID(uid)), to).Wait()
		if err != nil {
			return err
		}
		if data != nil {
			if dest, ok := data.DestUIDs.(imap.UIDSet); ok {
				if nums, ok := dest.Nums(); ok && len(nums) == 1 {
					newUID = uint32(nums[0])
					return nil
				}
			}
		}
		if messageID == "" {
			return fmt.Errorf("%w: server did not report destination UID", mailerr.ErrTransport)
		}
		if err := c.selectMailbox(to); err != nil {
			return err
		}
		found, err := c.client.UIDSearch(&imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: messageID}},
		}, nil).Wait()
		if err != nil {
			return err
		}
		all := found.AllUIDs()
		if len(all) == 0 {
			return fmt.Errorf("%w: moved message not found in %q", mailerr.ErrTransport, to)
		}
		newUID = uint32(all[len(all)-1])
		return nil
	})
	return newUID, err
}

func (c *conn) Expunge(ctx context.Context, mailbox string, uid uint32) error {
	return c.exchange(ctx, "expunge", func() error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		if ok, err := c.exists(uid); err != nil {
			return err
		} else if !ok {
			return notFound(mailbox, uid)
		}
		if err := c.checkExpunge(mailbox, uid); err != nil {
			return err
		}
		uidSet := imap.UIDSetNum(imap.UID(uid))
		err := c.client.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil).Close()
		if err != nil {
			return err
		}
		if c.client.Caps().Has(imap.CapUIDPlus) {
			return c.client.UIDExpunge(uidSet).Close()
		}
		return c.client.Expunge().Close()
	})
}

// checkExpunge fails if expunging uid from the selected mailbox would remove other messages.
// Without UIDPLUS only a plain EXPUNGE is available, and it removes every message marked \Deleted.
func (c *conn) checkExpunge(mailbox string, uid uint32) error {
	if c.client.Caps().Has(imap.CapUIDPlus) {
		return nil
	}
	marked, err := c.client.UIDSearch(&imap.SearchCriteria{
		Flag: []imap.Flag{imap.FlagDeleted},
	}, nil).Wait()
	if err != nil {
		return err
	}
	for _, other := range marked.AllUIDs() {
		if uint32(other) != uid {
			return fmt.Errorf("%w: server lacks UIDPLUS and %q has other messages marked deleted",
				mailerr.ErrTransport, mailbox)
		}
	}
	return nil
}

func (c *conn) Append(
	ctx context.Context, mailbox string, flags []remote.Flag, date time.Time, source []byte,
) (uint32, error) {
	var uid uint32
	err := c.exchange(ctx, "append", func() error {
		cmd := c.client.Append(mailbox, int64(len(source)), &imap.AppendOptions{
			Flags: toIMAPFlags(flags),
			Time:  date,
		})
		if _, err := cmd.Write(source); err != nil {
			_ = cmd.Close()
			return err
		}
		if err := cmd.Close(); err != nil {
			return err
		}
		data, err := cmd.Wait()
		if err != nil {
			return err
		}
		uid = uint32(data.UID)
		return nil
	})
	return uid, err
}

func (c *conn) Alive() bool {
	return !c.dead
}

func (c *conn) Close() error {
	if c.dead {
		return c.client.Close()
	}
	c.dead = true
	_ = c.netConn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := c.client.Logout().Wait(); err != nil {
		c.logger.Debug().Err(err).Msg("Logout failed")
	}
	return c.client.Close()
}

// hasAttachments reports whether any body part has an attachment disposition.
func hasAttachments(bs imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	found := false
	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		if sp, ok := part.(*imap.BodyStructureSinglePart); ok && sp.Extended != nil &&
			sp.Extended.Disposition != nil &&
			strings.EqualFold(sp.Extended.Disposition.Value, "attachment") {
			found = true
		}
		return !found
	})
	return found
}

func toUIDs(uids []uint32) []imap.UID {
	result := make([]imap.UID, len(uids))
	for i, uid := range uids {
		result[i] = imap.UID(uid)
	}
	return result
}

func toIMAPFlags(flags []remote.Flag) []imap.Flag {
	result := make([]imap.Flag, len(flags))
	for i, f := range flags {
		result[i] = imap.Flag(f)
	}
	return result
}

func fromIMAPFlags(flags []imap.Flag) []remote.Flag {
	result := make([]remote.Flag, len(flags))
	for i, f := range flags {
		result[i] = remote.Flag(f)
	}
	return result
}
