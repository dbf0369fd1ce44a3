// Package remote defines the boundary between the gateway and the remote mail servers: a stateful
// mailbox retrieval connection (IMAP) and a mail submission client (SMTP).
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/mailerr"
)

// Flag is a server maintained message flag, in IMAP system flag syntax.
type Flag string

// System flags used by the gateway.
const (
	FlagSeen     Flag = `\Seen`
	FlagFlagged  Flag = `\Flagged`
	FlagAnswered Flag = `\Answered`
	FlagDraft    Flag = `\Draft`
	FlagDeleted  Flag = `\Deleted`
)

// Mailbox attributes, including RFC 6154 special-use attributes.
const (
	AttrNoSelect = `\Noselect`
	AttrSent     = `\Sent`
	AttrDrafts   = `\Drafts`
	AttrJunk     = `\Junk`
	AttrTrash    = `\Trash`
	AttrArchive  = `\Archive`
	AttrFlagged  = `\Flagged`
)

// Mailbox is a server reported mailbox.
type Mailbox struct {
	Name  string
	Attrs []string
}

// HasAttr reports whether the mailbox carries attr, ignoring case.
func (m Mailbox) HasAttr(attr string) bool {
	for _, a := range m.Attrs {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// Criteria restricts a mailbox search.  Zero values match everything.
type Criteria struct {
	Text    string    // Matches subject, from or body.
	Flagged bool      // Only flagged messages.
	Unseen  bool      // Only unseen messages.
	Since   time.Time // Internal date on or after.
	Before  time.Time // Internal date before.
}

// Envelope holds the raw summary level data for one message.
type Envelope struct {
	UID            uint32
	Flags          []Flag
	InternalDate   time.Time
	Size           int64
	Header         []byte // Complete raw header section.
	TextPrefix     []byte // Leading bytes of the body, for snippets.
	HasAttachments bool
}

// Raw is a complete message as stored by the server.
type Raw struct {
	UID          uint32
	Flags        []Flag
	InternalDate time.Time
	Source       []byte
}

// HasFlag reports whether flags contains f.
func HasFlag(flags []Flag, f Flag) bool {
	for _, x := range flags {
		if strings.EqualFold(string(x), string(f)) {
			return true
		}
	}
	return false
}

// Conn is an authenticated mailbox retrieval connection.  Implementations are not safe for
// concurrent use; the session manager serializes access.  Operations on a missing UID return an
// error wrapping mailerr.ErrMessageNotFound.
type Conn interface {
	// ListMailboxes returns all mailboxes reported by the server.
	ListMailboxes(ctx context.Context) ([]Mailbox, error)

	// Search returns the UIDs of messages in mailbox matching c, in ascending order.
	Search(ctx context.Context, mailbox string, c Criteria) ([]uint32, error)

	// FetchEnvelopes returns summary data for the requested UIDs.  Missing UIDs are skipped.
	// At most prefixBytes of each body are returned in TextPrefix.
	FetchEnvelopes(ctx context.Context, mailbox string, uids []uint32, prefixBytes int) ([]*Envelope, error)

	// FetchRaw returns the complete message without altering its flags.
	FetchRaw(ctx context.Context, mailbox string, uid uint32) (*Raw, error)

	// StoreFlags adds or removes flags on a message.
	StoreFlags(ctx context.Context, mailbox string, uid uint32, add bool, flags ...Flag) error

	// Move relocates a message, returning its UID in the destination mailbox.
	Move(ctx context.Context, from string, uid uint32, to string) (uint32, error)

	// Expunge permanently removes a message, and fails rather than remove any other message.
	Expunge(ctx context.Context, mailbox string, uid uint32) error

	// Append adds a message to mailbox, returning its UID when the server reports one.
	Append(ctx context.Context, mailbox string, flags []Flag, date time.Time, source []byte) (uint32, error)

	// Alive reports whether the underlying transport is still usable.
	Alive() bool

	// Close logs out and releases the transport.
	Close() error
}

// Dialer opens authenticated connections for an account.
type Dialer interface {
	// Dial makes exactly one connection attempt.  Rejected credentials return an error wrapping
	// mailerr.ErrAuthentication, network and TLS failures wrap mailerr.ErrTransport.
	Dial(ctx context.Context, id account.Identity) (Conn, error)
}

// Submission is a composed message and its SMTP envelope addresses.
type Submission struct {
	From       string
	Recipients []string
	Source     io.Reader
}

// Submitter transmits composed messages on behalf of the account carried by ctx.
type Submitter interface {
	Submit(ctx context.Context, s *Submission) error
}

// Caller returns the account attached to ctx with account.NewContext.  Submitters authenticate as
// this account.
func Caller(ctx context.Context) (account.Identity, error) {
	id, ok := account.FromContext(ctx)
	if !ok || id.Address == "" {
		return account.Identity{}, fmt.Errorf("%w: no account in context", mailerr.ErrAuthentication)
	}
	return id, nil
}

// Backend pairs a Dialer and Submitter for one kind of mail server.
type Backend struct {
	Dialer    Dialer
	Submitter Submitter
}

// Constructors maps backend names to their constructors.
var Constructors = make(map[string]func(*config.Root) (*Backend, error))

// FromConfig creates an instance of the Backend based on the provided configuration.
func FromConfig(c *config.Root) (*Backend, error) {
	if cf := Constructors[c.Remote.Backend]; cf != nil {
		return cf(c)
	}
	return nil, fmt.Errorf("unknown remote backend: %q", c.Remote.Backend)
}
