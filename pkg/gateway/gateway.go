// Package gateway implements the mail operations offered to API clients: folder listing, message
// reading, sending and flag/move operations.  Each operation borrows the caller's session
// connection from the session manager for the duration of one protocol exchange.
package gateway

import (
	"context"
	"time"

	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/folder"
	"github.com/inbucket/mailgate/pkg/metric"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// bindingKey caches the session's folder binding.
const bindingKey = "folders"

var (
	counters              = metric.NewCounters("messages")
	expSentTotal          = counters.Total("Sent")
	expArchiveFailedTotal = counters.Total("ArchiveFailed")
	expMovedTotal         = counters.Total("Moved")
	expDeletedTotal       = counters.Total("Deleted")
)

// Gateway performs mail operations on behalf of sessions.
type Gateway struct {
	sessions  *session.Manager
	folders   *folder.Table
	submitter remote.Submitter
	extHost   *extension.Host
	reader    config.Reader
	listLimit int
	now       func() time.Time
}

// New creates a Gateway.  It fails if the folder configuration is invalid.
func New(
	conf *config.Root,
	sessions *session.Manager,
	submitter remote.Submitter,
	extHost *extension.Host,
) (*Gateway, error) {
	table, err := folder.NewTable(conf.Folders)
	if err != nil {
		return nil, err
	}
	if extHost == nil {
		extHost = extension.NewHost()
	}
	listLimit := conf.Web.ListLimit
	if listLimit <= 0 || listLimit > MaxListLimit {
		listLimit = DefaultListLimit
	}
	return &Gateway{
		sessions:  sessions,
		folders:   table,
		submitter: submitter,
		extHost:   extHost,
		reader:    conf.Reader,
		listLimit: listLimit,
		now:       time.Now,
	}, nil
}

// Sessions returns the session manager used by this gateway.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// ListFolders enumerates the session's mailboxes as client folders.  The server listing is
// re-learned on every call.
func (g *Gateway) ListFolders(ctx context.Context, sid string) ([]folder.Folder, error) {
	var result []folder.Folder
	err := g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		b, err := g.learn(ctx, h)
		if err != nil {
			return err
		}
		result = b.Folders()
		return nil
	})
	return result, err
}

// learn lists the server mailboxes and caches the resulting binding on the session.
func (g *Gateway) learn(ctx context.Context, h *session.Handle) (*folder.Binding, error) {
	boxes, err := h.Conn.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}
	b := g.folders.Bind(boxes)
	h.SetValue(bindingKey, b)
	return b, nil
}

// binding returns the session's cached folder binding, learning it on first use.
func (g *Gateway) binding(ctx context.Context, h *session.Handle) (*folder.Binding, error) {
	if b, ok := h.Value(bindingKey).(*folder.Binding); ok {
		return b, nil
	}
	return g.learn(ctx, h)
}

// resolve maps a client folder id to the session's server mailbox.
func (g *Gateway) resolve(ctx context.Context, h *session.Handle, id string) (folder.Target, error) {
	// Reject unknown ids before contacting the server.
	if _, err := g.folders.ToNative(id); err != nil {
		return folder.Target{}, err
	}
	b, err := g.binding(ctx, h)
	if err != nil {
		return folder.Target{}, err
	}
	return b.ToNative(id)
}

// logger returns an operation logger tagged with the session and the account carried by ctx.
func logger(ctx context.Context, h *session.Handle) zerolog.Logger {
	id := h.SessionID()
	if len(id) > 8 {
		id = id[:8]
	}
	lc := log.With().Str("module", "gateway").Str("session", id)
	if acct, ok := account.FromContext(ctx); ok {
		lc = lc.Str("account", acct.Address)
	}
	return lc.Logger()
}
