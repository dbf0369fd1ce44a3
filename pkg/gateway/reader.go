package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/inbucket/mailgate/pkg/folder"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/message"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/session"
)

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Query filters a message listing.  Zero values match everything.
type Query struct {
	Limit          int    // Maximum results; 0 selects the configured default.
	Text           string // Matches subject, sender or body.
	Starred        bool
	Unread         bool
	HasAttachments bool
	Since          time.Time
	Before         time.Time
}

// ListSummaries returns the newest messages in a folder matching q, newest first.
func (g *Gateway) ListSummaries(
	ctx context.Context, sid, folderID string, q Query,
) ([]*message.Summary, error) {
	limit := q.Limit
	switch {
	case limit < 0:
		return nil, mailerr.Validation("limit must not be negative")
	case limit == 0:
		limit = g.listLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	if !q.Since.IsZero() && !q.Before.IsZero() && !q.Since.Before(q.Before) {
		return nil, mailerr.Validation("since must precede before")
	}

	result := make([]*message.Summary, 0)
	err := g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		target, err := g.resolve(ctx, h, folderID)
		if err != nil {
			return err
		}
		uids, err := h.Conn.Search(ctx, target.Native, remote.Criteria{
			Text:    q.Text,
			Flagged: q.Starred || target.FlaggedOnly,
			Unseen:  q.Unread,
			Since:   q.Since,
			Before:  q.Before,
		})
		if err != nil {
			return err
		}

		fetchedAt := g.now()
		// Walk backwards from the highest UID; the attachment filter is applied after fetching, so
		// more than one round may be needed to fill the page.
		for end := len(uids); end > 0 && len(result) < limit; {
			start := end - (limit - len(result))
			if start < 0 {
				start = 0
			}
			envs, err := h.Conn.FetchEnvelopes(ctx, target.Native, uids[start:end], g.reader.SnippetBytes)
			if err != nil {
				return err
			}
			for _, env := range envs {
				if q.HasAttachments && !env.HasAttachments {
					continue
				}
				s := message.ParseSummary(env.Header, env.TextPrefix, g.reader.SnippetLength, fetchedAt)
				s.ID = env.UID
				s.FolderID = target.ID
				s.Flags = message.FlagsFrom(env.Flags)
				s.HasAttachments = env.HasAttachments
				s.Size = env.Size
				result = append(result, s)
			}
			end = start
		}
		l := logger(ctx, h)
		l.Debug().Str("folder", target.ID).Int("matched", len(uids)).
			Int("returned", len(result)).Msg("Listed messages")
		return nil
	})
	if err != nil {
		return nil, err
	}
	message.SortNewestFirst(result)
	return result, nil
}

// GetFull returns the complete parsed message.  Reading does not mark the message seen.
func (g *Gateway) GetFull(ctx context.Context, sid, folderID string, id uint32) (*message.Message, error) {
	raw, target, err := g.fetchRaw(ctx, sid, folderID, id)
	if err != nil {
		return nil, err
	}
	return parseRaw(raw, target, g.now())
}

// Source returns the message exactly as stored by the server.
func (g *Gateway) Source(ctx context.Context, sid, folderID string, id uint32) ([]byte, error) {
	raw, _, err := g.fetchRaw(ctx, sid, folderID, id)
	if err != nil {
		return nil, err
	}
	return raw.Source, nil
}

func (g *Gateway) fetchRaw(
	ctx context.Context, sid, folderID string, id uint32,
) (raw *remote.Raw, target folder.Target, err error) {
	err = g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		if target, err = g.resolve(ctx, h, folderID); err != nil {
			return err
		}
		if raw, err = h.Conn.FetchRaw(ctx, target.Native, id); err != nil {
			return err
		}
		return checkMember(target, id, raw.Flags)
	})
	if err != nil {
		// The operation may still be running after a timeout.
		return nil, folder.Target{}, err
	}
	return raw, target, nil
}

// checkMember fails if a message does not belong to a virtual folder.
func checkMember(target folder.Target, id uint32, flags []remote.Flag) error {
	if target.FlaggedOnly && !remote.HasFlag(flags, remote.FlagFlagged) {
		return fmt.Errorf("%w: uid %d is not starred", mailerr.ErrMessageNotFound, id)
	}
	return nil
}

func parseRaw(raw *remote.Raw, target folder.Target, fetchedAt time.Time) (*message.Message, error) {
	m, err := message.Parse(raw.Source, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parse message %d in %q: %w", raw.UID, target.Native, err)
	}
	m.ID = raw.UID
	m.FolderID = target.ID
	m.Flags = message.FlagsFrom(raw.Flags)
	return m, nil
}
