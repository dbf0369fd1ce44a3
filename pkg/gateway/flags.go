package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/inbucket/mailgate/pkg/folder"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/message"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/session"
)

// FlagChange lists flags to set or clear; nil fields are left alone.
type FlagChange struct {
	Read    *bool
	Starred *bool
}

// Location identifies a message by folder and id.
type Location struct {
	FolderID string
	ID       uint32
}

// SetFlags applies change to a message and returns the updated message.
func (g *Gateway) SetFlags(
	ctx context.Context, sid, folderID string, id uint32, change FlagChange,
) (*message.Message, error) {
	var raw *remote.Raw
	var target folder.Target
	err := g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		var err error
		if target, err = g.resolve(ctx, h, folderID); err != nil {
			return err
		}
		if target.FlaggedOnly {
			if err := g.checkStarred(ctx, h, target, id); err != nil {
				return err
			}
		}
		for _, c := range []struct {
			value *bool
			flag  remote.Flag
		}{
			{change.Read, remote.FlagSeen},
			{change.Starred, remote.FlagFlagged},
		} {
			if c.value == nil {
				continue
			}
			if err := h.Conn.StoreFlags(ctx, target.Native, id, *c.value, c.flag); err != nil {
				return err
			}
		}
		raw, err = h.Conn.FetchRaw(ctx, target.Native, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseRaw(raw, target, g.now())
}

// Move relocates a message between folders, returning its new location.
func (g *Gateway) Move(ctx context.Context, sid string, id uint32, fromID, toID string) (*Location, error) {
	var loc *Location
	err := g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		var err error
		loc, err = g.move(ctx, h, id, fromID, toID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// Archive moves a message to the archive folder.
func (g *Gateway) Archive(ctx context.Context, sid, folderID string, id uint32) (*Location, error) {
	return g.Move(ctx, sid, id, folderID, folder.Archive)
}

// Delete moves a message to the trash, returning its new location.  A message already in the trash
// is removed permanently and a nil Location is returned.
func (g *Gateway) Delete(ctx context.Context, sid, folderID string, id uint32) (*Location, error) {
	var loc *Location
	err := g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		target, err := g.resolve(ctx, h, folderID)
		if err != nil {
			return err
		}
		trash, err := g.resolve(ctx, h, folder.Trash)
		if err != nil {
			return err
		}
		if !folder.Same(target, trash) {
			loc, err = g.move(ctx, h, id, folderID, folder.Trash)
			return err
		}

		err = h.Conn.Expunge(ctx, target.Native, id)
		if errors.Is(err, mailerr.ErrMessageNotFound) {
			return fmt.Errorf("%w: uid %d in %q", mailerr.ErrAlreadyDeleted, id, target.Native)
		}
		if err != nil {
			return err
		}
		expDeletedTotal.Add(1)
		l := logger(ctx, h)
		l.Info().Str("folder", target.ID).Uint32("uid", id).Msg("Message deleted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// move relocates a message using the session's connection.  The virtual starred folder moves
// messages from the inbox, and moving into it stars the message.
func (g *Gateway) move(
	ctx context.Context, h *session.Handle, id uint32, fromID, toID string,
) (*Location, error) {
	src, err := g.resolve(ctx, h, fromID)
	if err != nil {
		return nil, err
	}
	dst, err := g.resolve(ctx, h, toID)
	if err != nil {
		return nil, err
	}
	if folder.Same(src, dst) {
		return nil, fmt.Errorf("%w: %q and %q are both %q",
			mailerr.ErrMoveUnsupported, fromID, toID, src.Native)
	}
	if src.FlaggedOnly {
		if err := g.checkStarred(ctx, h, src, id); err != nil {
			return nil, err
		}
	}
	newID, err := h.Conn.Move(ctx, src.Native, id, dst.Native)
	if err != nil {
		return nil, err
	}
	if dst.FlaggedOnly && newID != 0 {
		if err := h.Conn.StoreFlags(ctx, dst.Native, newID, true, remote.FlagFlagged); err != nil {
			return nil, err
		}
	}

	expMovedTotal.Add(1)
	l := logger(ctx, h)
	l.Info().Str("folder", src.ID).Uint32("uid", id).Str("to", dst.ID).
		Uint32("newUid", newID).Msg("Message moved")
	g.extHost.Events.AfterMessageMoved.Emit(&event.MessageMoved{
		Account:    h.Identity.Address,
		FromFolder: src.ID,
		FromID:     id,
		ToFolder:   dst.ID,
		ToID:       newID,
	})
	return &Location{FolderID: dst.ID, ID: newID}, nil
}

// checkStarred fails unless the message exists and is flagged.
func (g *Gateway) checkStarred(ctx context.Context, h *session.Handle, target folder.Target, id uint32) error {
	envs, err := h.Conn.FetchEnvelopes(ctx, target.Native, []uint32{id}, 0)
	if err != nil {
		return err
	}
	if len(envs) == 0 {
		return fmt.Errorf("%w: uid %d in %q", mailerr.ErrMessageNotFound, id, target.Native)
	}
	return checkMember(target, id, envs[0].Flags)
}
