package rest

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/gateway"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/message"
	"github.com/inbucket/mailgate/pkg/rest/model"
	"github.com/inbucket/mailgate/pkg/server/web"
)

// SessionConnectV1 authenticates against the mail server and opens a session.
func SessionConnectV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	var body model.ConnectRequestV1
	if err := web.DecodeJSON(req, &body); err != nil {
		return err
	}
	identity := account.New(body.Email, body.Password)
	sid, err := ctx.Gateway.Sessions().Open(req.Context(), identity)
	if err != nil {
		return err
	}
	return web.RenderJSON(w, &model.ConnectResponseV1{
		SessionID: sid,
		Name:      identity.Name(),
		Email:     identity.Address,
	})
}

// SessionDisconnectV1 closes the session, if any.  It always succeeds.
func SessionDisconnectV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	if ctx.SessionID != "" {
		ctx.Gateway.Sessions().Close(req.Context(), ctx.SessionID)
	}
	return web.RenderJSON(w, &model.OKResponseV1{OK: true})
}

// FolderListV1 renders the folders of the session's account.
func FolderListV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folders, err := ctx.Gateway.ListFolders(req.Context(), ctx.SessionID)
	if err != nil {
		return err
	}
	jfolders := make([]*model.FolderV1, len(folders))
	for i, f := range folders {
		jfolders[i] = &model.FolderV1{
			ID:      f.ID,
			Name:    f.Name,
			Native:  f.Native,
			Special: f.Special,
		}
	}
	return web.RenderJSON(w, jfolders)
}

// MessageListV1 renders a list of messages in a folder.
func MessageListV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, err := folderVar(ctx)
	if err != nil {
		return err
	}
	q, err := parseQuery(req.URL.Query())
	if err != nil {
		return err
	}
	summaries, err := ctx.Gateway.ListSummaries(req.Context(), ctx.SessionID, folderID, q)
	if err != nil {
		return err
	}

	jsummaries := make([]*model.MessageSummaryV1, len(summaries))
	for i, s := range summaries {
		jsummaries[i] = &model.MessageSummaryV1{
			ID:             s.ID,
			FolderID:       s.FolderID,
			Sender:         jsonAddress(s.Sender),
			To:             jsonAddresses(s.To),
			Subject:        s.Subject,
			Snippet:        s.Snippet,
			Timestamp:      s.Timestamp,
			DateSynthetic:  s.DateSynthetic,
			Flags:          jsonFlags(s.Flags),
			HasAttachments: s.HasAttachments,
			Size:           s.Size,
		}
	}
	return web.RenderJSON(w, jsummaries)
}

// MessageShowV1 renders a particular message from a folder.
func MessageShowV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, id, err := messageVars(ctx)
	if err != nil {
		return err
	}
	msg, err := ctx.Gateway.GetFull(req.Context(), ctx.SessionID, folderID, id)
	if err != nil {
		return err
	}
	return web.RenderJSON(w, jsonMessage(msg))
}

// MessageSourceV1 displays the raw source of a message, including headers. Renders text/plain
func MessageSourceV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, id, err := messageVars(ctx)
	if err != nil {
		return err
	}
	source, err := ctx.Gateway.Source(req.Context(), ctx.SessionID, folderID, id)
	if err != nil {
		return err
	}
	// Output message source
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = w.Write(source)
	return err
}

// MessageFlagsV1 sets the read and starred flags of a message.
func MessageFlagsV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, id, err := messageVars(ctx)
	if err != nil {
		return err
	}
	var body model.FlagChangeV1
	if err := web.DecodeJSON(req, &body); err != nil {
		return err
	}
	msg, err := ctx.Gateway.SetFlags(req.Context(), ctx.SessionID, folderID, id,
		gateway.FlagChange{Read: body.Read, Starred: body.Starred})
	if err != nil {
		return err
	}
	return web.RenderJSON(w, jsonMessage(msg))
}

// MessageMoveV1 moves a message to another folder.
func MessageMoveV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, id, err := messageVars(ctx)
	if err != nil {
		return err
	}
	var body model.MoveRequestV1
	if err := web.DecodeJSON(req, &body); err != nil {
		return err
	}
	loc, err := ctx.Gateway.Move(req.Context(), ctx.SessionID, id, folderID, body.To)
	if err != nil {
		return err
	}
	return web.RenderJSON(w, &model.LocationV1{ID: loc.ID, Folder: loc.FolderID})
}

// MessageArchiveV1 moves a message to the archive folder.
func MessageArchiveV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, id, err := messageVars(ctx)
	if err != nil {
		return err
	}
	loc, err := ctx.Gateway.Archive(req.Context(), ctx.SessionID, folderID, id)
	if err != nil {
		return err
	}
	return web.RenderJSON(w, &model.LocationV1{ID: loc.ID, Folder: loc.FolderID})
}

// MessageDeleteV1 moves a message to the trash, or removes it permanently when it is already
// there.
func MessageDeleteV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	folderID, id, err := messageVars(ctx)
	if err != nil {
		return err
	}
	loc, err := ctx.Gateway.Delete(req.Context(), ctx.SessionID, folderID, id)
	if err != nil {
		return err
	}
	if loc == nil {
		return web.RenderJSON(w, &model.DeletedV1{Deleted: true})
	}
	return web.RenderJSON(w, &model.LocationV1{ID: loc.ID, Folder: loc.FolderID})
}

// MessageSendV1 composes and submits a new message.
func MessageSendV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	var body model.SendRequestV1
	if err := web.DecodeJSON(req, &body); err != nil {
		return err
	}
	out := &gateway.Outgoing{
		To:      body.To,
		CC:      body.CC,
		BCC:     body.BCC,
		Subject: body.Subject,
		Body:    body.Body,
		HTML:    body.HTML,
	}
	for _, a := range body.Attachments {
		out.Attachments = append(out.Attachments, gateway.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
			Size:        a.Size,
		})
	}
	receipt, err := ctx.Gateway.Send(req.Context(), ctx.SessionID, out)
	if err != nil {
		return err
	}
	return web.RenderJSON(w, &model.SendResponseV1{OK: true, MessageID: receipt.MessageID})
}

// folderVar returns the decoded folder path element.
func folderVar(ctx *web.Context) (string, error) {
	folderID, err := url.PathUnescape(ctx.Vars["folder"])
	if err != nil {
		return "", mailerr.Validation("folder %q is not properly escaped", ctx.Vars["folder"])
	}
	return folderID, nil
}

// messageVars returns the decoded folder and message id path elements.
func messageVars(ctx *web.Context) (string, uint32, error) {
	folderID, err := folderVar(ctx)
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseUint(ctx.Vars["id"], 10, 32)
	if err != nil || id == 0 {
		return "", 0, mailerr.Validation("message id %q is invalid", ctx.Vars["id"])
	}
	return folderID, uint32(id), nil
}

// parseQuery converts list request parameters into a gateway query.
func parseQuery(v url.Values) (q gateway.Query, err error) {
	q.Text = v.Get("q")
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			return q, mailerr.Validation("limit %q is not a number", s)
		}
	}
	for name, dst := range map[string]*bool{
		"starred":     &q.Starred,
		"unread":      &q.Unread,
		"attachments": &q.HasAttachments,
	} {
		if s := v.Get(name); s != "" {
			if *dst, err = strconv.ParseBool(s); err != nil {
				return q, mailerr.Validation("%s %q is not a boolean", name, s)
			}
		}
	}
	for name, dst := range map[string]*time.Time{
		"since":  &q.Since,
		"before": &q.Before,
	} {
		if s := v.Get(name); s != "" {
			if *dst, err = parseDate(s); err != nil {
				return q, mailerr.Validation("%s %q is not a date", name, s)
			}
		}
	}
	return q, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func jsonAddress(a message.Address) model.AddressV1 {
	return model.AddressV1{Name: a.Name, Address: a.Address}
}

func jsonAddresses(addrs []message.Address) []model.AddressV1 {
	result := make([]model.AddressV1, len(addrs))
	for i, a := range addrs {
		result[i] = jsonAddress(a)
	}
	return result
}

func jsonFlags(f message.Flags) model.FlagsV1 {
	return model.FlagsV1{Read: f.Read, Starred: f.Starred, Answered: f.Answered, Draft: f.Draft}
}

func jsonMessage(msg *message.Message) *model.MessageV1 {
	attachments := make([]model.AttachmentV1, len(msg.Attachments))
	for i, att := range msg.Attachments {
		attachments[i] = model.AttachmentV1{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
		}
	}
	return &model.MessageV1{
		ID:            msg.ID,
		FolderID:      msg.FolderID,
		MessageID:     msg.MessageID,
		Sender:        jsonAddress(msg.Sender),
		To:            jsonAddresses(msg.To),
		CC:            jsonAddresses(msg.CC),
		Subject:       msg.Subject,
		BodyHTML:      msg.BodyHTML,
		BodyText:      msg.BodyText,
		Timestamp:     msg.Timestamp,
		DateSynthetic: msg.DateSynthetic,
		Flags:         jsonFlags(msg.Flags),
		Attachments:   attachments,
		Size:          msg.Size,
	}
}
