package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/inbucket/mailgate/pkg/folder"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/policy"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/sanitize"
	"github.com/inbucket/mailgate/pkg/session"
	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog/log"
)

const defaultContentType = "application/octet-stream"

// Attachment is an outbound file, base64 encoded.
type Attachment struct {
	Filename    string
	ContentType string
	Content     string // Base64.
	Size        int    // Declared decoded length.
}

// Outgoing is a message to be composed and sent.
type Outgoing struct {
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	HTML        bool // Body is HTML rather than plain text.
	Attachments []Attachment
}

// Receipt describes a sent message.
type Receipt struct {
	MessageID string
	SentID    uint32 // UID in the Sent folder; zero if unknown or not archived.
	// ArchiveErr wraps mailerr.ErrArchival if the message was sent but not saved to Sent.
	ArchiveErr error
}

type decoded struct {
	filename    string
	contentType string
	content     []byte
}

// Send validates, composes and submits a message, then saves a copy to the Sent folder.  The send
// succeeds once the message is submitted; archival failures are reported only in the Receipt.
func (g *Gateway) Send(ctx context.Context, sid string, out *Outgoing) (*Receipt, error) {
	to, cc, bcc, err := validate(out)
	if err != nil {
		return nil, err
	}
	files, err := decodeAttachments(out.Attachments)
	if err != nil {
		return nil, err
	}
	s, err := g.sessions.Get(sid)
	if err != nil {
		return nil, err
	}
	id := s.Identity
	logger := log.With().Str("module", "gateway").Str("phase", "send").
		Str("account", id.Address).Logger()

	now := g.now()
	msgID := fmt.Sprintf("%s@%s", uuid.NewString(), id.Domain())
	outbound := event.OutboundMessage{
		Account:     id.Address,
		From:        mail.Address{Name: id.Name(), Address: id.Address},
		To:          to,
		CC:          cc,
		BCC:         bcc,
		Subject:     out.Subject,
		MessageID:   msgID,
		Size:        int64(len(out.Body)),
		Attachments: len(files),
	}
	for _, f := range files {
		outbound.Size += int64(len(f.content))
	}
	if resp := g.extHost.Events.BeforeMessageSent.Emit(&outbound); resp != nil &&
		resp.Action == event.ActionDeny {
		logger.Info().Str("reason", resp.Reason).Msg("Send denied by policy")
		reason := resp.Reason
		if reason == "" {
			reason = "denied by policy"
		}
		return nil, mailerr.Validation("%s", reason)
	}

	b := enmime.Builder().
		From(outbound.From.Name, outbound.From.Address).
		ToAddrs(to).
		Subject(out.Subject).
		Date(now).
		Header("Message-ID", "<"+msgID+">")
	if len(cc) > 0 {
		b = b.CCAddrs(cc)
	}
	if len(bcc) > 0 {
		b = b.BCCAddrs(bcc)
	}
	if out.HTML {
		b = b.HTML([]byte(out.Body)).Text([]byte(sanitize.Text(out.Body)))
	} else {
		b = b.Text([]byte(out.Body))
	}
	for _, f := range files {
		b = b.AddAttachment(f.content, f.contentType, f.filename)
	}
	root, err := b.Build()
	if err != nil {
		return nil, mailerr.Validation("compose: %v", err)
	}
	buf := new(bytes.Buffer)
	if err := root.Encode(buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	source := buf.Bytes()
	outbound.Size = int64(len(source))

	// Submission does not use the retrieval connection, so it runs outside the session slot.
	sub := &remote.Submission{From: id.Address, Recipients: envelopeRecipients(to, cc, bcc)}
	sub.Source = bytes.NewReader(source)
	if err := g.submitter.Submit(account.NewContext(ctx, id), sub); err != nil {
		logger.Warn().Str("kind", mailerr.Kind(err)).Err(err).Msg("Submission failed")
		return nil, err
	}
	expSentTotal.Add(1)
	logger.Info().Str("messageId", msgID).Int("recipients", len(sub.Recipients)).
		Int("size", len(source)).Msg("Message sent")

	receipt := &Receipt{MessageID: msgID}
	receipt.SentID, receipt.ArchiveErr = g.archiveSent(ctx, sid, source, &outbound)
	g.extHost.Events.AfterMessageSent.Emit(&outbound)
	return receipt, nil
}

// archiveSent appends a sent message to the Sent folder.  Failures are logged and returned wrapped
// in ErrArchival.
func (g *Gateway) archiveSent(
	ctx context.Context, sid string, source []byte, outbound *event.OutboundMessage,
) (uint32, error) {
	var uid uint32
	err := g.sessions.WithSession(ctx, sid, func(ctx context.Context, h *session.Handle) error {
		target, err := g.resolve(ctx, h, folder.Sent)
		if err != nil {
			return err
		}
		uid, err = h.Conn.Append(ctx, target.Native, []remote.Flag{remote.FlagSeen}, g.now(), source)
		return err
	})
	if err == nil {
		return uid, nil
	}

	expArchiveFailedTotal.Add(1)
	log.Warn().Str("module", "gateway").Str("phase", "archive").Str("account", outbound.Account).
		Str("messageId", outbound.MessageID).Err(err).Msg("Sent message not saved to Sent folder")
	g.extHost.Events.AfterArchiveFailed.Emit(&event.ArchiveFailure{
		Message: *outbound,
		Folder:  folder.Sent,
		Error:   err.Error(),
	})
	return 0, mailerr.Wrap(mailerr.ErrArchival, err)
}

// validate checks the compose request without contacting any server.
func validate(out *Outgoing) (to, cc, bcc []mail.Address, err error) {
	if out == nil {
		return nil, nil, nil, mailerr.Validation("message is required")
	}
	if to, err = recipients("to", out.To); err != nil {
		return nil, nil, nil, err
	}
	if len(to) == 0 {
		return nil, nil, nil, mailerr.Validation("at least one recipient is required")
	}
	if cc, err = recipients("cc", out.CC); err != nil {
		return nil, nil, nil, err
	}
	if bcc, err = recipients("bcc", out.BCC); err != nil {
		return nil, nil, nil, err
	}
	if strings.TrimSpace(out.Subject) == "" {
		return nil, nil, nil, mailerr.Validation("subject is required")
	}
	if strings.ContainsAny(out.Subject, "\r\n") {
		return nil, nil, nil, mailerr.Validation("subject must be a single line")
	}
	return to, cc, bcc, nil
}

func recipients(field string, entries []string) ([]mail.Address, error) {
	parsed, err := policy.ParseRecipients(entries)
	if err != nil {
		return nil, mailerr.Validation("%s: %v", field, err)
	}
	result := make([]mail.Address, len(parsed))
	for i, r := range parsed {
		result[i] = r.Address
	}
	return result, nil
}

// decodeAttachments decodes every attachment, failing the whole batch on the first bad one.
func decodeAttachments(atts []Attachment) ([]decoded, error) {
	result := make([]decoded, 0, len(atts))
	for i, a := range atts {
		name := strings.TrimSpace(a.Filename)
		if name == "" {
			return nil, mailerr.Validation("attachment %d: filename is required", i+1)
		}
		// Tolerate line wrapped base64.
		data := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, a.Content)
		content, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", mailerr.ErrAttachmentCorrupt, name, err)
		}
		if len(content) != a.Size {
			return nil, fmt.Errorf("%w: %q: decoded %d bytes, declared %d",
				mailerr.ErrAttachmentCorrupt, name, len(content), a.Size)
		}
		ctype := strings.TrimSpace(a.ContentType)
		if ctype == "" {
			ctype = defaultContentType
		}
		result = append(result, decoded{filename: name, contentType: ctype, content: content})
	}
	return result, nil
}

// envelopeRecipients returns the SMTP RCPT TO addresses, without duplicates.
func envelopeRecipients(lists ...[]mail.Address) []string {
	var result []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, a := range list {
			k := strings.ToLower(a.Address)
			if !seen[k] {
				seen[k] = true
				result = append(result, a.Address)
			}
		}
	}
	return result
}
