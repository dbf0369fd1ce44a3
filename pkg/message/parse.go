package message

import (
	"bytes"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/sanitize"
	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog/log"
)

// Parse converts a raw message into a Message.  fetchedAt substitutes for a missing or invalid
// Date header.
func Parse(raw []byte, fetchedAt time.Time) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	m := &Message{
		MessageID: strings.Trim(env.GetHeader("Message-ID"), "<> "),
		Sender:    sender(env),
		To:        addressList(env, "To"),
		CC:        addressList(env, "Cc"),
		Subject:   subject(env),
		BodyText:  env.Text,
		Size:      int64(len(raw)),
	}
	m.Timestamp, m.DateSynthetic = date(env, fetchedAt)

	body := env.HTML
	if strings.TrimSpace(body) == "" {
		body = sanitize.TextToHTML(env.Text)
	}
	if m.BodyHTML, err = sanitize.HTML(body); err != nil {
		log.Warn().Str("module", "message").Str("messageId", m.MessageID).Err(err).
			Msg("HTML sanitizer failed")
		m.BodyHTML = sanitize.TextToHTML(env.Text)
	}

	for _, p := range env.Attachments {
		m.Attachments = append(m.Attachments, Attachment{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			Size:        len(p.Content),
		})
	}
	return m, nil
}

// ParseSummary builds a Summary from the header section and a leading fragment of the body.
// snippetLen bounds the snippet in characters.
func ParseSummary(header, textPrefix []byte, snippetLen int, fetchedAt time.Time) *Summary {
	s := &Summary{}
	raw := make([]byte, 0, len(header)+len(textPrefix))
	raw = append(raw, header...)
	raw = append(raw, textPrefix...)
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		// Truncated multipart bodies can defeat the parser; headers alone still identify the message.
		env, err = enmime.ReadEnvelope(bytes.NewReader(header))
	}
	if err != nil {
		s.Sender = Address{Name: UnknownSender}
		s.Subject = NoSubject
		s.Timestamp, s.DateSynthetic = fetchedAt, true
		return s
	}
	s.Sender = sender(env)
	s.To = addressList(env, "To")
	s.Subject = subject(env)
	s.Timestamp, s.DateSynthetic = date(env, fetchedAt)
	text := env.Text
	if env.HTML != "" && !hasPlainText(env) {
		text = sanitize.Text(env.HTML)
	}
	s.Snippet = sanitize.Snippet(text, snippetLen)
	return s
}

// FlagsFrom maps server flags onto client flags.
func FlagsFrom(flags []remote.Flag) Flags {
	return Flags{
		Read:     remote.HasFlag(flags, remote.FlagSeen),
		Starred:  remote.HasFlag(flags, remote.FlagFlagged),
		Answered: remote.HasFlag(flags, remote.FlagAnswered),
		Draft:    remote.HasFlag(flags, remote.FlagDraft),
	}
}

// SortNewestFirst orders summaries by timestamp, newest first.  Summaries with synthetic dates
// follow those with real dates, and ties are broken by descending ID.
func SortNewestFirst(summaries []*Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.DateSynthetic != b.DateSynthetic {
			return !a.DateSynthetic
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	})
}

// hasPlainText reports whether the message has its own text/plain body, rather than one derived
// from the HTML part.
func hasPlainText(env *enmime.Envelope) bool {
	if env.Root == nil {
		return false
	}
	return env.Root.BreadthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "text/plain" && p.Disposition != "attachment"
	}) != nil
}

func sender(env *enmime.Envelope) Address {
	if from := addressList(env, "From"); len(from) > 0 {
		return from[0]
	}
	if raw := strings.TrimSpace(env.GetHeader("From")); raw != "" {
		// Unparseable, but better than nothing.
		return Address{Name: raw}
	}
	return Address{Name: UnknownSender}
}

func subject(env *enmime.Envelope) string {
	if s := strings.TrimSpace(env.GetHeader("Subject")); s != "" {
		return s
	}
	return NoSubject
}

func date(env *enmime.Envelope, fetchedAt time.Time) (time.Time, bool) {
	if t, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		return t, false
	}
	return fetchedAt, true
}

func addressList(env *enmime.Envelope, key string) []Address {
	list, err := env.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	result := make([]Address, 0, len(list))
	for _, a := range list {
		if a != nil {
			result = append(result, Address{Name: a.Name, Address: a.Address})
		}
	}
	return result
}
