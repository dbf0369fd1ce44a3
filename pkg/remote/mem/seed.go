package mem

import (
	"fmt"
	"strings"
	"time"

	"github.com/inbucket/mailgate/pkg/remote"
)

// seedMessages populate demo accounts.
var seedMessages = []struct {
	mailbox string
	age     time.Duration
	flags   []remote.Flag
	from    string
	subject string
	body    string
}{
	{
		mailbox: "INBOX",
		age:     10 * time.Minute,
		from:    "Mailgate <welcome@mailgate.invalid>",
		subject: "Welcome to mailgate",
		body:    "This account is served by the in-memory demo backend.\nMessages live until the server restarts.",
	},
	{
		mailbox: "INBOX",
		age:     26 * time.Hour,
		flags:   []remote.Flag{remote.FlagSeen, remote.FlagFlagged},
		from:    "Team Lead <lead@example.com>",
		subject: "Project update",
		body:    "The release checklist is at https://example.com/release and needs review by Friday.",
	},
	{
		mailbox: "INBOX",
		age:     72 * time.Hour,
		flags:   []remote.Flag{remote.FlagSeen},
		from:    "Newsletter <news@example.com>",
		subject: "Weekly digest",
		body:    "Top stories this week.",
	},
	{
		mailbox: "Junk",
		age:     48 * time.Hour,
		from:    "Prize Desk <win@spam.invalid>",
		subject: "You have won",
		body:    "Claim now.",
	},
}

// seed delivers the sample messages into a new demo account.
func seed(a *Account, now time.Time) {
	for i, sm := range seedMessages {
		date := now.Add(-sm.age)
		source := strings.Join([]string{
			"From: " + sm.from,
			"To: " + a.address,
			"Subject: " + sm.subject,
			"Date: " + date.Format(time.RFC1123Z),
			fmt.Sprintf("Message-ID: <seed-%d@mailgate.invalid>", i),
			"Content-Type: text/plain; charset=utf-8",
			"",
			sm.body,
			"",
		}, "\r\n")
		_, _ = a.Deliver(sm.mailbox, []byte(source), date, sm.flags...)
	}
}
