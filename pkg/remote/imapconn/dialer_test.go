package imapconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDebugWriterRedactsCredentials(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tcs := []struct {
		name    string
		writes  []string
		secrets []string
		want    []string // Lines logged in clear.
	}{
		{
			name: "quoted",
			writes: []string{
				"a1 LOGIN alice@example.com \"hunter2\"\r\n",
				"a1 OK LOGIN completed\r\n",
				"a2 SELECT INBOX\r\n",
			},
			secrets: []string{"hunter2"},
			want:    []string{"a1 LOGIN [redacted]", "a1 OK LOGIN completed", "a2 SELECT INBOX"},
		},
		{
			name: "synchronizing literal",
			writes: []string{
				"a1 LOGIN alice@example.com {9}\r\n",
				"+ Ready for literal data\r\n",
				"pässword\r\n",
				"a1 OK LOGIN completed\r\n",
				"a2 NOOP\r\n",
			},
			secrets: []string{"pässword", "ssword"},
			want:    []string{"+ Ready for literal data", "a1 OK LOGIN completed", "a2 NOOP"},
		},
		{
			name: "non-synchronizing literal in one write",
			writes: []string{
				"a1 LOGIN alice@example.com {9+}\r\npässword\r\n",
				"a1 OK LOGIN completed\r\n",
				"a2 NOOP\r\n",
			},
			secrets: []string{"pässword", "ssword"},
			want:    []string{"a1 LOGIN [redacted]", "a2 NOOP"},
		},
		{
			name: "literal split across writes",
			writes: []string{
				"a1 LOGIN alice@example.com {9+}\r\npä",
				"ssword\r\n",
				"a1 OK LOGIN completed\r\n",
			},
			secrets: []string{"ssword"},
			want:    []string{"a1 OK LOGIN completed"},
		},
		{
			name: "username and password literals",
			writes: []string{
				"a1 LOGIN {17}\r\n",
				"+ go\r\n",
				"alice@example.com {7}\r\n",
				"+ go\r\n",
				"sécret\r\n",
				"a1 NO [AUTHENTICATIONFAILED] Invalid credentials\r\n",
				"a2 LOGOUT\r\n",
			},
			secrets: []string{"sécret", "cret"},
			want:    []string{"a1 NO [AUTHENTICATIONFAILED] Invalid credentials", "a2 LOGOUT"},
		},
		{
			name: "authenticate continuation",
			writes: []string{
				"a1 AUTHENTICATE PLAIN\r\n",
				"+ \r\n",
				"AGFsaWNlAGh1bnRlcjI=\r\n",
				"* CAPABILITY IMAP4rev1\r\n",
				"a1 OK Success\r\n",
			},
			secrets: []string{"AGFsaWNlAGh1bnRlcjI="},
			want:    []string{"a1 AUTHENTICATE [redacted]", "* CAPABILITY IMAP4rev1", "a1 OK Success"},
		},
		{
			name: "authenticate initial response",
			writes: []string{
				"a1 authenticate PLAIN AGFsaWNlAGh1bnRlcjI=\r\n",
				"a1 OK Success\r\n",
			},
			secrets: []string{"AGFsaWNlAGh1bnRlcjI="},
			want:    []string{"a1 AUTHENTICATE [redacted]"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			w := &debugWriter{logger: zerolog.New(buf).Level(zerolog.TraceLevel)}
			for _, s := range tc.writes {
				n, err := io.WriteString(w, s)
				assert.NoError(t, err)
				assert.Equal(t, len(s), n)
			}
			got := buf.String()
			for _, secret := range tc.secrets {
				assert.NotContains(t, got, secret)
			}
			for _, line := range tc.want {
				assert.Contains(t, got, `"data":"`+strings.ReplaceAll(line, `"`, `\"`)+`"`)
			}
		})
	}
}

func TestDebugWriterPassesOtherTraffic(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	buf := &bytes.Buffer{}
	w := &debugWriter{logger: zerolog.New(buf).Level(zerolog.TraceLevel)}
	_, _ = io.WriteString(w, "a3 UID FETCH 4 (BODY.PEEK[])\r\n* 1 FETCH (UID 4 BODY[] {5}\r\n")
	_, _ = io.WriteString(w, "hello)\r\na3 OK Fetch completed\r\n")

	got := buf.String()
	assert.Contains(t, got, "a3 UID FETCH 4")
	assert.Contains(t, got, "hello)")
	assert.NotContains(t, got, "[redacted]")
}

func TestClassifyNet(t *testing.T) {
	tcs := []struct {
		err  error
		want error
	}{
		{context.DeadlineExceeded, mailerr.ErrTimeout},
		{os.ErrDeadlineExceeded, mailerr.ErrTimeout},
		{io.EOF, mailerr.ErrTransport},
		{errors.New("connection reset by peer"), mailerr.ErrTransport},
	}
	for _, tc := range tcs {
		t.Run(tc.err.Error(), func(t *testing.T) {
			err := classifyNet(tc.err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
