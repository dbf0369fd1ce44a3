// Package imapconn implements remote.Conn on an IMAP4rev1/IMAP4rev2 server using the go-imap v2
// client.
package imapconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/remote/smtpsubmit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialer connects to the configured IMAP server.
type Dialer struct {
	conf   config.IMAP
	logger zerolog.Logger
}

var _ remote.Dialer = &Dialer{}

// New returns a backend pairing IMAP retrieval with SMTP submission.
func New(conf *config.Root) (*remote.Backend, error) {
	if _, _, err := net.SplitHostPort(conf.IMAP.Addr); err != nil {
		return nil, fmt.Errorf("IMAP address %q: %v", conf.IMAP.Addr, err)
	}
	submitter, err := smtpsubmit.New(conf.SMTP)
	if err != nil {
		return nil, err
	}
	return &remote.Backend{Dialer: NewDialer(conf.IMAP), Submitter: submitter}, nil
}

// NewDialer returns a Dialer for the configured server.
func NewDialer(conf config.IMAP) *Dialer {
	return &Dialer{
		conf:   conf,
		logger: log.With().Str("module", "imap").Str("addr", conf.Addr).Logger(),
	}
}

// Dial connects, negotiates TLS and logs in, all within the connect timeout.
func (d *Dialer) Dial(ctx context.Context, id account.Identity) (remote.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.conf.ConnectTimeout)
	defer cancel()
	logger := d.logger.With().Str("account", id.Address).Logger()

	host, _, _ := net.SplitHostPort(d.conf.Addr)
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: d.conf.InsecureSkipVerify,
	}
	netDialer := &net.Dialer{Timeout: d.conf.ConnectTimeout}

	var netConn net.Conn
	var err error
	if d.conf.TLS == config.TLSImplicit {
		td := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		netConn, err = td.DialContext(ctx, "tcp", d.conf.Addr)
	} else {
		netConn, err = netDialer.DialContext(ctx, "tcp", d.conf.Addr)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to connect")
		return nil, classifyNet(err)
	}

	// Greeting, STARTTLS and LOGIN share the remaining connect budget.
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	opts := &imapclient.Options{TLSConfig: tlsConfig}
	if d.conf.Debug {
		opts.DebugWriter = &debugWriter{logger: logger}
	}
	var client *imapclient.Client
	if d.conf.TLS == config.TLSStartTLS {
		client, err = imapclient.NewStartTLS(netConn, opts)
		if err != nil {
			_ = netConn.Close()
			logger.Warn().Err(err).Msg("STARTTLS failed")
			return nil, classifyNet(err)
		}
	} else {
		client = imapclient.New(netConn, opts)
	}

	if err := client.Login(id.Address, id.Secret.Reveal()).Wait(); err != nil {
		_ = client.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			logger.Info().Str("code", string(imapErr.Code)).Msg("Login rejected")
			return nil, fmt.Errorf("%w: %s", mailerr.ErrAuthentication, imapErr.Text)
		}
		logger.Warn().Err(err).Msg("Login failed")
		return nil, classifyNet(err)
	}
	_ = netConn.SetDeadline(time.Time{})

	logger.Debug().Msg("Logged in")
	return &conn{
		client:  client,
		netConn: netConn,
		grace:   d.conf.OpTimeout,
		logger:  logger,
	}, nil
}

// classifyNet maps a transport level failure onto the error taxonomy.
func classifyNet(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return mailerr.Wrap(mailerr.ErrTimeout, err)
	}
	return mailerr.Wrap(mailerr.ErrTransport, err)
}

// debugWriter logs IMAP protocol traffic at trace level, redacting credentials.  From a LOGIN or
// AUTHENTICATE command until its tagged completion, client lines and literals are replaced; server
// continuation requests and untagged responses are still logged.
type debugWriter struct {
	logger zerolog.Logger

	mu      sync.Mutex
	line    []byte // Partial line.
	authTag string // Tag of the pending LOGIN or AUTHENTICATE command.
	literal int    // Literal bytes still to drop.
	sync    int    // Synchronizing literal awaiting the server's continuation request.
}

func (w *debugWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	for len(p) > 0 {
		if w.literal > 0 {
			skip := min(w.literal, len(p))
			w.literal -= skip
			p = p[skip:]
			continue
		}
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.line = append(w.line, p...)
			break
		}
		w.line = append(w.line, p[:i]...)
		p = p[i+1:]
		w.flush()
	}
	return n, nil
}

// flush logs the buffered line.
func (w *debugWriter) flush() {
	line := strings.TrimRight(string(w.line), "\r")
	w.line = w.line[:0]
	fields := strings.Fields(line)
	switch {
	case w.authTag == "":
		if len(fields) >= 2 &&
			(strings.EqualFold(fields[1], "LOGIN") || strings.EqualFold(fields[1], "AUTHENTICATE")) {
			w.authTag = fields[0]
			w.expectLiteral(line)
			line = fields[0] + " " + strings.ToUpper(fields[1]) + " [redacted]"
		}
	case len(fields) > 0 && fields[0] == w.authTag:
		w.authTag = ""
		w.sync = 0
	case line == "+" || strings.HasPrefix(line, "+ "):
		w.literal, w.sync = w.sync, 0
	case strings.HasPrefix(line, "* ") && w.sync == 0:
	default:
		w.expectLiteral(line)
		line = "[redacted]"
	}
	w.logger.Trace().Str("data", line).Msg("IMAP traffic")
}

// expectLiteral arranges to drop the literal announced at the end of line, if any.  A
// synchronizing literal follows the server's continuation request; {N+} and {N-} follow at once.
func (w *debugWriter) expectLiteral(line string) {
	if !strings.HasSuffix(line, "}") {
		return
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return
	}
	size := line[open+1 : len(line)-1]
	nonSync := strings.HasSuffix(size, "+") || strings.HasSuffix(size, "-")
	if nonSync {
		size = size[:len(size)-1]
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < 0 {
		return
	}
	if nonSync {
		w.literal = n
	} else {
		w.sync = n
	}
}
