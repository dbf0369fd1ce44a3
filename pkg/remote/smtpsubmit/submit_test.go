package smtpsubmit

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddr   = "alice@example.com"
	testSecret = "hunter2"
)

// delivery is a message accepted by the test server.
type delivery struct {
	from string
	to   []string
	data string
}

// backend accepts mail from one account, rejecting recipients in the example.net domain.
type backend struct {
	mu        sync.Mutex
	delivered []delivery
}

func (b *backend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

func (b *backend) deliveries() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.delivered...)
}

type session struct {
	backend *backend
	authed  bool
	from    string
	to      []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != testAddr || password != testSecret {
			return smtp.ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if strings.HasSuffix(to, "@example.net") {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user"}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.delivered = append(s.backend.delivered, delivery{from: s.from, to: s.to, data: string(b)})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func tlsListener(t *testing.T) net.Listener {
	t.Helper()
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.StartTLS()
	cert := ts.TLS.Certificates[0]
	ts.Close()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	return ln
}

// startServer runs an SMTP submission server over implicit TLS.
func startServer(t *testing.T) (*backend, string) {
	t.Helper()
	be := &backend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	ln := tlsListener(t)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return be, ln.Addr().String()
}

func newSubmitter(t *testing.T, addr string, timeout time.Duration) *Submitter {
	t.Helper()
	s, err := New(config.SMTP{
		Addr:               addr,
		TLS:                config.TLSImplicit,
		InsecureSkipVerify: true,
		Timeout:            timeout,
		LocalName:          "mailgate.test",
	})
	require.NoError(t, err)
	return s
}

func submission(rcpts ...string) *remote.Submission {
	return &remote.Submission{
		From:       testAddr,
		Recipients: rcpts,
		Source:     strings.NewReader("Subject: Hello\r\n\r\nHi there.\r\n"),
	}
}

func withAccount(secret string) context.Context {
	return account.NewContext(context.Background(), account.New(testAddr, secret))
}

func TestNewRejectsBadAddress(t *testing.T) {
	_, err := New(config.SMTP{Addr: "no-port"})
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	be, addr := startServer(t)
	s := newSubmitter(t, addr, 5*time.Second)

	err := s.Submit(withAccount(testSecret), submission("bob@example.org", "carol@example.org"))
	require.NoError(t, err)

	got := be.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, testAddr, got[0].from)
	assert.Equal(t, []string{"bob@example.org", "carol@example.org"}, got[0].to)
	assert.Contains(t, got[0].data, "Hi there.")
}

func TestSubmitFailures(t *testing.T) {
	be, addr := startServer(t)
	s := newSubmitter(t, addr, 5*time.Second)

	t.Run("no account", func(t *testing.T) {
		err := s.Submit(context.Background(), submission("bob@example.org"))
		assert.ErrorIs(t, err, mailerr.ErrAuthentication)
	})
	t.Run("bad secret", func(t *testing.T) {
		err := s.Submit(withAccount("guess"), submission("bob@example.org"))
		assert.ErrorIs(t, err, mailerr.ErrAuthentication)
	})
	t.Run("rejected recipient", func(t *testing.T) {
		err := s.Submit(withAccount(testSecret), submission("nobody@example.net"))
		assert.ErrorIs(t, err, mailerr.ErrValidation)
	})
	assert.Empty(t, be.deliveries())
}

func TestSubmitUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = newSubmitter(t, addr, 5*time.Second).Submit(withAccount(testSecret), submission("bob@example.org"))
	assert.ErrorIs(t, err, mailerr.ErrTransport)
}

func TestSubmitTimeout(t *testing.T) {
	// The server accepts connections but never completes the TLS handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()

	s := newSubmitter(t, ln.Addr().String(), 100*time.Millisecond)
	start := time.Now()
	err = s.Submit(withAccount(testSecret), submission("bob@example.org"))
	assert.ErrorIs(t, err, mailerr.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	_ = (<-accepted).Close()
}

func TestClassify(t *testing.T) {
	smtpErr := func(code int, msg string) *smtp.SMTPError {
		return &smtp.SMTPError{Code: code, EnhancedCode: smtp.NoEnhancedCode, Message: msg}
	}
	tcs := []struct {
		name string
		err  error
		want error
	}{
		{"auth rejected", &authError{err: smtpErr(535, "bad credentials")}, mailerr.ErrAuthentication},
		{"auth unavailable", &authError{err: smtpErr(454, "try later")}, mailerr.ErrTransport},
		{"auth io", &authError{err: io.ErrUnexpectedEOF}, mailerr.ErrTransport},
		{"auth required", smtpErr(530, "authenticate first"), mailerr.ErrAuthentication},
		{"recipient rejected", smtpErr(550, "no such user"), mailerr.ErrValidation},
		{"message too big", smtpErr(552, "too big"), mailerr.ErrValidation},
		{"greylisted", smtpErr(451, "try again"), mailerr.ErrTransport},
		{"reset", errors.New("connection reset"), mailerr.ErrTransport},
		{"deadline", fmt.Errorf("write: %w", errDeadline{}), mailerr.ErrTimeout},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tc.err), tc.want)
		})
	}
}

// errDeadline is a net.Error reporting a timeout.
type errDeadline struct{}

func (errDeadline) Error() string   { return "i/o timeout" }
func (errDeadline) Timeout() bool   { return true }
func (errDeadline) Temporary() bool { return true }
