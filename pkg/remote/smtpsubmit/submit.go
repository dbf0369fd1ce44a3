// Package smtpsubmit delivers outgoing mail through an authenticated SMTP submission server.
package smtpsubmit

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Submitter sends messages with a fresh SMTP connection per submission.
type Submitter struct {
	conf   config.SMTP
	dial   func(addr string, tlsConfig *tls.Config) (*smtp.Client, error)
	logger zerolog.Logger
}

var _ remote.Submitter = &Submitter{}

// New returns a Submitter for the configured server.
func New(conf config.SMTP) (*Submitter, error) {
	if _, _, err := net.SplitHostPort(conf.Addr); err != nil {
		return nil, fmt.Errorf("SMTP address %q: %v", conf.Addr, err)
	}
	dial := smtp.DialTLS
	if conf.TLS == config.TLSStartTLS {
		dial = smtp.DialStartTLS
	}
	return &Submitter{
		conf:   conf,
		dial:   dial,
		logger: log.With().Str("module", "smtp").Str("addr", conf.Addr).Logger(),
	}, nil
}

// Submit implements remote.Submitter.  The whole exchange is bounded by the configured timeout and
// by ctx.
func (s *Submitter) Submit(ctx context.Context, sub *remote.Submission) error {
	id, err := remote.Caller(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.conf.Timeout)
	defer cancel()
	logger := s.logger.With().Str("account", id.Address).Logger()

	type result struct {
		client *smtp.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := s.dial(s.conf.Addr, s.tlsConfig())
		if err == nil {
			err = s.send(client, id, sub)
		}
		done <- result{client, err}
	}()

	select {
	case r := <-done:
		if r.client != nil {
			_ = r.client.Close()
		}
		if r.err != nil {
			logger.Warn().Err(r.err).Msg("Submission failed")
			return classify(r.err)
		}
		logger.Debug().Int("recipients", len(sub.Recipients)).Msg("Submitted message")
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		logger.Warn().Msg("Submission timed out")
		return mailerr.Wrap(mailerr.ErrTimeout, ctx.Err())
	}
}

func (s *Submitter) send(client *smtp.Client, id account.Identity, sub *remote.Submission) error {
	if err := client.Hello(s.conf.LocalName); err != nil {
		return err
	}
	auth := sasl.NewPlainClient("", id.Address, id.Secret.Reveal())
	if err := client.Auth(auth); err != nil {
		return &authError{err: err}
	}
	if err := client.SendMail(sub.From, sub.Recipients, sub.Source); err != nil {
		return err
	}
	return client.Quit()
}

func (s *Submitter) tlsConfig() *tls.Config {
	host, _, _ := net.SplitHostPort(s.conf.Addr)
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: s.conf.InsecureSkipVerify,
	}
}

// authError marks a failure during the AUTH exchange.
type authError struct {
	err error
}

func (e *authError) Error() string { return "auth: " + e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

// classify maps a submission failure onto the error taxonomy.
func classify(err error) error {
	var ae *authError
	var se *smtp.SMTPError
	switch {
	case errors.As(err, &ae):
		if errors.As(err, &se) && se.Code >= 500 {
			return fmt.Errorf("%w: %s", mailerr.ErrAuthentication, se.Message)
		}
		if errors.As(err, &se) {
			return fmt.Errorf("%w: %s", mailerr.ErrTransport, se.Message)
		}
		return mailerr.Wrap(mailerr.ErrTransport, err)
	case errors.As(err, &se):
		switch {
		case se.Code == 530 || se.Code == 535:
			return fmt.Errorf("%w: %s", mailerr.ErrAuthentication, se.Message)
		case se.Code >= 500:
			// Permanent rejection of sender, recipient, or content.
			return fmt.Errorf("%w: server rejected message: %s", mailerr.ErrValidation, se.Message)
		}
		return fmt.Errorf("%w: %s", mailerr.ErrTransport, se.Message)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return mailerr.Wrap(mailerr.ErrTimeout, err)
	}
	return mailerr.Wrap(mailerr.ErrTransport, err)
}
