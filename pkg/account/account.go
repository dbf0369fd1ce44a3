// Package account holds the mail account identity used to authenticate against the remote mail
// servers.  Identities live only in memory; they are attached to a context for the duration of
// one operation.
package account

import (
	"context"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"
)

const redacted = "********"

// Secret is an account password.  It is redacted when printed, marshaled or logged.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer, for %#v.
func (s Secret) GoString() string {
	return redacted
}

// MarshalText keeps the secret out of JSON and other text encodings.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Reveal returns the plain secret, for use by protocol clients only.
func (s Secret) Reveal() string {
	return string(s)
}

// Identity is a mail account address and secret.
type Identity struct {
	Address string
	Secret  Secret
}

// New returns an identity with the address trimmed.
func New(address, secret string) Identity {
	return Identity{Address: strings.TrimSpace(address), Secret: Secret(secret)}
}

// Valid reports whether the address is a bare addr-spec and a secret is present.  Display names
// and angle brackets are rejected, as the address is used verbatim as the login name.
func (id Identity) Valid() bool {
	if id.Secret == "" {
		return false
	}
	addr, err := mail.ParseAddress(id.Address)
	return err == nil && addr.Name == "" && addr.Address == id.Address
}

// Name returns the local part of the address, used as a display name.
func (id Identity) Name() string {
	local, _, _ := strings.Cut(id.Address, "@")
	return local
}

// Domain returns the domain part of the address, lower cased.
func (id Identity) Domain() string {
	_, domain, _ := strings.Cut(id.Address, "@")
	return strings.ToLower(domain)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler; the secret is omitted.
func (id Identity) MarshalZerologObject(e *zerolog.Event) {
	e.Str("address", id.Address)
}

type ctxKey struct{}

// NewContext returns a context carrying the identity.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity carried by ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
