// Package policy validates the addresses of outgoing mail.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// unquotedSpecials may appear in a local part without quoting.
const unquotedSpecials = "!#$%&'*+-/=?^_`{|}~"

// ParseEmailAddress unescapes an email address, and splits the local part from the domain part.
// An error is returned if the local or domain parts fail validation following the guidelines
// in RFC3696.
func ParseEmailAddress(address string) (local string, domain string, err error) {
	local, domain, err = parseEmailAddress(address)
	if err != nil {
		return "", "", err
	}
	if !ValidateDomainPart(domain) {
		return "", "", fmt.Errorf("domain part %q failed validation", domain)
	}
	return local, domain, nil
}

// ValidateDomainPart returns true if the domain part complies to RFC3696, RFC1035.
func ValidateDomainPart(domain string) bool {
	if len(domain) == 0 || len(domain) > 255 {
		return false
	}
	if domain[len(domain)-1] != '.' {
		domain += "."
	}
	prev := '.'
	labelLen := 0
	hasAlphaNum := false
	for _, c := range domain {
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') ||
			('0' <= c && c <= '9') || c == '_':
			// Must contain some of these to be a valid label.
			hasAlphaNum = true
			labelLen++
		case c == '-':
			if prev == '.' {
				// Cannot lead with hyphen.
				return false
			}
		case c == '.':
			if prev == '.' || prev == '-' {
				// Cannot end with hyphen or double-dot.
				return false
			}
			if labelLen > 63 || !hasAlphaNum {
				return false
			}
			labelLen = 0
			hasAlphaNum = false
		default:
			return false
		}
		prev = c
	}
	return true
}

// parseEmailAddress unescapes an email address, and splits the local part from the domain part.
// An error is returned if the local part fails validation following the guidelines in RFC3696.
// The domain part is not validated.
func parseEmailAddress(address string) (local string, domain string, err error) {
	switch {
	case address == "":
		return "", "", errors.New("empty address")
	case len(address) > 320:
		return "", "", errors.New("address exceeds 320 characters")
	case address[0] == '@':
		return "", "", errors.New("address cannot start with @ symbol")
	case address[0] == '.':
		return "", "", errors.New("address cannot start with a period")
	}

	buf := new(bytes.Buffer)
	prev := byte('.')
	inCharQuote := false
	inStringQuote := false
LOOP:
	for i := 0; i < len(address); i++ {
		c := address[i]
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
			strings.IndexByte(unquotedSpecials, c) >= 0:
			buf.WriteByte(c)
			inCharQuote = false
		case c == '.':
			if prev == '.' {
				return "", "", errors.New("sequence of periods is not permitted")
			}
			buf.WriteByte(c)
			inCharQuote = false
		case c == '\\':
			inCharQuote = true
		case c == '"':
			switch {
			case inCharQuote:
				buf.WriteByte(c)
				inCharQuote = false
			case inStringQuote:
				inStringQuote = false
			case i == 0:
				inStringQuote = true
			default:
				return "", "", errors.New("quoted string can only begin at start of address")
			}
		case c == '@' && !inCharQuote && !inStringQuote:
			if i > 128 {
				return "", "", errors.New("local part must not exceed 128 characters")
			}
			if prev == '.' {
				return "", "", errors.New("local part cannot end with a period")
			}
			domain = address[i+1:]
			break LOOP
		case c > 127:
			return "", "", errors.New("characters outside of US-ASCII range not permitted")
		default:
			if !inCharQuote && !inStringQuote {
				return "", "", fmt.Errorf("character %q must be quoted", c)
			}
			buf.WriteByte(c)
			inCharQuote = false
		}
		prev = c
	}
	if inCharQuote {
		return "", "", errors.New("cannot end address with unterminated quoted-pair")
	}
	if inStringQuote {
		return "", "", errors.New("cannot end address with unterminated string quote")
	}
	return buf.String(), domain, nil
}
