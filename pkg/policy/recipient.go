package policy

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Recipient is a validated destination address.
type Recipient struct {
	mail.Address
	// LocalPart is the part of the address before @, including +extension.
	LocalPart string
	// Domain is the part of the address after @.
	Domain string
}

// ParseRecipient parses a single address, with optional display name.  The address must have a
// domain.
func ParseRecipient(address string) (*Recipient, error) {
	ma, err := mail.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %v", address, err)
	}
	local, domain, err := ParseEmailAddress(ma.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %v", address, err)
	}
	return &Recipient{Address: *ma, LocalPart: local, Domain: strings.ToLower(domain)}, nil
}

// ParseRecipients parses a list of address entries, each of which may itself hold a comma
// separated list.  Duplicate addresses are dropped.
func ParseRecipients(entries []string) ([]*Recipient, error) {
	var result []*Recipient
	seen := make(map[string]bool)
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			return nil, errors.New("empty address")
		}
		list, err := mail.ParseAddressList(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %v", entry, err)
		}
		for _, ma := range list {
			r, err := ParseRecipient(ma.String())
			if err != nil {
				return nil, err
			}
			key := strings.ToLower(r.Address.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			result = append(result, r)
		}
	}
	return result, nil
}
