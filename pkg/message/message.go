// Package message converts raw RFC 5322 messages into the normalized form served to clients.  All
// functions are pure: they perform no I/O and depend only on their arguments.
package message

import (
	"time"
)

// Fallback values for missing headers.
const (
	UnknownSender = "Unknown Sender"
	NoSubject     = "No Subject"
)

// Address is a parsed mailbox address.
type Address struct {
	Name    string
	Address string
}

// String formats the address for display.
func (a Address) String() string {
	switch {
	case a.Name == "":
		return a.Address
	case a.Address == "":
		return a.Name
	}
	return a.Name + " <" + a.Address + ">"
}

// Flags holds the client visible message flags.
type Flags struct {
	Read     bool
	Starred  bool
	Answered bool
	Draft    bool
}

// Attachment describes an attached file.  Content is not retained.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
}

// Message is a fully parsed message.  ID, FolderID and Flags are identity fields assigned by the
// caller from the mailbox the message was fetched from.
type Message struct {
	ID            uint32
	FolderID      string
	MessageID     string
	Sender        Address
	To            []Address
	CC            []Address
	Subject       string
	BodyHTML      string // Sanitized.
	BodyText      string
	Timestamp     time.Time
	DateSynthetic bool // Timestamp is the fetch time, the Date header was missing or invalid.
	Flags         Flags
	Attachments   []Attachment
	Size          int64
}

// Summary is the list view of a message.
type Summary struct {
	ID             uint32
	FolderID       string
	Sender         Address
	To             []Address
	Subject        string
	Snippet        string
	Timestamp      time.Time
	DateSynthetic  bool
	Flags          Flags
	HasAttachments bool
	Size           int64
}
