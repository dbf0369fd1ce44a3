// Package event defines the payloads delivered to extension listeners.
package event

import (
	"net/mail"
	"time"
)

// Policy actions returned by before-event listeners.
const (
	ActionDefault = iota // Continue with the default behavior.
	ActionAllow
	ActionDeny
)

// Session describes a gateway session opening or closing.
type Session struct {
	ID      string
	Account string
	Reason  string // Why a session closed: logout, expired, or connection lost.
	At      time.Time
}

// OutboundMessage contains the envelope and header data of a message being sent.
type OutboundMessage struct {
	Account     string
	From        mail.Address
	To          []mail.Address
	CC          []mail.Address
	BCC         []mail.Address
	Subject     string
	MessageID   string
	Size        int64
	Attachments int
}

// PolicyResponse is the verdict of a before-event listener.
type PolicyResponse struct {
	Action int
	Reason string // Explains a denial to the user.
}

// ArchiveFailure reports a sent message that could not be saved to the Sent folder.
type ArchiveFailure struct {
	Message OutboundMessage
	Folder  string
	Error   string
}

// MessageMoved reports a message relocated between folders.
type MessageMoved struct {
	Account    string
	FromFolder string
	FromID     uint32
	ToFolder   string
	ToID       uint32
}
