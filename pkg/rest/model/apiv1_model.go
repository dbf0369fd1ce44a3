// Package model defines the JSON documents exchanged by the REST API.
package model

import (
	"time"
)

// ConnectRequestV1 opens a session.
type ConnectRequestV1 struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ConnectResponseV1 identifies a new session.
type ConnectResponseV1 struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// ErrorResponseV1 is the body of a failed request.  Kind is a stable error category, such as
// not_connected or validation.
type ErrorResponseV1 struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// OKResponseV1 acknowledges a request with no other result.
type OKResponseV1 struct {
	OK bool `json:"ok"`
}

// FolderV1 is a client facing folder.
type FolderV1 struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Native  string `json:"native"`
	Special bool   `json:"special"`
}

// AddressV1 is a display name and email address pair.
type AddressV1 struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// FlagsV1 contains the message flags
type FlagsV1 struct {
	Read     bool `json:"read"`
	Starred  bool `json:"starred"`
	Answered bool `json:"answered"`
	Draft    bool `json:"draft"`
}

// MessageSummaryV1 contains the list view of a message.
type MessageSummaryV1 struct {
	ID             uint32      `json:"id"`
	FolderID       string      `json:"folderId"`
	Sender         AddressV1   `json:"sender"`
	To             []AddressV1 `json:"to"`
	Subject        string      `json:"subject"`
	Snippet        string      `json:"snippet"`
	Timestamp      time.Time   `json:"timestamp"`
	DateSynthetic  bool        `json:"dateSynthetic"`
	Flags          FlagsV1     `json:"flags"`
	HasAttachments bool        `json:"hasAttachments"`
	Size           int64       `json:"size"`
}

// AttachmentV1 describes an attached file
type AttachmentV1 struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// MessageV1 contains the summary data plus bodies and attachments.
type MessageV1 struct {
	ID            uint32         `json:"id"`
	FolderID      string         `json:"folderId"`
	MessageID     string         `json:"messageId"`
	Sender        AddressV1      `json:"sender"`
	To            []AddressV1    `json:"to"`
	CC            []AddressV1    `json:"cc"`
	Subject       string         `json:"subject"`
	BodyHTML      string         `json:"bodyHtml"`
	BodyText      string         `json:"bodyText"`
	Timestamp     time.Time      `json:"timestamp"`
	DateSynthetic bool           `json:"dateSynthetic"`
	Flags         FlagsV1        `json:"flags"`
	Attachments   []AttachmentV1 `json:"attachments"`
	Size          int64          `json:"size"`
}

// FlagChangeV1 sets message flags; absent fields are left unchanged.
type FlagChangeV1 struct {
	Read    *bool `json:"read,omitempty"`
	Starred *bool `json:"starred,omitempty"`
}

// MoveRequestV1 names the destination folder of a move.
type MoveRequestV1 struct {
	To string `json:"to"`
}

// LocationV1 identifies a message after it has been moved.
type LocationV1 struct {
	ID     uint32 `json:"id"`
	Folder string `json:"folder"`
}

// DeletedV1 reports a permanent deletion.
type DeletedV1 struct {
	Deleted bool `json:"deleted"`
}

// OutgoingAttachmentV1 is a file attached to an outgoing message.  Content is base64 encoded, Size
// is the decoded length.
type OutgoingAttachmentV1 struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Size        int    `json:"size"`
}

// SendRequestV1 composes a new message.
type SendRequestV1 struct {
	To          []string               `json:"to"`
	CC          []string               `json:"cc,omitempty"`
	BCC         []string               `json:"bcc,omitempty"`
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body"`
	HTML        bool                   `json:"html"`
	Attachments []OutgoingAttachmentV1 `json:"attachments,omitempty"`
}

// SendResponseV1 acknowledges a submitted message.
type SendResponseV1 struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
}

// ActivityEntryV1 is one line of the diagnostics log.
type ActivityEntryV1 struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Kind    string    `json:"kind"`
	Account string    `json:"account,omitempty"`
	Message string    `json:"message"`
}
