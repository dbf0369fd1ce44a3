// Package mailerr defines the error categories reported by the mail gateway.  Errors returned by
// gateway packages wrap one of the sentinels below; test for them with errors.Is.
package mailerr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication indicates the mail server rejected the account credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTransport indicates a network, TLS or remote server failure.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout indicates a protocol operation exceeded its time bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrNotConnected indicates the session is unknown, expired or no longer connected.
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionBusy indicates another operation held the session for the entire wait period.
	ErrSessionBusy = errors.New("session busy")

	// ErrUnknownFolder indicates the folder identifier is not recognized.
	ErrUnknownFolder = errors.New("unknown folder")

	// ErrMoveUnsupported indicates a move whose source and destination are the same mailbox.
	ErrMoveUnsupported = errors.New("move to same mailbox not supported")

	// ErrMessageNotFound indicates the message id does not exist in the resolved mailbox.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAlreadyDeleted indicates an expunge targeted a message that is no longer present.
	ErrAlreadyDeleted = errors.New("message already deleted")

	// ErrValidation indicates a malformed compose request.
	ErrValidation = errors.New("validation failed")

	// ErrAttachmentCorrupt indicates an attachment payload could not be decoded, or its decoded
	// length did not match the declared size.
	ErrAttachmentCorrupt = errors.New("attachment corrupt")

	// ErrArchival indicates a sent message could not be copied into the Sent mailbox.  It is never
	// returned to API callers.
	ErrArchival = errors.New("sent archival failed")
)

// Category names, as rendered in API error responses.
const (
	KindAuthentication    = "authentication"
	KindTransport         = "transport"
	KindTimeout           = "timeout"
	KindNotConnected      = "not_connected"
	KindSessionBusy       = "session_busy"
	KindUnknownFolder     = "unknown_folder"
	KindMoveUnsupported   = "move_unsupported"
	KindMessageNotFound   = "message_not_found"
	KindAlreadyDeleted    = "already_deleted"
	KindValidation        = "validation"
	KindAttachmentCorrupt = "attachment_corrupt"
	KindArchival          = "archival"
	KindInternal          = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrAuthentication, KindAuthentication},
	{ErrTimeout, KindTimeout},
	{ErrTransport, KindTransport},
	{ErrNotConnected, KindNotConnected},
	{ErrSessionBusy, KindSessionBusy},
	{ErrUnknownFolder, KindUnknownFolder},
	{ErrMoveUnsupported, KindMoveUnsupported},
	{ErrMessageNotFound, KindMessageNotFound},
	{ErrAlreadyDeleted, KindAlreadyDeleted},
	{ErrValidation, KindValidation},
	{ErrAttachmentCorrupt, KindAttachmentCorrupt},
	{ErrArchival, KindArchival},
}

// Kind returns the category name of err, or KindInternal if it wraps none of the sentinels.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Wrap annotates cause with the sentinel category; a nil cause yields the bare sentinel.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %v", sentinel, cause)
}

// Validation returns an ErrValidation with the provided detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
