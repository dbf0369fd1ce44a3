// Package extension provides event brokers that decouple gateway operations from optional
// listeners, such as diagnostics and Lua scripts.
package extension

import (
	"github.com/inbucket/mailgate/pkg/extension/event"
)

// Host defines extension points for the gateway.
type Host struct {
	Events *Events
}

// Events defines all the event types supported by the extension host.
//
// Before-events let extensions alter how the gateway responds to that type of event.  They are
// processed synchronously, so expensive listeners slow down the request.  The first listener to
// respond with a non-nil value determines the response, and the remaining listeners are not
// called.
//
// After-events let extensions act after an event has completed.  They are processed
// asynchronously with respect to the request.
type Events struct {
	AfterArchiveFailed AsyncEventBroker[event.ArchiveFailure]
	AfterMessageMoved  AsyncEventBroker[event.MessageMoved]
	AfterMessageSent   AsyncEventBroker[event.OutboundMessage]
	AfterSessionClosed AsyncEventBroker[event.Session]
	AfterSessionOpened AsyncEventBroker[event.Session]
	BeforeMessageSent  EventBroker[event.OutboundMessage, event.PolicyResponse]
}

// NewHost creates a new extension host.
func NewHost() *Host {
	return &Host{Events: &Events{}}
}
