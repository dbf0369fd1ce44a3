// Package activity keeps a short history of gateway activity, such as sessions opening and
// messages being sent, and relays new entries to diagnostics listeners.
package activity

import (
	"container/ring"
	"context"
	"fmt"
	"time"

	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/event"
)

// Length of hub operation queue
const opChanLen = 100

// Entry levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry kinds.
const (
	KindSessionOpened = "session_opened"
	KindSessionClosed = "session_closed"
	KindMessageSent   = "message_sent"
	KindArchiveFailed = "archive_failed"
	KindMessageMoved  = "message_moved"
	KindRequestFailed = "request_failed"
)

// Entry is one line of the diagnostics log.
type Entry struct {
	At      time.Time
	Level   string
	Kind    string
	Account string
	Message string
}

// Listener receives the contents of the history buffer, followed by new entries.
type Listener interface {
	Receive(e Entry) error
}

// Hub relays entries on to its listeners
type Hub struct {
	// history buffer, points next Entry to write.  Proceeding non-nil entry is oldest Entry
	history   *ring.Ring
	listeners map[Listener]struct{} // listeners interested in new entries
	opChan    chan func(h *Hub)     // operations queued for this actor
	now       func() time.Time
}

// New constructs a new Hub which will cache historyLen entries in memory for playback to future
// listeners.  It subscribes to the extension host events; Start must be called to process them.
func New(historyLen int, extHost *extension.Host) *Hub {
	hub := &Hub{
		listeners: make(map[Listener]struct{}),
		opChan:    make(chan func(h *Hub), opChanLen),
		now:       time.Now,
	}
	if historyLen > 0 {
		hub.history = ring.New(historyLen)
	}

	events := extHost.Events
	events.AfterSessionOpened.AddListener("activity", func(s event.Session) {
		hub.Dispatch(Entry{At: s.At, Level: LevelInfo, Kind: KindSessionOpened, Account: s.Account,
			Message: "Session opened"})
	})
	events.AfterSessionClosed.AddListener("activity", func(s event.Session) {
		hub.Dispatch(Entry{At: s.At, Level: LevelInfo, Kind: KindSessionClosed, Account: s.Account,
			Message: "Session closed: " + s.Reason})
	})
	events.AfterMessageSent.AddListener("activity", func(m event.OutboundMessage) {
		n := len(m.To) + len(m.CC) + len(m.BCC)
		hub.Dispatch(Entry{Level: LevelInfo, Kind: KindMessageSent, Account: m.Account,
			Message: fmt.Sprintf("Sent %q to %d recipient(s)", m.Subject, n)})
	})
	events.AfterArchiveFailed.AddListener("activity", func(f event.ArchiveFailure) {
		hub.Dispatch(Entry{Level: LevelWarn, Kind: KindArchiveFailed, Account: f.Message.Account,
			Message: fmt.Sprintf("Sent %q was not saved to %s: %s", f.Message.Subject, f.Folder, f.Error)})
	})
	events.AfterMessageMoved.AddListener("activity", func(m event.MessageMoved) {
		hub.Dispatch(Entry{Level: LevelInfo, Kind: KindMessageMoved, Account: m.Account,
			Message: fmt.Sprintf("Moved %s/%d to %s/%d", m.FromFolder, m.FromID, m.ToFolder, m.ToID)})
	})

	return hub
}

// Start Hub processing loop.
func (hub *Hub) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Shutdown
			return
		case op := <-hub.opChan:
			op(hub)
		}
	}
}

// Dispatch queues an entry for broadcast by the hub.  The entry will be placed into the history
// buffer and then relayed to all registered listeners.  A zero At is set to the current time.
func (hub *Hub) Dispatch(e Entry) {
	hub.opChan <- func(h *Hub) {
		if e.At.IsZero() {
			e.At = h.now()
		}
		if h.history != nil {
			// Add to history buffer
			h.history.Value = e
			h.history = h.history.Next()
		}

		// Deliver entry to all listeners, removing listeners if they return an error
		for l := range h.listeners {
			if err := l.Receive(e); err != nil {
				delete(h.listeners, l)
			}
		}
	}
}

// Recent returns the history buffer, oldest entry first.
func (hub *Hub) Recent() []Entry {
	result := make(chan []Entry)
	hub.opChan <- func(h *Hub) {
		entries := make([]Entry, 0)
		if h.history != nil {
			h.history.Do(func(v any) {
				if v != nil {
					entries = append(entries, v.(Entry))
				}
			})
		}
		result <- entries
	}
	return <-result
}

// AddListener registers a listener to receive broadcasted entries.
func (hub *Hub) AddListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		// Playback log
		if h.history != nil {
			h.history.Do(func(v any) {
				if v != nil {
					_ = l.Receive(v.(Entry))
				}
			})
		}

		// Add to listeners
		h.listeners[l] = struct{}{}
	}
}

// RemoveListener deletes a listener registration, it will cease to receive entries.
func (hub *Hub) RemoveListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		delete(h.listeners, l)
	}
}

// Sync blocks until the hub has processed its queue up to this point, useful
// for unit tests.
func (hub *Hub) Sync() {
	done := make(chan struct{})
	hub.opChan <- func(h *Hub) {
		close(done)
	}
	<-done
}
