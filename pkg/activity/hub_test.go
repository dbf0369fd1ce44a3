package activity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"testing"
	"time"

	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testListener implements the Listener interface, mock for unit tests
type testListener struct {
	entries    []Entry // received entries
	wantEvents int     // how many entries this listener wants to receive
	errorAfter int     // when != 0, entry count until Receive() begins returning error
	gotEvents  int

	done     chan struct{} // closed once we have received wantEvents
	overflow chan struct{} // closed if we receive wantEvents+1
}

func newTestListener(want int) *testListener {
	l := &testListener{
		entries:    make([]Entry, 0, want*2),
		wantEvents: want,
		done:       make(chan struct{}),
		overflow:   make(chan struct{}),
	}
	if want == 0 {
		close(l.done)
	}
	return l
}

// Receive an Entry, store it in the entries slice, close applicable channels, and return an error
// if instructed
func (l *testListener) Receive(e Entry) error {
	l.gotEvents++
	l.entries = append(l.entries, e)
	if l.gotEvents == l.wantEvents {
		close(l.done)
	}
	if l.gotEvents == l.wantEvents+1 {
		close(l.overflow)
	}
	if l.errorAfter > 0 && l.gotEvents > l.errorAfter {
		return errors.New("too many entries")
	}
	return nil
}

// String formats the got vs wanted entry counts
func (l *testListener) String() string {
	return fmt.Sprintf("got %v entries, wanted %v", len(l.entries), l.wantEvents)
}

func startHub(t *testing.T, historyLen int, extHost *extension.Host) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := New(historyLen, extHost)
	go hub.Start(ctx)
	return hub
}

func TestHubZeroLen(t *testing.T) {
	hub := startHub(t, 0, extension.NewHost())
	for i := 0; i < 100; i++ {
		hub.Dispatch(Entry{})
	}
	assert.Empty(t, hub.Recent())
}

func TestHubOneListener(t *testing.T) {
	hub := startHub(t, 5, extension.NewHost())
	l := newTestListener(1)

	hub.AddListener(l)
	hub.Dispatch(Entry{Message: "hello"})

	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("Timeout:", l)
	}
	assert.Equal(t, "hello", l.entries[0].Message)
	assert.False(t, l.entries[0].At.IsZero(), "At should be stamped")
}

func TestHubRemoveListener(t *testing.T) {
	hub := startHub(t, 5, extension.NewHost())
	l := newTestListener(1)

	hub.AddListener(l)
	hub.Dispatch(Entry{})
	hub.RemoveListener(l)
	hub.Dispatch(Entry{})
	hub.Sync()

	select {
	case <-l.overflow:
		t.Error(l)
	case <-time.After(50 * time.Millisecond):
		// Expected result, no overflow
	}
}

func TestHubRemoveListenerOnError(t *testing.T) {
	hub := startHub(t, 5, extension.NewHost())

	// error after 1 means listener should receive 2 entries before being removed
	l := newTestListener(2)
	l.errorAfter = 1

	hub.AddListener(l)
	for i := 0; i < 4; i++ {
		hub.Dispatch(Entry{})
	}
	hub.Sync()

	select {
	case <-l.overflow:
		t.Error(l)
	case <-time.After(50 * time.Millisecond):
		// Expected result, no overflow
	}
}

func TestHubHistoryReplayWrap(t *testing.T) {
	hub := startHub(t, 5, extension.NewHost())
	for i := 0; i < 20; i++ {
		hub.Dispatch(Entry{Message: fmt.Sprintf("entry %v", i)})
	}

	l := newTestListener(5)
	hub.AddListener(l)
	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("Timeout:", l)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("entry %v", i+15), l.entries[i].Message)
	}

	recent := hub.Recent()
	require.Len(t, recent, 5)
	assert.Equal(t, "entry 15", recent[0].Message)
	assert.Equal(t, "entry 19", recent[4].Message)
}

func TestHubRecentPreservesTime(t *testing.T) {
	hub := startHub(t, 5, extension.NewHost())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub.Dispatch(Entry{At: at, Message: "stamped"})

	recent := hub.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, at, recent[0].At)
}

func TestHubRecordsEvents(t *testing.T) {
	extHost := extension.NewHost()
	hub := startHub(t, 10, extHost)

	// waitEntry returns the newest entry once the history holds n entries.
	waitEntry := func(n int) Entry {
		t.Helper()
		var recent []Entry
		require.Eventually(t, func() bool {
			recent = hub.Recent()
			return len(recent) >= n
		}, time.Second, 5*time.Millisecond)
		return recent[n-1]
	}

	msg := event.OutboundMessage{
		Account: "alice@example.com",
		Subject: "Lunch",
		To:      []mail.Address{{Address: "bob@example.com"}},
		CC:      []mail.Address{{Address: "carol@example.com"}},
	}

	extHost.Events.AfterSessionOpened.Emit(&event.Session{Account: "alice@example.com"})
	e := waitEntry(1)
	assert.Equal(t, KindSessionOpened, e.Kind)
	assert.Equal(t, LevelInfo, e.Level)
	assert.Equal(t, "alice@example.com", e.Account)

	extHost.Events.AfterMessageSent.Emit(&msg)
	e = waitEntry(2)
	assert.Equal(t, KindMessageSent, e.Kind)
	assert.Equal(t, `Sent "Lunch" to 2 recipient(s)`, e.Message)

	extHost.Events.AfterArchiveFailed.Emit(&event.ArchiveFailure{
		Message: msg,
		Folder:  "sent",
		Error:   "disk full",
	})
	e = waitEntry(3)
	assert.Equal(t, KindArchiveFailed, e.Kind)
	assert.Equal(t, LevelWarn, e.Level)
	assert.Contains(t, e.Message, "disk full")

	extHost.Events.AfterMessageMoved.Emit(&event.MessageMoved{
		Account:    "alice@example.com",
		FromFolder: "inbox",
		FromID:     4,
		ToFolder:   "archive",
		ToID:       9,
	})
	e = waitEntry(4)
	assert.Equal(t, KindMessageMoved, e.Kind)
	assert.Equal(t, "Moved inbox/4 to archive/9", e.Message)

	extHost.Events.AfterSessionClosed.Emit(&event.Session{Account: "alice@example.com", Reason: "logout"})
	e = waitEntry(5)
	assert.Equal(t, KindSessionClosed, e.Kind)
	assert.Equal(t, "Session closed: logout", e.Message)
}

func TestHubContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := New(5, extension.NewHost())
	go hub.Start(ctx)
	l := newTestListener(1)

	hub.AddListener(l)
	hub.Dispatch(Entry{})
	hub.Sync()
	cancel()

	select {
	case <-l.overflow:
		t.Error(l)
	case <-time.After(50 * time.Millisecond):
		// Expected result, no overflow
	}
}
