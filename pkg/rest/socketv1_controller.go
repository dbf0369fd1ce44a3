package rest

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inbucket/mailgate/pkg/activity"
	"github.com/inbucket/mailgate/pkg/rest/model"
	"github.com/inbucket/mailgate/pkg/server/web"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// options for gorilla connection upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// errListenerClosed tells the hub to drop a listener whose socket has gone away.
var errListenerClosed = errors.New("listener closed")

// entryListener relays activity entries for one account to a websocket.
type entryListener struct {
	hub     *activity.Hub       // Diagnostics hub
	c       chan activity.Entry // Queue of entries from Receive()
	done    chan struct{}       // Closed by Close()
	once    sync.Once
	account string // Only entries for this account are relayed.
}

// newEntryListener creates a listener and registers it.
func newEntryListener(hub *activity.Hub, account string) *entryListener {
	el := &entryListener{
		hub:     hub,
		c:       make(chan activity.Entry, 100),
		done:    make(chan struct{}),
		account: account,
	}
	hub.AddListener(el)
	return el
}

// Receive handles an incoming entry
func (el *entryListener) Receive(e activity.Entry) error {
	if e.Account != el.account {
		// Belongs to another account
		return nil
	}
	select {
	case el.c <- e:
		return nil
	case <-el.done:
		return errListenerClosed
	}
}

// WSReader makes sure the websocket client is still connected, discards any messages from client
func (el *entryListener) WSReader(conn *websocket.Conn) {
	slog := log.With().Str("module", "rest").Str("proto", "WebSocket").
		Str("remote", conn.RemoteAddr().String()).Logger()
	defer el.Close()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		slog.Debug().Msg("Got pong")
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				// Unexpected close code
				slog.Warn().Err(err).Msg("Socket error")
			} else {
				slog.Debug().Msg("Closing socket")
			}
			break
		}
	}
}

// WSWriter makes sure the websocket client is still connected
func (el *entryListener) WSWriter(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		el.Close()
	}()

	// Handle entries from hub until entryListener is closed
	for {
		select {
		case e := <-el.c:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if conn.WriteJSON(jsonEntry(e)) != nil {
				// Write failed
				return
			}
		case <-el.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			// Send ping
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if conn.WriteMessage(websocket.PingMessage, []byte{}) != nil {
				// Write error
				return
			}
			log.Debug().Str("module", "rest").Str("proto", "WebSocket").
				Str("remote", conn.RemoteAddr().String()).Msg("Sent ping")
		}
	}
}

// Close removes the listener registration
func (el *entryListener) Close() {
	el.once.Do(func() {
		close(el.done)
		el.hub.RemoveListener(el)
	})
}

// DiagnosticsListV1 renders recent activity for the session's account, oldest first.
func DiagnosticsListV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	s, err := ctx.Gateway.Sessions().Get(ctx.SessionID)
	if err != nil {
		return err
	}
	entries := make([]*model.ActivityEntryV1, 0)
	for _, e := range ctx.Activity.Recent() {
		if e.Account == s.Identity.Address {
			entries = append(entries, jsonEntry(e))
		}
	}
	return web.RenderJSON(w, entries)
}

// DiagnosticsStreamV1 is a web handler which upgrades the connection to a websocket and relays
// activity for the session's account.  Browsers cannot set headers on a websocket request, so the
// session token may also be passed as the token query parameter.
func DiagnosticsStreamV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	sid := ctx.SessionID
	if sid == "" {
		sid = req.URL.Query().Get("token")
	}
	s, err := ctx.Gateway.Sessions().Get(sid)
	if err != nil {
		return err
	}
	// Upgrade to Websocket.
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Debug().Str("module", "rest").Str("proto", "WebSocket").Err(err).Msg("Upgrade failed")
		return nil
	}
	web.ExpWebSocketConnectsCurrent.Add(1)
	defer func() {
		_ = conn.Close()
		web.ExpWebSocketConnectsCurrent.Add(-1)
	}()
	log.Debug().Str("module", "rest").Str("proto", "WebSocket").
		Str("remote", conn.RemoteAddr().String()).Msg("Upgraded to WebSocket")
	// Create, register listener; then interact with conn.
	el := newEntryListener(ctx.Activity, s.Identity.Address)
	go el.WSWriter(conn)
	el.WSReader(conn)
	return nil
}

func jsonEntry(e activity.Entry) *model.ActivityEntryV1 {
	return &model.ActivityEntryV1{
		At:      e.At,
		Level:   e.Level,
		Kind:    e.Kind,
		Account: e.Account,
		Message: e.Message,
	}
}
