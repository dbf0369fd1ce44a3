package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/activity"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/gateway"
	"github.com/inbucket/mailgate/pkg/remote/mem"
	"github.com/inbucket/mailgate/pkg/server/web"
	"github.com/inbucket/mailgate/pkg/session"
	"github.com/stretchr/testify/require"
)

const (
	testAddress = "alice@example.com"
	testSecret  = "hunter2"
)

var baseDate = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// testServer holds a REST router backed by an in-memory mail server.
type testServer struct {
	router  *mux.Router
	server  *mem.Server
	acct    *mem.Account
	gw      *gateway.Gateway
	hub     *activity.Hub
	extHost *extension.Host
}

func setupWebServer(t *testing.T) *testServer {
	t.Helper()
	conf := &config.Root{
		IMAP:    config.IMAP{ConnectTimeout: 5 * time.Second, OpTimeout: 5 * time.Second},
		Session: config.Session{IdleTimeout: time.Hour},
		Folders: config.Folders{Provider: "generic"},
		Reader:  config.Reader{SnippetLength: 100, SnippetBytes: 2048},
		Web:     config.Web{ListLimit: 50, DiagnosticsHistory: 50},
	}
	server := mem.NewServer()
	acct := server.AddAccount(testAddress, testSecret)
	extHost := extension.NewHost()
	sm := session.NewManager(conf, server, session.NewMemStore(), extHost)
	gw, err := gateway.New(conf, sm, server, extHost)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := activity.New(conf.Web.DiagnosticsHistory, extHost)
	go hub.Start(ctx)

	web.NewServer(conf, gw, hub)
	router := mux.NewRouter().UseEncodedPath()
	SetupRoutes(router.PathPrefix("/api/").Subrouter())

	return &testServer{router: router, server: server, acct: acct, gw: gw, hub: hub, extHost: extHost}
}

// login opens a session for the test account and returns its token.
func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	sid, err := ts.gw.Sessions().Open(context.Background(), account.New(testAddress, testSecret))
	require.NoError(t, err)
	t.Cleanup(func() { ts.gw.Sessions().Close(context.Background(), sid) })
	return sid
}

// deliver stores a plain text message in mailbox, n hours after baseDate.
func (ts *testServer) deliver(t *testing.T, mailbox string, n int, subject string) uint32 {
	t.Helper()
	date := baseDate.Add(time.Duration(n) * time.Hour)
	source := fmt.Sprintf("From: Bob Sender <bob@example.org>\r\nTo: %s\r\nSubject: %s\r\n"+
		"Date: %s\r\nMessage-ID: <%d@example.org>\r\n\r\nBody of %s\r\n",
		testAddress, subject, date.Format(time.RFC1123Z), n, subject)
	uid, err := ts.acct.Deliver(mailbox, []byte(source), date)
	require.NoError(t, err)
	return uid
}

// testRestRequest sends a request through the router, with body encoded as JSON unless it is a
// string.
func (ts *testServer) testRestRequest(
	t *testing.T, method, url, token string, body interface{},
) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Add("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// decodeJSON decodes a recorded response body.
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var result interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result), "body: %s", w.Body.String())
	return result
}

func decodedBoolEquals(t *testing.T, json interface{}, path string, want bool) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(bool); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

func decodedNumberEquals(t *testing.T, json interface{}, path string, want float64) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	got, ok := val.(float64)
	if ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T) %v (int64),\nwant: %v / %v",
		path, val, val, int64(got), want, int64(want))
}

func decodedStringEquals(t *testing.T, json interface{}, path string, want string) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(string); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

// getDecodedPath recursively navigates the specified path, returing the requested element.  If
// something goes wrong, the returned string will contain an explanation.
//
// Named path elements require the parent element to be a map[string]interface{}, numbers in square
// brackets require the parent element to be a []interface{}.
//
//     getDecodedPath(o, "users", "[1]", "name")
//
// is equivalent to the JavaScript:
//
//     o.users[1].name
//
func getDecodedPath(o interface{}, path ...string) (interface{}, string) {
	if len(path) == 0 {
		return o, ""
	}
	if o == nil {
		return nil, " is nil"
	}
	key := path[0]
	present := false
	var val interface{}
	if key[0] == '[' {
		// Expecting slice.
		index, err := strconv.Atoi(strings.Trim(key, "[]"))
		if err != nil {
			return nil, "/" + key + " is not a slice index"
		}
		oslice, ok := o.([]interface{})
		if !ok {
			return nil, " is not a slice"
		}
		if index >= len(oslice) {
			return nil, "/" + key + " is out of bounds"
		}
		val, present = oslice[index], true
	} else {
		// Expecting map.
		omap, ok := o.(map[string]interface{})
		if !ok {
			return nil, " is not a map"
		}
		val, present = omap[key]
	}
	if !present {
		return nil, "/" + key + " is missing"
	}
	result, msg := getDecodedPath(val, path[1:]...)
	if msg != "" {
		return nil, "/" + key + msg
	}
	return result, ""
}

// decodeInto decodes a recorded response body into v.
func decodeInto(w *httptest.ResponseRecorder, v interface{}) error {
	return json.NewDecoder(w.Body).Decode(v)
}
