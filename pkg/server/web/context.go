package web

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailgate/pkg/activity"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/gateway"
)

// Context is passed into every request handler function
type Context struct {
	Vars       map[string]string
	Gateway    *gateway.Gateway
	Activity   *activity.Hub
	RootConfig *config.Root
	SessionID  string // Bearer token, empty when the request carried none.
	IsJSON     bool
}

// Close the Context (currently does nothing)
func (c *Context) Close() {
	// Do nothing
}

// account returns the address of the request's session owner, or "" if there is no session.
func (c *Context) account() string {
	if c.SessionID == "" || c.Gateway == nil {
		return ""
	}
	s, err := c.Gateway.Sessions().Get(c.SessionID)
	if err != nil {
		return ""
	}
	return s.Identity.Address
}

// headerMatch returns true if the request header specified by name contains
// the specified value.  Case is ignored.
func headerMatch(req *http.Request, name string, value string) bool {
	name = http.CanonicalHeaderKey(name)
	value = strings.ToLower(value)

	if header := req.Header[name]; header != nil {
		for _, hv := range header {
			if value == strings.ToLower(hv) {
				return true
			}
		}
	}

	return false
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(req *http.Request) string {
	scheme, token, ok := strings.Cut(req.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewContext returns a Context for the given HTTP Request
func NewContext(req *http.Request) (*Context, error) {
	vars := mux.Vars(req)
	ctx := &Context{
		Vars:       vars,
		Gateway:    gw,
		Activity:   activityHub,
		RootConfig: rootConfig,
		SessionID:  bearerToken(req),
		IsJSON:     headerMatch(req, "Accept", "application/json"),
	}
	return ctx, nil
}
