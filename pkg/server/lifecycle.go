// Package server assembles and runs the mailgate services.
package server

import (
	"context"

	"github.com/inbucket/mailgate/pkg/activity"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/luahost"
	"github.com/inbucket/mailgate/pkg/gateway"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/inbucket/mailgate/pkg/rest"
	"github.com/inbucket/mailgate/pkg/server/web"
	"github.com/inbucket/mailgate/pkg/session"
	"github.com/rs/zerolog/log"
)

// Services holds the configured services.
type Services struct {
	Activity  *activity.Hub
	ExtHost   *extension.Host
	Gateway   *gateway.Gateway
	LuaHost   *luahost.Host
	Sessions  *session.Manager
	WebServer *web.Server
}

// FullAssembly wires up a complete mailgate environment.
func FullAssembly(conf *config.Root) (*Services, error) {
	extHost := extension.NewHost()

	// Configure Lua, optional.
	luaHost, err := luahost.New(conf.Lua, extHost)
	if err != nil {
		return nil, err
	}
	if luaHost == nil {
		log.Debug().Str("module", "lua").Str("phase", "startup").Str("path", conf.Lua.Path).
			Msg("No Lua script, extensions disabled")
	}

	// Configure the mail server backend.
	backend, err := remote.FromConfig(conf)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(conf, backend.Dialer, session.NewMemStore(), extHost)
	gw, err := gateway.New(conf, sessions, backend.Submitter, extHost)
	if err != nil {
		return nil, err
	}

	// Configure routes and the HTTP server.
	hub := activity.New(conf.Web.DiagnosticsHistory, extHost)
	prefix := web.MakePathPrefixer(conf.Web.BasePath)
	rest.SetupRoutes(web.Router.PathPrefix(prefix("/api/")).Subrouter())
	webServer := web.NewServer(conf, gw, hub)

	return &Services{
		Activity:  hub,
		ExtHost:   extHost,
		Gateway:   gw,
		LuaHost:   luaHost,
		Sessions:  sessions,
		WebServer: webServer,
	}, nil
}

// Start all services, returns immediately.  Callers may use Notify to detect failed services.
func (s *Services) Start(ctx context.Context, readyFunc func()) {
	go s.Activity.Start(ctx)
	go s.WebServer.Start(ctx, readyFunc)
}

// Notify merges the error notification channels of all fallible services, allowing the process to
// be shutdown if needed.
func (s *Services) Notify() <-chan error {
	return s.WebServer.Notify()
}

// Shutdown logs out all open sessions, waiting until ctx is done for running operations.
func (s *Services) Shutdown(ctx context.Context) {
	s.Sessions.CloseAll(ctx)
}
