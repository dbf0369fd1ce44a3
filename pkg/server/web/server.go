// Package web provides the plumbing for the mailgate REST API.
package web

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailgate/pkg/activity"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/gateway"
	"github.com/rs/zerolog/log"
)

var (
	// gw and activityHub are handed to request handlers through the Context.
	gw          *gateway.Gateway
	activityHub *activity.Hub
	rootConfig  *config.Root

	// Router is shared between the web and rest packages. It sends incoming requests to the
	// correct handler function.  Paths are matched encoded, so folder ids may contain slashes.
	Router = mux.NewRouter().UseEncodedPath()

	// ExpWebSocketConnectsCurrent tracks the number of open WebSockets
	ExpWebSocketConnectsCurrent = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("http")
	m.Set("WebSocketConnectsCurrent", ExpWebSocketConnectsCurrent)
}

// Server defines an instance of the Web server.
type Server struct {
	listener net.Listener
	server   *http.Server
	notify   chan error
}

// NewServer sets up things for unit tests or the Start() method.
func NewServer(conf *config.Root, g *gateway.Gateway, hub *activity.Hub) *Server {
	rootConfig = conf
	gw = g
	activityHub = hub

	prefix := MakePathPrefixer(conf.Web.BasePath)
	Router.Path(prefix("/debug/vars")).Handler(expvar.Handler()).Methods("GET")
	Router.NotFoundHandler = noMatchHandler(http.StatusNotFound, "No route matches URI path")
	Router.MethodNotAllowedHandler = noMatchHandler(http.StatusMethodNotAllowed,
		"No route matches URI path and method")

	return &Server{
		server: &http.Server{
			Addr:         conf.Web.Addr,
			Handler:      corsWrapper(conf.Web.CORSOrigin, requestLoggingWrapper(Router)),
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		notify: make(chan error, 1),
	}
}

// Start begins listening for HTTP requests.  readyFunc is called once the listener is open.
func (s *Server) Start(ctx context.Context, readyFunc func()) {
	// We don't use ListenAndServe because it lacks a way to close the listener
	log.Info().Str("module", "web").Str("phase", "startup").Str("addr", s.server.Addr).
		Msg("HTTP listening on tcp4")
	var err error
	s.listener, err = net.Listen("tcp", s.server.Addr)
	if err != nil {
		log.Error().Str("module", "web").Str("phase", "startup").Err(err).
			Msg("HTTP failed to start TCP4 listener")
		s.notify <- err
		close(s.notify)
		return
	}

	if readyFunc != nil {
		readyFunc()
	}

	// Listener go routine
	go s.serve(ctx)

	// Wait for shutdown
	<-ctx.Done()
	log.Debug().Str("module", "web").Str("phase", "shutdown").Msg("HTTP server shutting down on request")

	// Closing the listener will cause the serve() go routine to exit
	if err := s.listener.Close(); err != nil {
		log.Debug().Str("module", "web").Str("phase", "shutdown").Err(err).
			Msg("Failed to close HTTP listener")
	}
}

// serve begins serving HTTP requests
func (s *Server) serve(ctx context.Context) {
	// server.Serve blocks until we close the listener
	err := s.server.Serve(s.listener)

	select {
	case <-ctx.Done():
		// Nop
	default:
		log.Error().Str("module", "web").Str("phase", "startup").Err(err).Msg("HTTP server failed")
		s.notify <- err
		close(s.notify)
		return
	}
}

// Notify allows the running Web server to be monitored for a fatal error.
func (s *Server) Notify() <-chan error {
	return s.notify
}
