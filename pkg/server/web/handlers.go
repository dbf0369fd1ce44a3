package web

import (
	"net/http"

	"github.com/inbucket/mailgate/pkg/activity"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/rs/zerolog/log"
)

// Handler is a function type that handles an HTTP request in mailgate.
type Handler func(http.ResponseWriter, *http.Request, *Context) error

// ServeHTTP builds the context and passes onto the real handler.
func (h Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Create the context.
	ctx, err := NewContext(req)
	if err != nil {
		log.Error().Str("module", "web").Err(err).Msg("HTTP failed to create context")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer ctx.Close()

	// Run the handler, grab the error, and report it.
	err = h(w, req, ctx)
	if err != nil {
		status := RenderError(w, err)
		kind := mailerr.Kind(err)
		if status >= http.StatusInternalServerError {
			log.Error().Str("module", "web").Str("path", req.RequestURI).Str("kind", kind).Err(err).
				Msg("Error handling request")
			if ctx.Activity != nil {
				ctx.Activity.Dispatch(activity.Entry{
					Level:   activity.LevelError,
					Kind:    activity.KindRequestFailed,
					Account: ctx.account(),
					Message: req.Method + " " + req.URL.Path + ": " + err.Error(),
				})
			}
			return
		}
		log.Debug().Str("module", "web").Str("path", req.RequestURI).Str("kind", kind).Err(err).
			Msg("Request rejected")
	}
}

// corsWrapper returns middleware permitting browser requests from origin.  Preflight requests are
// answered directly.
func corsWrapper(origin string, next http.Handler) http.Handler {
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Add("Vary", "Origin")
		if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// noMatchHandler creates a handler to log requests that Gorilla mux is unable to route,
// returning specified statusCode to the client.
func noMatchHandler(statusCode int, message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.Warn().Str("module", "web").Str("remote", req.RemoteAddr).Str("proto", req.Proto).
			Str("method", req.Method).Str("path", req.RequestURI).Msg(message)
		w.WriteHeader(statusCode)
	})
}

// requestLoggingWrapper returns middleware that logs client requests.
func requestLoggingWrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.Debug().Str("module", "web").Str("remote", req.RemoteAddr).Str("proto", req.Proto).
			Str("method", req.Method).Str("path", req.RequestURI).Msg("Request")
		next.ServeHTTP(w, req)
	})
}
