package rest

import (
	"github.com/gorilla/mux"
	"github.com/inbucket/mailgate/pkg/server/web"
)

// SetupRoutes populates the routes for the REST interface
func SetupRoutes(r *mux.Router) {
	// API v1
	r.Path("/v1/session").Handler(
		web.Handler(SessionConnectV1)).Name("SessionConnectV1").Methods("POST")
	r.Path("/v1/session").Handler(
		web.Handler(SessionDisconnectV1)).Name("SessionDisconnectV1").Methods("DELETE")
	r.Path("/v1/folders").Handler(
		web.Handler(FolderListV1)).Name("FolderListV1").Methods("GET")
	r.Path("/v1/folders/{folder}/messages").Handler(
		web.Handler(MessageListV1)).Name("MessageListV1").Methods("GET")
	r.Path("/v1/folders/{folder}/messages/{id}").Handler(
		web.Handler(MessageShowV1)).Name("MessageShowV1").Methods("GET")
	r.Path("/v1/folders/{folder}/messages/{id}").Handler(
		web.Handler(MessageFlagsV1)).Name("MessageFlagsV1").Methods("PATCH")
	r.Path("/v1/folders/{folder}/messages/{id}").Handler(
		web.Handler(MessageDeleteV1)).Name("MessageDeleteV1").Methods("DELETE")
	r.Path("/v1/folders/{folder}/messages/{id}/source").Handler(
		web.Handler(MessageSourceV1)).Name("MessageSourceV1").Methods("GET")
	r.Path("/v1/folders/{folder}/messages/{id}/move").Handler(
		web.Handler(MessageMoveV1)).Name("MessageMoveV1").Methods("POST")
	r.Path("/v1/folders/{folder}/messages/{id}/archive").Handler(
		web.Handler(MessageArchiveV1)).Name("MessageArchiveV1").Methods("POST")
	r.Path("/v1/messages").Handler(
		web.Handler(MessageSendV1)).Name("MessageSendV1").Methods("POST")
	r.Path("/v1/diagnostics").Handler(
		web.Handler(DiagnosticsListV1)).Name("DiagnosticsListV1").Methods("GET")
	r.Path("/v1/diagnostics/stream").Handler(
		web.Handler(DiagnosticsStreamV1)).Name("DiagnosticsStreamV1").Methods("GET")
}
