package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/rest/model"
)

var kindStatus = map[string]int{
	mailerr.KindAuthentication:    http.StatusUnauthorized,
	mailerr.KindNotConnected:      http.StatusUnauthorized,
	mailerr.KindTransport:         http.StatusBadGateway,
	mailerr.KindTimeout:           http.StatusGatewayTimeout,
	mailerr.KindSessionBusy:       http.StatusConflict,
	mailerr.KindUnknownFolder:     http.StatusBadRequest,
	mailerr.KindMoveUnsupported:   http.StatusBadRequest,
	mailerr.KindValidation:        http.StatusBadRequest,
	mailerr.KindAttachmentCorrupt: http.StatusBadRequest,
	mailerr.KindMessageNotFound:   http.StatusNotFound,
	mailerr.KindAlreadyDeleted:    http.StatusGone,
}

// StatusForKind returns the HTTP status code for an error category.
func StatusForKind(kind string) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RenderJSON sets the correct HTTP headers for JSON, then writes the specified data (typically a
// struct) encoded in JSON
func RenderJSON(w http.ResponseWriter, data interface{}) error {
	return RenderJSONStatus(w, http.StatusOK, data)
}

// RenderJSONStatus is RenderJSON with a status code other than 200.
func RenderJSONStatus(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Expires", "-1")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	return enc.Encode(data)
}

// RenderError writes err as an ErrorResponse, returning the status code used.
func RenderError(w http.ResponseWriter, err error) int {
	kind := mailerr.Kind(err)
	status := StatusForKind(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the log.
		msg = http.StatusText(status)
	}
	_ = RenderJSONStatus(w, status, &model.ErrorResponseV1{Error: msg, Kind: kind})
	return status
}

// DecodeJSON decodes the request body into v, reporting malformed input as a validation error.
func DecodeJSON(req *http.Request, v interface{}) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return mailerr.Validation("malformed JSON at offset %d", syntaxErr.Offset)
		}
		return mailerr.Validation("invalid request body: %v", err)
	}
	return nil
}

// MakePathPrefixer returns a function that prefixes paths with the configured base path.
func MakePathPrefixer(basePath string) func(string) string {
	basePath = strings.Trim(basePath, "/")
	if basePath == "" {
		return func(path string) string { return path }
	}
	return func(path string) string {
		return "/" + basePath + "/" + strings.TrimLeft(path, "/")
	}
}
