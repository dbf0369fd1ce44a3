package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/inbucket/mailgate/pkg/rest/model"
)

// httpClient allows http.Client to be mocked for tests
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Generic REST restClient
type restClient struct {
	client  httpClient
	baseURL *url.URL
	token   string // Session token, sent as a bearer credential when set.
}

// Error is a failed API request.
type Error struct {
	Status  int    // HTTP status code.
	Kind    string // Error category reported by the server, ex: not_connected.
	Message string
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("unexpected HTTP response status %v: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// do performs an HTTP request with this client and returns the response.  uri may include a query
// string.
func (c *restClient) do(ctx context.Context, method, uri string, body []byte) (*http.Response, error) {
	path, query, _ := strings.Cut(uri, "?")
	url := c.baseURL.JoinPath(path)
	url.RawQuery = query
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url.String(), r)
	if err != nil {
		return nil, fmt.Errorf("%s for %q: %v", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.client.Do(req)
}

// doJSON performs an HTTP request with this client, sending in as the JSON request body if it is
// not nil, and marshalls the JSON response into out.
func (c *restClient) doJSON(ctx context.Context, method string, uri string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	resp, err := c.do(ctx, method, uri, body)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		// Decode response body
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return responseError(resp)
}

// responseError converts a failed response into an *Error.
func responseError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode, Message: resp.Status}
	var body model.ErrorResponseV1
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Kind != "" {
		apiErr.Kind = body.Kind
		apiErr.Message = body.Error
	}
	return apiErr
}
