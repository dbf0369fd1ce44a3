// Package client provides a basic REST client for mailgate
package client

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/inbucket/mailgate/pkg/rest/model"
)

// Client accesses the mailgate REST API v1
type Client struct {
	restClient
}

// ListOptions filters a message listing.  Zero values are omitted from the request.
type ListOptions struct {
	Limit       int
	Query       string
	Starred     bool
	Unread      bool
	Attachments bool
	Since       time.Time
	Before      time.Time
}

// New creates a new v1 REST API client given the base URL of a mailgate server, ex:
// "http://localhost:9100"
func New(baseURL string, opts ...func(*ClientOptions)) (*Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	options := getDefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	c := &Client{
		restClient{
			client: &http.Client{
				Transport: options.transport,
				Timeout:   options.timeout,
			},
			baseURL: parsedURL,
			token:   options.token,
		},
	}
	return c, nil
}

// Token returns the session token, empty before Connect.
func (c *Client) Token() string {
	return c.token
}

// Connect opens a session; subsequent requests are made on behalf of that session.
func (c *Client) Connect(ctx context.Context, email, password string) (*model.ConnectResponseV1, error) {
	var resp model.ConnectResponseV1
	err := c.doJSON(ctx, "POST", "/api/v1/session",
		&model.ConnectRequestV1{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.SessionID
	return &resp, nil
}

// Disconnect closes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.doJSON(ctx, "DELETE", "/api/v1/session", nil, nil)
	c.token = ""
	return err
}

// ListFolders returns the folders of the account.
func (c *Client) ListFolders(ctx context.Context) (folders []*model.FolderV1, err error) {
	err = c.doJSON(ctx, "GET", "/api/v1/folders", nil, &folders)
	return
}

// ListMessages returns the newest messages in a folder, newest first.
func (c *Client) ListMessages(
	ctx context.Context, folder string, opts ListOptions,
) (summaries []*model.MessageSummaryV1, err error) {
	q := url.Values{}
	if opts.Limit != 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	for name, set := range map[string]bool{
		"starred":     opts.Starred,
		"unread":      opts.Unread,
		"attachments": opts.Attachments,
	} {
		if set {
			q.Set(name, "true")
		}
	}
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.Format(time.RFC3339))
	}
	if !opts.Before.IsZero() {
		q.Set("before", opts.Before.Format(time.RFC3339))
	}
	uri := folderURI(folder) + "/messages"
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	err = c.doJSON(ctx, "GET", uri, nil, &summaries)
	return
}

// GetMessage returns the message details given a folder and message ID.
func (c *Client) GetMessage(ctx context.Context, folder string, id uint32) (msg *model.MessageV1, err error) {
	err = c.doJSON(ctx, "GET", messageURI(folder, id), nil, &msg)
	return
}

// GetMessageSource returns the message source given a folder and message ID.
func (c *Client) GetMessageSource(ctx context.Context, folder string, id uint32) (*bytes.Buffer, error) {
	resp, err := c.do(ctx, "GET", messageURI(folder, id)+"/source", nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	return buf, err
}

// SetFlags changes the read or starred flags of a message, returning the updated message.
func (c *Client) SetFlags(
	ctx context.Context, folder string, id uint32, change model.FlagChangeV1,
) (msg *model.MessageV1, err error) {
	err = c.doJSON(ctx, "PATCH", messageURI(folder, id), &change, &msg)
	return
}

// MoveMessage moves a message to another folder, returning its new location.
func (c *Client) MoveMessage(
	ctx context.Context, folder string, id uint32, to string,
) (loc *model.LocationV1, err error) {
	err = c.doJSON(ctx, "POST", messageURI(folder, id)+"/move", &model.MoveRequestV1{To: to}, &loc)
	return
}

// ArchiveMessage moves a message to the archive folder, returning its new location.
func (c *Client) ArchiveMessage(ctx context.Context, folder string, id uint32) (loc *model.LocationV1, err error) {
	err = c.doJSON(ctx, "POST", messageURI(folder, id)+"/archive", nil, &loc)
	return
}

// DeleteMessage moves a message to the trash and returns its new location.  Messages already in
// the trash are deleted permanently, and a nil location is returned.
func (c *Client) DeleteMessage(ctx context.Context, folder string, id uint32) (*model.LocationV1, error) {
	var resp struct {
		model.LocationV1
		model.DeletedV1
	}
	if err := c.doJSON(ctx, "DELETE", messageURI(folder, id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Deleted {
		return nil, nil
	}
	return &resp.LocationV1, nil
}

// Send composes and submits a message.
func (c *Client) Send(ctx context.Context, req *model.SendRequestV1) (resp *model.SendResponseV1, err error) {
	err = c.doJSON(ctx, "POST", "/api/v1/messages", req, &resp)
	return
}

// Diagnostics returns recent activity for the account, oldest first.
func (c *Client) Diagnostics(ctx context.Context) (entries []*model.ActivityEntryV1, err error) {
	err = c.doJSON(ctx, "GET", "/api/v1/diagnostics", nil, &entries)
	return
}

func folderURI(folder string) string {
	return "/api/v1/folders/" + url.PathEscape(folder)
}

func messageURI(folder string, id uint32) string {
	return folderURI(folder) + "/messages/" + strconv.FormatUint(uint64(id), 10)
}
