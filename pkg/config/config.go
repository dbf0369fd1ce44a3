package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "mailgate"
	tableFormat = `mailgate is configured via the environment. The following environment
variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// TLSMode describes how a client connection is secured.
type TLSMode string

// TLS modes.
const (
	TLSImplicit TLSMode = "implicit"
	TLSStartTLS TLSMode = "starttls"
)

// Decode implements envconfig.Decoder.
func (m *TLSMode) Decode(value string) error {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case TLSImplicit, TLSStartTLS:
		*m = mode
		return nil
	}
	return fmt.Errorf("unknown TLS mode %q, expected implicit or starttls", value)
}

// Root wraps all other configurations.
type Root struct {
	LogLevel string `required:"true" default:"info" desc:"debug, info, warn, or error"`
	Remote   Remote
	IMAP     IMAP
	SMTP     SMTP
	Session  Session
	Folders  Folders
	Reader   Reader
	Web      Web
	Lua      Lua
}

// Remote selects the mail server backend.
type Remote struct {
	Backend string `required:"true" default:"imap" desc:"imap or memory (demo mode)"`
}

// IMAP contains the mailbox retrieval client configuration.
type IMAP struct {
	Addr               string        `required:"true" default:"localhost:993" desc:"IMAP server host:port"`
	TLS                TLSMode       `required:"true" default:"implicit" desc:"implicit or starttls"`
	InsecureSkipVerify bool          `default:"false" desc:"Skip TLS certificate verification"`
	ConnectTimeout     time.Duration `required:"true" default:"5s" desc:"Connect and login time bound"`
	OpTimeout          time.Duration `required:"true" default:"30s" desc:"Per operation time bound"`
	Debug              bool          `default:"false" desc:"Log IMAP protocol traffic"`
}

// SMTP contains the mail submission client configuration.
type SMTP struct {
	Addr               string        `required:"true" default:"localhost:465" desc:"SMTP server host:port"`
	TLS                TLSMode       `required:"true" default:"implicit" desc:"implicit or starttls"`
	InsecureSkipVerify bool          `default:"false" desc:"Skip TLS certificate verification"`
	Timeout            time.Duration `required:"true" default:"30s" desc:"Submission time bound"`
	LocalName          string        `required:"true" default:"localhost" desc:"HELO/EHLO name"`
}

// Session contains the session manager configuration.
type Session struct {
	IdleTimeout time.Duration `required:"true" default:"30m" desc:"Idle time before a session expires"`
}

// Folders contains the mailbox resolver configuration.
type Folders struct {
	Provider string            `required:"true" default:"generic" desc:"generic, gmail, outlook, or icloud"`
	Map      map[string]string `desc:"Folder overrides, ex: spam:Junk|Spam,sent:Sent Items"`
}

// Reader contains message reader tuning.
type Reader struct {
	SnippetLength int `required:"true" default:"100" desc:"Characters of body in list snippets"`
	SnippetBytes  int `required:"true" default:"2048" desc:"Bytes of body fetched for snippets"`
}

// Web contains the HTTP server configuration.
type Web struct {
	Addr               string `required:"true" default:"0.0.0.0:9100" desc:"Web server IP4 host:port"`
	BasePath           string `default:"" desc:"Base path prefix for API URLs"`
	ListLimit          int    `required:"true" default:"50" desc:"Default messages per list request"`
	DiagnosticsHistory int    `required:"true" default:"100" desc:"Diagnostic entries remembered"`
	CORSOrigin         string `default:"" desc:"Allowed browser origin for API requests"`
}

// Lua contains the Lua extension host configuration.
type Lua struct {
	Path string `default:"mailgate.lua" desc:"Lua script path"`
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	err := envconfig.Process(prefix, c)
	return c, err
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}
