// Package main implements a command line client for the mailgate REST API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"

	"github.com/google/subcommands"
	"github.com/inbucket/mailgate/pkg/rest/client"
)

var host = flag.String("host", "localhost", "host/IP of mailgate server")
var port = flag.Uint("port", 9100, "HTTP port of mailgate server")
var email = flag.String("email", os.Getenv("MAILGATE_EMAIL"), "account email address")

// Passwords are only read from the environment to keep them out of process listings.
const passwordEnv = "MAILGATE_PASSWORD"

// Allow subcommands to accept regular expressions as flags
type regexFlag struct {
	*regexp.Regexp
}

func (r *regexFlag) Defined() bool {
	return r.Regexp != nil
}

func (r *regexFlag) Set(pattern string) error {
	if pattern == "" {
		r.Regexp = nil
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.Regexp = re
	return nil
}

func (r *regexFlag) String() string {
	if r.Regexp == nil {
		return ""
	}
	return r.Regexp.String()
}

// regexFlag must implement flag.Value
var _ flag.Value = &regexFlag{}

func main() {
	// Important top-level flags
	subcommands.ImportantFlag("host")
	subcommands.ImportantFlag("port")
	subcommands.ImportantFlag("email")

	// Setup standard helpers
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	// Setup my commands
	subcommands.Register(&foldersCmd{}, "")
	subcommands.Register(&listCmd{}, "")
	subcommands.Register(&matchCmd{}, "")
	subcommands.Register(&mboxCmd{}, "")
	subcommands.Register(&sendCmd{}, "")

	// Parse and execute
	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

func baseURL() string {
	return "http://" + net.JoinHostPort(*host, strconv.FormatUint(uint64(*port), 10))
}

// connect opens a session for the configured account.  The returned func closes it.
func connect(ctx context.Context) (*client.Client, func(), error) {
	if *email == "" {
		return nil, nil, errors.New("-email or MAILGATE_EMAIL required")
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		return nil, nil, fmt.Errorf("%s required", passwordEnv)
	}
	c, err := client.New(baseURL())
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.Connect(ctx, *email, password); err != nil {
		return nil, nil, err
	}
	return c, func() {
		if err := c.Disconnect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Disconnect failed: %v\n", err)
		}
	}, nil
}

func fatal(msg string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
