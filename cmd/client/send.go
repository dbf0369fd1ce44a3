package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/inbucket/mailgate/pkg/rest/model"
)

type sendCmd struct {
	to      string
	cc      string
	subject string
	html    bool
}

func (*sendCmd) Name() string {
	return "send"
}

func (*sendCmd) Synopsis() string {
	return "send a message read from stdin"
}

func (*sendCmd) Usage() string {
	return `send [flags]:
	send a message, the body is read from stdin
`
}

func (s *sendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.to, "to", "", "comma separated recipient addresses")
	f.StringVar(&s.cc, "cc", "", "comma separated CC addresses")
	f.StringVar(&s.subject, "subject", "", "message subject")
	f.BoolVar(&s.html, "html", false, "body is HTML")
}

func (s *sendCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if s.to == "" {
		return usage("-to required")
	}
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fatal("Reading body failed", err)
	}

	c, closeFn, err := connect(ctx)
	if err != nil {
		return fatal("Connect failed", err)
	}
	defer closeFn()

	resp, err := c.Send(ctx, &model.SendRequestV1{
		To:      splitList(s.to),
		CC:      splitList(s.cc),
		Subject: s.subject,
		Body:    string(body),
		HTML:    s.html,
	})
	if err != nil {
		return fatal("Send REST call failed", err)
	}
	fmt.Println(resp.MessageID)
	return subcommands.ExitSuccess
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
