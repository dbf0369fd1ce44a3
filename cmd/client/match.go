package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailgate/pkg/rest/client"
	"github.com/inbucket/mailgate/pkg/rest/model"
)

type matchCmd struct {
	output string
	delete bool
	// match criteria
	from    regexFlag
	subject regexFlag
	to      regexFlag
	maxAge  time.Duration
	now     func() time.Time
}

func (*matchCmd) Name() string {
	return "match"
}

func (*matchCmd) Synopsis() string {
	return "output messages matching criteria"
}

func (*matchCmd) Usage() string {
	return `match [flags] <folder>:
	output messages matching all specified criteria
	exit status will be 1 if no matches were found, otherwise 0
`
}

func (m *matchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.output, "output", "id", "output format: id, json, or mbox")
	f.BoolVar(&m.delete, "delete", false, "delete matched messages after output")
	f.Var(&m.from, "from", "sender matching regexp (address, not name)")
	f.Var(&m.subject, "subject", "Subject header matching regexp")
	f.Var(&m.to, "to", "To header matching regexp (must match 1+ to address)")
	f.DurationVar(
		&m.maxAge, "maxage", 0,
		"Matches must have been received in this time frame (ex: \"10s\", \"5m\")")
}

func (m *matchCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	folder := f.Arg(0)
	if folder == "" {
		return usage("folder required")
	}
	switch m.output {
	case "id", "json", "mbox":
	default:
		return usage("unknown output type: " + m.output)
	}

	c, closeFn, err := connect(ctx)
	if err != nil {
		return fatal("Connect failed", err)
	}
	defer closeFn()

	// Get list
	summaries, err := c.ListMessages(ctx, folder, client.ListOptions{})
	if err != nil {
		return fatal("List REST call failed", err)
	}
	matches := m.filter(summaries)
	// Return error status if no matches
	if len(matches) == 0 {
		return subcommands.ExitFailure
	}
	// Output matches
	switch m.output {
	case "id":
		err = outputID(os.Stdout, matches)
	case "json":
		err = outputJSON(os.Stdout, matches)
	case "mbox":
		err = outputMbox(ctx, os.Stdout, c, folder, matches)
	}
	if err != nil {
		return fatal("Error", err)
	}
	if m.delete {
		if err := deleteAll(ctx, c, folder, matches); err != nil {
			return fatal("Delete REST call failed", err)
		}
	}
	return subcommands.ExitSuccess
}

// filter returns the summaries matching all defined criteria, in order.
func (m *matchCmd) filter(summaries []*model.MessageSummaryV1) []*model.MessageSummaryV1 {
	matches := make([]*model.MessageSummaryV1, 0, len(summaries))
	for _, s := range summaries {
		if m.match(s) {
			matches = append(matches, s)
		}
	}
	return matches
}

// match returns true if summary matches all defined criteria
func (m *matchCmd) match(s *model.MessageSummaryV1) bool {
	if m.maxAge > 0 {
		now := time.Now
		if m.now != nil {
			now = m.now
		}
		if s.DateSynthetic || now().Sub(s.Timestamp) > m.maxAge {
			return false
		}
	}
	if m.subject.Defined() {
		if !m.subject.MatchString(s.Subject) {
			return false
		}
	}
	if m.from.Defined() {
		if !m.from.MatchString(s.Sender.Address) {
			return false
		}
	}
	if m.to.Defined() {
		match := false
		for _, to := range s.To {
			if m.to.MatchString(to.Address) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func outputID(w io.Writer, summaries []*model.MessageSummaryV1) error {
	for _, s := range summaries {
		if _, err := fmt.Fprintln(w, s.ID); err != nil {
			return err
		}
	}
	return nil
}

func outputJSON(w io.Writer, summaries []*model.MessageSummaryV1) error {
	jsonEncoder := json.NewEncoder(w)
	jsonEncoder.SetEscapeHTML(false)
	jsonEncoder.SetIndent("", "  ")
	return jsonEncoder.Encode(summaries)
}
