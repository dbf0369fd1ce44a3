package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-mbox"
	"github.com/google/subcommands"
	"github.com/inbucket/mailgate/pkg/rest/client"
	"github.com/inbucket/mailgate/pkg/rest/model"
)

// sourceGetter fetches raw message source.
type sourceGetter interface {
	GetMessageSource(ctx context.Context, folder string, id uint32) (*bytes.Buffer, error)
}

type mboxCmd struct {
	delete bool
}

func (*mboxCmd) Name() string {
	return "mbox"
}

func (*mboxCmd) Synopsis() string {
	return "output folder in mbox format"
}

func (*mboxCmd) Usage() string {
	return `mbox [flags] <folder>:
	output folder in mbox format
`
}

func (m *mboxCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.delete, "delete", false, "delete messages after output")
}

func (m *mboxCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	folder := f.Arg(0)
	if folder == "" {
		return usage("folder required")
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
	err = outputMbox(ctx, os.Stdout, c, folder, summaries)
	if err != nil {
		return fatal("Error", err)
	}

	// Optionally, delete retrieved messages
	if m.delete {
		if err := deleteAll(ctx, c, folder, summaries); err != nil {
			return fatal("Delete REST call failed", err)
		}
	}

	return subcommands.ExitSuccess
}

// outputMbox renders messages in mbox format.
// It is also used by match subcommand.
func outputMbox(
	ctx context.Context, w io.Writer, c sourceGetter, folder string, summaries []*model.MessageSummaryV1,
) error {
	mw := mbox.NewWriter(w)
	for _, s := range summaries {
		source, err := c.GetMessageSource(ctx, folder, s.ID)
		if err != nil {
			return fmt.Errorf("get source REST failed: %v", err)
		}

		from := s.Sender.Address
		if from == "" {
			from = "MAILER-DAEMON"
		}
		msgw, err := mw.CreateMessage(from, s.Timestamp)
		if err != nil {
			return err
		}
		if _, err := source.WriteTo(msgw); err != nil {
			return err
		}
	}
	return mw.Close()
}

func deleteAll(ctx context.Context, c *client.Client, folder string, summaries []*model.MessageSummaryV1) error {
	for _, s := range summaries {
		if _, err := c.DeleteMessage(ctx, folder, s.ID); err != nil {
			return err
		}
	}
	return nil
}
