package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailgate/pkg/rest/client"
)

type foldersCmd struct{}

func (*foldersCmd) Name() string {
	return "folders"
}

func (*foldersCmd) Synopsis() string {
	return "list folders of the account"
}

func (*foldersCmd) Usage() string {
	return `folders:
	list folder IDs and names
`
}

func (*foldersCmd) SetFlags(f *flag.FlagSet) {}

func (*foldersCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	c, closeFn, err := connect(ctx)
	if err != nil {
		return fatal("Connect failed", err)
	}
	defer closeFn()

	folders, err := c.ListFolders(ctx)
	if err != nil {
		return fatal("REST call failed", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, folder := range folders {
		fmt.Fprintf(tw, "%s\t%s\n", folder.ID, folder.Name)
	}
	if err := tw.Flush(); err != nil {
		return fatal("Error", err)
	}
	return subcommands.ExitSuccess
}

type listCmd struct {
	limit  int
	query  string
	unread bool
	long   bool
}

func (*listCmd) Name() string {
	return "list"
}

func (*listCmd) Synopsis() string {
	return "list contents of folder"
}

func (*listCmd) Usage() string {
	return `list [flags] <folder>:
	list message IDs in folder, newest first
`
}

func (l *listCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&l.limit, "limit", 0, "maximum messages to list (0 for server default)")
	f.StringVar(&l.query, "q", "", "only list messages containing this text")
	f.BoolVar(&l.unread, "unread", false, "only list unread messages")
	f.BoolVar(&l.long, "l", false, "include date, sender and subject")
}

func (l *listCmd) Execute(
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
	summaries, err := c.ListMessages(ctx, folder, client.ListOptions{
		Limit:  l.limit,
		Query:  l.query,
		Unread: l.unread,
	})
	if err != nil {
		return fatal("REST call failed", err)
	}
	if !l.long {
		for _, s := range summaries {
			fmt.Println(s.ID)
		}
		return subcommands.ExitSuccess
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, s := range summaries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			s.ID, s.Timestamp.Local().Format(time.DateTime), s.Sender.Address, s.Subject)
	}
	if err := tw.Flush(); err != nil {
		return fatal("Error", err)
	}
	return subcommands.ExitSuccess
}
