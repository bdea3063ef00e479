package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/blobsign/internal/client"
)

type ListOptions struct {
	Server    string
	Container string

	iooption.IOStreams
}

var listLong = templates.LongDesc(`
	Show the container listing. Every entry's URL is a freshly minted
	read-scoped signed URL, independent of any write token ever issued for
	that name, and valid until the printed expiry.`)

func NewListOptions(streams iooption.IOStreams) *ListOptions {
	return &ListOptions{
		IOStreams: streams,
	}
}

func NewListCommand(o *ListOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "list",
		DisableFlagsInUseLine: true,
		Short:                 "List blobs with read-scoped display URLs",
		Long:                  listLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.Server, "server", "s", "http://localhost:8080", "Base URL of the token issuance API")
	cmd.Flags().StringVarP(&o.Container, "container", "c", "", "Container to list (default: the server's default)")

	return cmd
}

func (o *ListOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entries, err := client.List(ctx, nil, o.Server, o.Container)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "%d blob(s):\n", len(entries))
	printListing(o.Out, entries)
	return nil
}

// printListing renders listing entries, marking known image types for
// preview treatment.
func printListing(w io.Writer, entries []client.Entry) {
	for _, e := range entries {
		kind := "file"
		if client.IsImage(e.Name) {
			kind = "image"
		}
		fmt.Fprintf(w, "  %-7s %s\n          %s\n", kind, e.Name, e.URL)
	}
}
