package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/blobsign/internal/client"
)

type UploadOptions struct {
	content []byte

	FilePath  string
	BlobName  string
	Server    string
	Container string

	iooption.IOStreams
}

var (
	uploadLong = templates.LongDesc(`
		Upload a file directly to storage using a freshly minted write-scoped
		signed URL. The file bytes never pass through the issuer: the token is
		requested from the API, then the content is PUT straight against the
		storage endpoint. After a successful upload the current listing is
		refreshed and printed.`)

	uploadExample = templates.Examples(`
		# Upload a file under its own name
		blobsign upload ./photo.png

		# Upload under a different blob name to a specific container
		blobsign upload ./photo.png --name holiday.png --container images`)
)

func NewUploadOptions(streams iooption.IOStreams) *UploadOptions {
	return &UploadOptions{
		IOStreams: streams,
	}
}

func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload [file]",
		DisableFlagsInUseLine: true,
		Short:                 "Upload a file to storage via a write-scoped signed URL",
		Long:                  uploadLong,
		Example:               uploadExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.Server, "server", "s", "http://localhost:8080", "Base URL of the token issuance API")
	cmd.Flags().StringVarP(&o.BlobName, "name", "n", "", "Blob name to upload as (default: the file's base name)")
	cmd.Flags().StringVarP(&o.Container, "container", "c", "", "Container to list after upload (default: the server's default)")

	return cmd
}

func (o *UploadOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("file is required")
	}
	o.FilePath = args[0]
	if o.BlobName == "" {
		o.BlobName = filepath.Base(o.FilePath)
	}
	return nil
}

func (o *UploadOptions) Validate() error {
	content, err := os.ReadFile(o.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	o.content = content
	return nil
}

func (o *UploadOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(o.Server, nil)
	session.SelectFile(o.BlobName, o.content)

	fmt.Fprintf(o.Out, "Requesting upload token for %s...\n", o.BlobName)
	if err := session.RequestUploadToken(ctx); err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "Uploading %s (%d bytes)...\n", o.BlobName, len(o.content))
	if err := session.Upload(ctx); err != nil {
		return err
	}

	entries, err := session.RefreshListing(ctx, o.Container)
	if err != nil {
		fmt.Fprintln(o.ErrOut, "Upload succeeded but the listing refresh failed")
		return err
	}

	fmt.Fprintf(o.Out, "Upload complete. %d blob(s) in container:\n", len(entries))
	printListing(o.Out, entries)
	return nil
}
