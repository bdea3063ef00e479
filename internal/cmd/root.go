package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		blobsign mints short-lived, identity-backed shared access signature
		URLs for an Azure storage account, and uploads files directly to
		storage using them. No account key is ever read or embedded: signing
		uses a user delegation key obtained with the process identity.`)

	rootExamples = templates.Examples(`
		# Start the token issuer API
		blobsign serve --account mystorageaccount

		# Upload a file through a freshly minted write token
		blobsign upload ./photo.png --server http://localhost:8080

		# Show the current listing with read-scoped display URLs
		blobsign list --server http://localhost:8080`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// BlobsignOptions defines the options for the `blobsign` command.
type BlobsignOptions struct {
	iooption.IOStreams
}

// NewBlobsignOptions provides an initialised BlobsignOptions instance.
func NewBlobsignOptions(streams iooption.IOStreams) *BlobsignOptions {
	return &BlobsignOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `blobsign` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewBlobsignOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `blobsign` command and its nested
// children.
func NewRootCommandWithArgs(o *BlobsignOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "blobsign [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Delegated SAS issuance and direct-to-storage upload",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewServeCommand(NewServeOptions()))
	cmd.AddCommand(NewUploadCommand(NewUploadOptions(o.IOStreams)))
	cmd.AddCommand(NewListCommand(NewListOptions(o.IOStreams)))

	// The globlal normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
