package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/blobsign/internal/config"
	"github.com/tomasbasham/blobsign/internal/identity"
	"github.com/tomasbasham/blobsign/internal/retry"
	"github.com/tomasbasham/blobsign/internal/sas"
	"github.com/tomasbasham/blobsign/internal/server"
)

type ServeOptions struct {
	cfg *config.Config
	log *logrus.Logger

	Account         string
	Container       string
	ClientID        string
	Port            int
	MaxTokenMinutes int
	AllowedOrigins  []string
	StrictStartup   bool
	Verbose         bool
}

var (
	serveLong = templates.LongDesc(`
		Start the SAS token issuance HTTP API.

		The process identity is resolved once at startup, trying an explicit
		user-assigned managed identity, the ambient system-assigned identity,
		then a local az CLI session. A delegation self-check runs before the
		server accepts traffic so that missing role grants are reported at
		boot rather than on the first user request.`)

	serveExample = templates.Examples(`
		# Serve against a storage account using the ambient identity
		blobsign serve --account mystorageaccount

		# Use a specific user-assigned managed identity and allow a browser origin
		blobsign serve --account mystorageaccount --client-id 5f9a… --allowed-origin https://app.example.com`)
)

func NewServeOptions() *ServeOptions {
	return &ServeOptions{}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the SAS token issuance HTTP API",
		Long:    serveLong,
		Example: serveExample,
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

	cmd.Flags().StringVarP(&o.Account, "account", "a", "", "Storage account name (or AZURE_STORAGE_ACCOUNT_NAME)")
	cmd.Flags().StringVarP(&o.Container, "container", "c", "", "Default container for tokens and listings")
	cmd.Flags().StringVar(&o.ClientID, "client-id", "", "Client ID of a user-assigned managed identity")
	cmd.Flags().IntVarP(&o.Port, "port", "p", 0, "Port to listen on")
	cmd.Flags().IntVar(&o.MaxTokenMinutes, "max-token-minutes", 0, "Ceiling on caller-requested token durations")
	cmd.Flags().StringSliceVar(&o.AllowedOrigins, "allowed-origin", nil, "Browser origin allowed cross-origin access (repeatable)")
	cmd.Flags().BoolVar(&o.StrictStartup, "strict-startup", false, "Exit if the startup delegation self-check fails")
	cmd.Flags().BoolVarP(&o.Verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

// Complete assembles the configuration from the environment, then lets flags
// override individual values.
func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	if o.Account != "" {
		cfg.AccountName = o.Account
	}
	if o.Container != "" {
		cfg.Container = o.Container
	}
	if o.ClientID != "" {
		cfg.ClientID = o.ClientID
	}
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.MaxTokenMinutes != 0 {
		cfg.MaxTokenMinutes = o.MaxTokenMinutes
	}
	if len(o.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = o.AllowedOrigins
	}
	if o.StrictStartup {
		cfg.StrictStartup = true
	}
	o.cfg = cfg

	o.log = logrus.New()
	if o.Verbose {
		o.log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func (o *ServeOptions) Validate() error {
	return o.cfg.Validate()
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := o.cfg

	provider := identity.NewProvider(cfg.ClientID, o.log)
	credential, err := provider.Credential(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve a storage credential: %w", err)
	}

	service, err := sas.NewBlobService(cfg.BlobEndpoint(), credential)
	if err != nil {
		return err
	}

	issuer := sas.NewIssuer(
		cfg.AccountName,
		cfg.BlobEndpoint(),
		cfg.Container,
		time.Duration(cfg.MaxTokenMinutes)*time.Minute,
		service,
		service,
		o.log,
	)

	// Verify the identity can actually mint delegation keys before taking
	// traffic. Outside strict mode a failure is logged loudly but does not
	// block startup, so non-production configurations still come up.
	checkPolicy := retry.Policy{Attempts: 3, Delay: 2 * time.Second, Multiplier: 2}
	err = retry.Do(ctx, checkPolicy, func() (bool, error) {
		return true, issuer.SelfCheck(ctx)
	})
	if err != nil {
		if cfg.StrictStartup {
			return fmt.Errorf("startup delegation self-check failed: %w", err)
		}
		o.log.WithError(err).WithField("account", cfg.AccountName).
			Error("startup delegation self-check failed; token issuance will fail until this is fixed")
	}

	srv := server.New(issuer, provider.Method(), cfg.AllowedOrigins, o.log)

	addr := fmt.Sprintf(":%d", cfg.Port)
	o.log.WithFields(logrus.Fields{
		"addr":      addr,
		"account":   cfg.AccountName,
		"container": cfg.Container,
		"identity":  provider.Method(),
	}).Info("starting token issuance server")
	return srv.ListenAndServe(addr)
}
