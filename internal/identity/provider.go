// Package identity resolves an Azure AD credential for the running process.
// Resolution tries, in order: an explicitly configured user-assigned managed
// identity, the ambient system-assigned managed identity, then a locally
// authenticated az CLI session. The first strategy to succeed wins and its
// credential is memoized for the process lifetime; the underlying token is
// refreshed transparently before expiry.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/Azure/go-autorest/autorest/adal"
	"github.com/sirupsen/logrus"
)

// ErrCredentialUnavailable is returned when no resolution strategy produced a
// credential. Callers must treat this as a fatal configuration error at
// startup rather than deferring it to a request handler.
var ErrCredentialUnavailable = errors.New("identity: no credential could be resolved")

// tokenSource re-acquires a token using whichever strategy succeeded first.
type tokenSource func(ctx context.Context) (adal.Token, error)

// Provider resolves and caches the process credential.
type Provider struct {
	clientID     string
	imdsEndpoint string
	httpClient   *http.Client
	log          *logrus.Logger

	once   sync.Once
	cred   azblob.TokenCredential
	method string
	err    error
}

// Option configures a Provider.
type Option func(*Provider)

// WithIMDSEndpoint overrides the instance metadata endpoint. Used in tests.
func WithIMDSEndpoint(endpoint string) Option {
	return func(p *Provider) { p.imdsEndpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client used for IMDS calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// NewProvider creates a Provider. clientID optionally selects a user-assigned
// managed identity; empty falls through to the system-assigned identity and
// then the az CLI.
func NewProvider(clientID string, log *logrus.Logger, opts ...Option) *Provider {
	p := &Provider{
		clientID:     clientID,
		imdsEndpoint: defaultIMDSEndpoint,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		log:          log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Credential returns the process credential, resolving it on first call.
// Subsequent calls return the memoized handle regardless of ctx.
func (p *Provider) Credential(ctx context.Context) (azblob.TokenCredential, error) {
	p.once.Do(func() {
		p.cred, p.method, p.err = p.resolve(ctx)
	})
	return p.cred, p.err
}

// Method reports which resolution strategy produced the credential. Empty
// until Credential has succeeded.
func (p *Provider) Method() string {
	return p.method
}

func (p *Provider) resolve(ctx context.Context) (azblob.TokenCredential, string, error) {
	type strategy struct {
		name   string
		source tokenSource
	}

	var strategies []strategy
	if p.clientID != "" {
		strategies = append(strategies, strategy{
			name: "user-assigned managed identity",
			source: func(ctx context.Context) (adal.Token, error) {
				return fetchIMDSToken(ctx, p.httpClient, p.imdsEndpoint, p.clientID)
			},
		})
	}
	strategies = append(strategies,
		strategy{
			name: "system-assigned managed identity",
			source: func(ctx context.Context) (adal.Token, error) {
				return fetchIMDSToken(ctx, p.httpClient, p.imdsEndpoint, "")
			},
		},
		strategy{
			name:   "azure CLI session",
			source: fetchCLIToken,
		},
	)

	var errs []error
	for _, s := range strategies {
		token, err := s.source(ctx)
		if err != nil {
			p.log.WithError(err).WithField("strategy", s.name).Debug("credential strategy failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		p.log.WithFields(logrus.Fields{
			"strategy":  s.name,
			"expiresOn": token.Expires().Format(time.RFC3339),
		}).Info("credential resolved")
		return p.newRefreshingCredential(token, s.source), s.name, nil
	}
	return nil, "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, errors.Join(errs...))
}

// newRefreshingCredential wraps an initial token in an azblob credential that
// re-resolves one minute before expiry using the winning strategy.
func (p *Provider) newRefreshingCredential(initial adal.Token, source tokenSource) azblob.TokenCredential {
	return azblob.NewTokenCredential(initial.AccessToken, func(credential azblob.TokenCredential) time.Duration {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		refreshed, err := source(ctx)
		if err != nil {
			p.log.WithError(err).Error("credential refresh failed")
			return 0
		}
		credential.SetToken(refreshed.AccessToken)

		// Refresh one minute before expiry; a non-positive interval stops
		// the refresher, so fall back to an immediate stop on clock skew.
		refreshAt := refreshed.Expires().Add(-1 * time.Minute)
		interval := time.Until(refreshAt)
		if interval <= 0 {
			p.log.WithField("expiresOn", refreshed.Expires().Format(time.RFC3339)).
				Warn("refreshed token already near expiry")
			return 0
		}
		p.log.WithFields(logrus.Fields{
			"expiresOn": refreshed.Expires().Format(time.RFC3339),
			"refreshIn": interval.Round(time.Second).String(),
		}).Debug("credential refreshed")
		return interval
	})
}
