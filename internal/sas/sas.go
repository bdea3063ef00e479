// Package sas issues short-lived shared access signature URLs for blobs,
// signed with a user delegation key rather than an account key. The issuer is
// stateless: it keeps no record of the tokens it mints, and every access
// decision is made store-side when a token is presented.
package sas

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/sirupsen/logrus"
)

// Default validity windows per operation class. Write tokens are short-lived
// because the client uses them immediately; read tokens back a listing that
// may be rendered for a while.
const (
	DefaultWriteDuration = 10 * time.Minute
	DefaultReadDuration  = 60 * time.Minute
)

// upstreamTimeout bounds the delegation-key and listing calls, the only
// external dependencies on the issuance path.
const upstreamTimeout = 10 * time.Second

// TokenRequest describes a single token to mint.
type TokenRequest struct {
	// Container holds the target blob. Empty selects the issuer's default.
	Container string

	// BlobName is the target object name. Required.
	BlobName string

	// Permissions to encode in the token. Empty defaults to write-only.
	Permissions Permissions

	// Duration of the validity window. Zero defaults per the permission
	// class; any value is clamped to the issuer's configured ceiling.
	Duration time.Duration
}

// Token is a minted signed URL together with the window and scope it encodes.
// The URL is valid precisely until ExpiresOn, independent of this process.
type Token struct {
	URL         string      `json:"url"`
	Permissions Permissions `json:"-"`
	StartsOn    time.Time   `json:"startsOn"`
	ExpiresOn   time.Time   `json:"expiresOn"`
}

// Entry is one blob in a listing, paired with a freshly minted read-scoped
// display URL. The display URL is always distinct from any write-scoped URL
// ever issued for the same name.
type Entry struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresOn time.Time `json:"expiresOn"`
}

// DelegationKeySource obtains a user delegation credential valid for a given
// window. The production implementation calls the storage service; tests
// supply a static key.
type DelegationKeySource interface {
	DelegationKey(ctx context.Context, start, expiry time.Time) (azblob.UserDelegationCredential, error)
}

// Lister enumerates blob names in a container.
type Lister interface {
	ListBlobNames(ctx context.Context, container string) ([]string, error)
}

// Issuer mints delegation-key-signed blob URLs.
type Issuer struct {
	account          string
	endpoint         string
	defaultContainer string
	maxDuration      time.Duration

	keys   DelegationKeySource
	lister Lister
	log    *logrus.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewIssuer creates an Issuer for the given account endpoint, e.g.
// "https://myaccount.blob.core.windows.net".
func NewIssuer(account, endpoint, defaultContainer string, maxDuration time.Duration, keys DelegationKeySource, lister Lister, log *logrus.Logger) *Issuer {
	return &Issuer{
		account:          account,
		endpoint:         endpoint,
		defaultContainer: defaultContainer,
		maxDuration:      maxDuration,
		keys:             keys,
		lister:           lister,
		log:              log,
		now:              time.Now,
	}
}

// Issue mints a signed URL for the requested blob. Input violations return an
// *InputError before any store call; store failures come back classified.
func (i *Issuer) Issue(ctx context.Context, req TokenRequest) (*Token, error) {
	if req.BlobName == "" {
		return nil, ErrMissingBlobName
	}

	container := req.Container
	if container == "" {
		container = i.defaultContainer
	}

	perms := req.Permissions
	if perms.IsZero() {
		perms = WriteOnly
	}

	duration := req.Duration
	if duration <= 0 {
		duration = DefaultWriteDuration
		if perms.SubsetOf(ReadOnly) {
			duration = DefaultReadDuration
		}
	}
	if duration > i.maxDuration {
		duration = i.maxDuration
	}

	start := i.now().UTC()
	expiry := start.Add(duration)

	keyCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	udc, err := i.keys.DelegationKey(keyCtx, start, expiry)
	if err != nil {
		classified := classifyStorageError("user delegation key request", i.account, err)
		i.logFailure(classified, container, req.BlobName, perms, duration)
		return nil, classified
	}

	signed, err := i.sign(udc, container, req.BlobName, perms, start, expiry)
	if err != nil {
		classified := &UpstreamError{Op: "token signing", Account: i.account, Underlying: err}
		i.logFailure(classified, container, req.BlobName, perms, duration)
		return nil, classified
	}

	return &Token{URL: signed, Permissions: perms, StartsOn: start, ExpiresOn: expiry}, nil
}

// List enumerates the container and mints an independent read-scoped display
// URL for every entry. A single delegation key scoped to the read window is
// reused across entries; each blob still gets its own signature.
func (i *Issuer) List(ctx context.Context, container string) ([]Entry, error) {
	if container == "" {
		container = i.defaultContainer
	}

	listCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	names, err := i.lister.ListBlobNames(listCtx, container)
	if err != nil {
		classified := classifyStorageError("blob listing", i.account, err)
		i.logFailure(classified, container, "", ReadOnly, DefaultReadDuration)
		return nil, classified
	}

	start := i.now().UTC()
	expiry := start.Add(DefaultReadDuration)

	keyCtx, keyCancel := context.WithTimeout(ctx, upstreamTimeout)
	defer keyCancel()

	udc, err := i.keys.DelegationKey(keyCtx, start, expiry)
	if err != nil {
		classified := classifyStorageError("user delegation key request", i.account, err)
		i.logFailure(classified, container, "", ReadOnly, DefaultReadDuration)
		return nil, classified
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		signed, err := i.sign(udc, container, name, ReadOnly, start, expiry)
		if err != nil {
			return nil, &UpstreamError{Op: "token signing", Account: i.account, Underlying: err}
		}
		entries = append(entries, Entry{Name: name, URL: signed, ExpiresOn: expiry})
	}
	return entries, nil
}

// SelfCheck verifies at startup that the identity can actually obtain a user
// delegation key, so operators learn about missing role grants before user
// traffic arrives.
func (i *Issuer) SelfCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	start := i.now().UTC()
	if _, err := i.keys.DelegationKey(checkCtx, start, start.Add(5*time.Minute)); err != nil {
		return classifyStorageError("startup delegation self-check", i.account, err)
	}
	return nil
}

// Account returns the storage account the issuer targets.
func (i *Issuer) Account() string { return i.account }

// DefaultContainer returns the container used when a request names none.
func (i *Issuer) DefaultContainer() string { return i.defaultContainer }

func (i *Issuer) sign(udc azblob.UserDelegationCredential, container, blobName string, perms Permissions, start, expiry time.Time) (string, error) {
	values := azblob.BlobSASSignatureValues{
		Protocol:      azblob.SASProtocolHTTPS,
		StartTime:     start,
		ExpiryTime:    expiry,
		Permissions:   perms.String(),
		ContainerName: container,
		BlobName:      blobName,
	}

	qp, err := values.NewSASQueryParameters(udc)
	if err != nil {
		return "", fmt.Errorf("failed to compute SAS parameters for %q: %w", blobName, err)
	}

	return fmt.Sprintf("%s/%s/%s?%s", i.endpoint, container, url.PathEscape(blobName), qp.Encode()), nil
}

func (i *Issuer) logFailure(err error, container, blobName string, perms Permissions, duration time.Duration) {
	fields := logrus.Fields{
		"account":    i.account,
		"container":  container,
		"permission": perms.String(),
		"duration":   duration.String(),
	}
	if blobName != "" {
		fields["blob"] = blobName
	}
	i.log.WithError(err).WithFields(fields).Error("token issuance failed")
}
