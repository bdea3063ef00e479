package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/go-autorest/autorest/adal"

	"github.com/tomasbasham/blobsign/internal/retry"
)

// defaultIMDSEndpoint is the Azure instance metadata service token endpoint,
// reachable only from inside the hosting platform.
const defaultIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

const (
	imdsAPIVersion  = "2018-02-01"
	storageResource = "https://storage.azure.com"
)

// imdsRetryPolicy follows the documented IMDS retry guidance: up to five
// attempts with a short backoff.
var imdsRetryPolicy = retry.Policy{
	Attempts:   5,
	Delay:      500 * time.Millisecond,
	Multiplier: 2,
}

// imdsError carries the IMDS response status so callers can distinguish "no
// identity assigned" (404) from transient failures.
type imdsError struct {
	StatusCode int
	Body       string
}

func (e *imdsError) Error() string {
	return fmt.Sprintf("identity: IMDS token request failed with status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the IMDS error is worth another attempt, per the
// platform's guidance (404, 429 and 5xx are retryable).
func (e *imdsError) retryable() bool {
	switch {
	case e.StatusCode == http.StatusNotFound, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// fetchIMDSToken requests a storage-scoped access token from the instance
// metadata service. clientID selects a user-assigned managed identity; empty
// means the system-assigned identity.
func fetchIMDSToken(ctx context.Context, client *http.Client, endpoint, clientID string) (adal.Token, error) {
	var token adal.Token
	err := retry.Do(ctx, imdsRetryPolicy, func() (bool, error) {
		var err error
		token, err = requestIMDSToken(ctx, client, endpoint, clientID)
		if imdsErr, ok := err.(*imdsError); ok {
			return imdsErr.retryable(), err
		}
		return err != nil, err
	})
	return token, err
}

func requestIMDSToken(ctx context.Context, client *http.Client, endpoint, clientID string) (adal.Token, error) {
	var token adal.Token

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return token, fmt.Errorf("identity: failed to build IMDS request: %w", err)
	}

	q := url.Values{}
	q.Set("api-version", imdsAPIVersion)
	q.Set("resource", storageResource)
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Metadata", "true")

	resp, err := client.Do(req)
	if err != nil {
		return token, fmt.Errorf("identity: IMDS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return token, fmt.Errorf("identity: failed to read IMDS response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return token, &imdsError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, &token); err != nil {
		return token, fmt.Errorf("identity: failed to decode IMDS token: %w", err)
	}
	return token, nil
}
