// Package client implements the upload/list side of the token exchange: it
// requests a write-scoped signed URL from the issuer API, PUTs file content
// directly against storage, and refreshes the blob listing. Each upload
// attempt moves through a linear lifecycle:
//
//	Idle → FileSelected → TokenRequested → TokenReceived → Uploading → Uploaded → ListRefreshed
//
// with Failed reachable from any step. Selecting a new file resets the
// session and discards any previously received token; a token is never
// reused across a different file selection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// State is the lifecycle position of an upload session.
type State string

const (
	StateIdle           State = "idle"
	StateFileSelected   State = "file_selected"
	StateTokenRequested State = "token_requested"
	StateTokenReceived  State = "token_received"
	StateUploading      State = "uploading"
	StateUploaded       State = "uploaded"
	StateListRefreshed  State = "list_refreshed"
	StateFailed         State = "failed"
)

// Entry is one blob in a listing, as returned by the issuer's list endpoint.
type Entry struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresOn time.Time `json:"expiresOn"`
}

// imageExtensions are given preview treatment when rendering a listing; all
// other entries display as opaque downloadable names.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// IsImage reports whether a listing entry name has a known image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// Session drives a single-file upload against the issuer API at baseURL.
// Sessions are not safe for concurrent use.
type Session struct {
	baseURL    string
	httpClient *http.Client

	state    State
	fileName string
	content  []byte
	token    string
}

// NewSession creates an idle Session against the issuer API at baseURL, e.g.
// "http://localhost:8080".
func NewSession(baseURL string, httpClient *http.Client) *Session {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Session{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		state:      StateIdle,
	}
}

// State returns the session's current lifecycle position.
func (s *Session) State() State { return s.state }

// Token returns the signed URL held by the session, if any. A failed upload
// keeps its token: it may still be inside its validity window, so the same
// operation can be retried.
func (s *Session) Token() string { return s.token }

// SelectFile stages content for upload under name. Any previously received
// token is discarded, whatever state the session was in.
func (s *Session) SelectFile(name string, content []byte) {
	s.fileName = name
	s.content = content
	s.token = ""
	s.state = StateFileSelected
}

// RequestUploadToken asks the issuer for a write-scoped signed URL for the
// selected file. On a non-success status the error names the status and
// endpoint so the failure can be diagnosed from the client side alone.
func (s *Session) RequestUploadToken(ctx context.Context) error {
	if s.state != StateFileSelected && s.state != StateFailed {
		return fmt.Errorf("client: no file selected")
	}
	if s.fileName == "" {
		return fmt.Errorf("client: no file selected")
	}

	s.state = StateTokenRequested
	endpoint := fmt.Sprintf("%s/api/sas?file=%s", s.baseURL, url.QueryEscape(s.fileName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("client: failed to build token request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("client: token request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.state = StateFailed
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("client: token request to %s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		s.state = StateFailed
		return fmt.Errorf("client: failed to decode token response: %w", err)
	}
	if token.URL == "" {
		s.state = StateFailed
		return fmt.Errorf("client: token response from %s carried no url", endpoint)
	}

	s.token = token.URL
	s.state = StateTokenReceived
	return nil
}

// Upload PUTs the staged content to the signed URL in a single request. There
// is no chunking or resumability: the store accepts whole-object PUT at the
// sizes this client targets. On failure the token is kept for a retry of the
// same operation.
func (s *Session) Upload(ctx context.Context) error {
	if s.state != StateTokenReceived && s.state != StateFailed {
		return fmt.Errorf("client: no upload token held")
	}
	if s.token == "" {
		return fmt.Errorf("client: no upload token held")
	}

	s.state = StateUploading
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.token, bytes.NewReader(s.content))
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("client: failed to build upload request: %w", err)
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.ContentLength = int64(len(s.content))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("client: upload of %q failed: %w", s.fileName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.state = StateFailed
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("client: upload of %q returned status %d: %s", s.fileName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s.state = StateUploaded
	return nil
}

// RefreshListing fetches the current listing for container (empty for the
// server default). Each entry's URL is an independently read-signed display
// URL, never the write token used for upload.
func (s *Session) RefreshListing(ctx context.Context, container string) ([]Entry, error) {
	entries, err := List(ctx, s.httpClient, s.baseURL, container)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	if s.state == StateUploaded {
		s.state = StateListRefreshed
	}
	return entries, nil
}

// List fetches the blob listing without an upload session.
func List(ctx context.Context, httpClient *http.Client, baseURL, container string) ([]Entry, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/api/list"
	if container != "" {
		endpoint += "?container=" + url.QueryEscape(container)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("client: failed to build list request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: list request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("client: list request to %s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var listing struct {
		List []Entry `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("client: failed to decode listing: %w", err)
	}
	return listing.List, nil
}
