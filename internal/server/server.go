// Package server provides the HTTP API for SAS token issuance.
//
// Endpoints:
//
//	GET /api/sas?file=&container=&permission=&timerange= — mint a write-scoped upload URL
//	GET /api/list?container=                             — list blobs with read-scoped display URLs
//	GET /api/status                                      — diagnostic configuration summary
//	GET /health                                          — liveness probe
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/blobsign/internal/sas"
)

// TokenIssuer is the issuance surface the handlers depend on. The production
// implementation is *sas.Issuer; tests substitute a fake.
type TokenIssuer interface {
	Issue(ctx context.Context, req sas.TokenRequest) (*sas.Token, error)
	List(ctx context.Context, container string) ([]sas.Entry, error)
	Account() string
	DefaultContainer() string
}

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	issuer  TokenIssuer
	log     *logrus.Logger
	handler http.Handler

	// authMethod is reported by /api/status for diagnosability.
	authMethod string
}

// New creates a Server wired to the given issuer. allowedOrigins is the CORS
// allow-list for the browser client; empty disables cross-origin access.
func New(issuer TokenIssuer, authMethod string, allowedOrigins []string, log *logrus.Logger) *Server {
	s := &Server{
		issuer:     issuer,
		log:        log,
		authMethod: authMethod,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sas", s.handleIssueToken)
	mux.HandleFunc("GET /api/list", s.handleList)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.handler = requestLogging(log, cors(allowedOrigins, mux))
	return s
}

// Handler exposes the fully wired handler chain, primarily for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

// tokenResponse is returned from GET /api/sas.
type tokenResponse struct {
	URL       string    `json:"url"`
	StartsOn  time.Time `json:"startsOn"`
	ExpiresOn time.Time `json:"expiresOn"`
}

// listResponse is returned from GET /api/list. Each entry carries an
// independently read-signed display URL.
type listResponse struct {
	List []sas.Entry `json:"list"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := sas.TokenRequest{
		BlobName:  q.Get("file"),
		Container: q.Get("container"),
	}
	if req.BlobName == "" {
		writeError(w, http.StatusBadRequest, sas.ErrMissingBlobName.Error(), "")
		return
	}

	if code := q.Get("permission"); code != "" {
		perms, err := sas.ParsePermissions(code)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid permission parameter: %s", err), "")
			return
		}
		// The upload route never signs wider than create+write, no matter
		// what the caller asks for.
		if !perms.SubsetOf(sas.UploadPolicy) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Permission %q exceeds this endpoint's policy (allowed: %s)", code, sas.UploadPolicy), "")
			return
		}
		req.Permissions = perms
	}

	if timerange := q.Get("timerange"); timerange != "" {
		minutes, err := strconv.Atoi(timerange)
		if err != nil || minutes <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid timerange parameter: %q", timerange), "")
			return
		}
		req.Duration = time.Duration(minutes) * time.Minute
	}

	token, err := s.issuer.Issue(r.Context(), req)
	if err != nil {
		s.writeIssuerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		URL:       token.URL,
		StartsOn:  token.StartsOn,
		ExpiresOn: token.ExpiresOn,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.issuer.List(r.Context(), r.URL.Query().Get("container"))
	if err != nil {
		s.writeIssuerError(w, err)
		return
	}
	if entries == nil {
		entries = []sas.Entry{}
	}
	writeJSON(w, http.StatusOK, listResponse{List: entries})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"storageAccount": s.issuer.Account(),
		"container":      s.issuer.DefaultContainer(),
		"authMethod":     s.authMethod,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeIssuerError maps the issuer's error taxonomy onto HTTP responses. The
// generic message stays stable per class; the details field carries the full
// classified error text for diagnosability.
func (s *Server) writeIssuerError(w http.ResponseWriter, err error) {
	var inputErr *sas.InputError
	if errors.As(err, &inputErr) {
		writeError(w, http.StatusBadRequest, inputErr.Msg, "")
		return
	}

	var (
		delegationErr *sas.DelegationDeniedError
		networkErr    *sas.NetworkPolicyError
	)
	switch {
	case errors.As(err, &delegationErr):
		writeError(w, http.StatusInternalServerError, "Identity cannot issue delegated access tokens", err.Error())
	case errors.As(err, &networkErr):
		writeError(w, http.StatusInternalServerError, "Storage network rules rejected the request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Storage request failed", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
