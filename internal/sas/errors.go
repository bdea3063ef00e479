package sas

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// InputError marks a caller mistake — a missing or invalid request value.
// Handlers map it to a 4xx response and no store call is ever made for it.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// ErrMissingBlobName is returned when a token is requested without a blob
// name. The message text is part of the API contract.
var ErrMissingBlobName = &InputError{Msg: "Missing required parameter: file"}

// DelegationDeniedError means the resolved identity cannot obtain a user
// delegation key. This is operator-actionable: the identity needs a role
// grant on the storage account, most commonly Storage Blob Data Contributor.
type DelegationDeniedError struct {
	Account    string
	Underlying error
}

func (e *DelegationDeniedError) Error() string {
	return fmt.Sprintf("sas: identity is not authorized to obtain a user delegation key on account %q; "+
		"grant it the Storage Blob Data Contributor role (or another role carrying "+
		"Microsoft.Storage/storageAccounts/blobServices/generateUserDelegationKey): %v",
		e.Account, e.Underlying)
}

func (e *DelegationDeniedError) Unwrap() error { return e.Underlying }

// NetworkPolicyError means the storage account's network rules rejected the
// call. This is regularly mistaken for a role-assignment problem, so the
// message points at the firewall explicitly.
type NetworkPolicyError struct {
	Account    string
	Underlying error
}

func (e *NetworkPolicyError) Error() string {
	return fmt.Sprintf("sas: storage account %q refused the request at the network level; "+
		"role assignments are not the cause — check the account's firewall and virtual "+
		"network rules allow this caller's address: %v", e.Account, e.Underlying)
}

func (e *NetworkPolicyError) Unwrap() error { return e.Underlying }

// UpstreamError wraps any other storage-side failure, preserving the upstream
// error text for the response details field.
type UpstreamError struct {
	Op         string
	Account    string
	Underlying error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("sas: %s failed against account %q: %v", e.Op, e.Account, e.Underlying)
}

func (e *UpstreamError) Unwrap() error { return e.Underlying }

// Storage error codes that matter for classification. The SDK does not name
// these two as constants.
const (
	serviceCodePermissionMismatch = azblob.ServiceCodeType("AuthorizationPermissionMismatch")
	serviceCodeAuthzFailure       = azblob.ServiceCodeType("AuthorizationFailure")
)

// classifyStorageError maps a storage SDK error onto the issuer taxonomy.
// AuthorizationPermissionMismatch is an RBAC gap on the identity, while
// AuthorizationFailure on an otherwise valid token is what the service
// returns when network rules block the caller. The two must never be
// conflated: they have different fixes and different owners.
func classifyStorageError(op, account string, err error) error {
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		switch storageErr.ServiceCode() {
		case serviceCodePermissionMismatch, azblob.ServiceCodeInsufficientAccountPermissions:
			return &DelegationDeniedError{Account: account, Underlying: err}
		case serviceCodeAuthzFailure:
			return &NetworkPolicyError{Account: account, Underlying: err}
		}
		if resp := storageErr.Response(); resp != nil && resp.StatusCode == http.StatusForbidden {
			// 403 without a recognised service code: attribute to authz
			// rather than network so the operator checks roles first.
			return &DelegationDeniedError{Account: account, Underlying: err}
		}
	}
	return &UpstreamError{Op: op, Account: account, Underlying: err}
}
