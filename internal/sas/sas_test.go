package sas

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticKeySource hands out a fabricated delegation key so signing can be
// exercised without the storage service.
type staticKeySource struct {
	calls int
	err   error
}

func (s *staticKeySource) DelegationKey(_ context.Context, start, expiry time.Time) (azblob.UserDelegationCredential, error) {
	s.calls++
	if s.err != nil {
		return azblob.UserDelegationCredential{}, s.err
	}
	key := azblob.UserDelegationKey{
		SignedOid:     "b77d5a10-bd43-4d4c-8545-1054a27513a1",
		SignedTid:     "f8b1643d-b5f0-4d74-a49e-3b4611b4433b",
		SignedStart:   start,
		SignedExpiry:  expiry,
		SignedService: "b",
		SignedVersion: "2020-02-10",
		Value:         base64.StdEncoding.EncodeToString([]byte("static-test-delegation-key")),
	}
	return azblob.NewUserDelegationCredential("testaccount", key), nil
}

type staticLister struct {
	names []string
	err   error
}

func (s *staticLister) ListBlobNames(context.Context, string) ([]string, error) {
	return s.names, s.err
}

// fakeStorageError satisfies azblob.StorageError for classification tests.
type fakeStorageError struct {
	code azblob.ServiceCodeType
	resp *http.Response
}

func (e *fakeStorageError) Error() string                       { return string(e.code) }
func (e *fakeStorageError) Timeout() bool                       { return false }
func (e *fakeStorageError) Temporary() bool                     { return false }
func (e *fakeStorageError) Response() *http.Response            { return e.resp }
func (e *fakeStorageError) ServiceCode() azblob.ServiceCodeType { return e.code }

func newTestIssuer(keys DelegationKeySource, lister Lister) *Issuer {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewIssuer("testaccount", "https://testaccount.blob.core.windows.net", "upload", 60*time.Minute, keys, lister, log)
}

func sasQuery(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query()
}

func sasTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(azblob.SASTimeFormat, value)
	require.NoError(t, err)
	return parsed
}

func TestIssueSignedURLShape(t *testing.T) {
	issuer := newTestIssuer(&staticKeySource{}, &staticLister{})

	token, err := issuer.Issue(context.Background(), TokenRequest{BlobName: "test.txt"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token.URL, "https://testaccount.blob.core.windows.net/upload/test.txt?"))

	q := sasQuery(t, token.URL)
	assert.NotEmpty(t, q.Get("sv"))
	assert.Equal(t, "b", q.Get("sr"))
	assert.Equal(t, "w", q.Get("sp"))
	assert.NotEmpty(t, q.Get("sig"))

	start := sasTime(t, q.Get("st"))
	expiry := sasTime(t, q.Get("se"))
	assert.True(t, expiry.After(start), "expiry %v must be after start %v", expiry, start)
	assert.Equal(t, 10*time.Minute, expiry.Sub(start), "write tokens default to ten minutes")
}

func TestIssueRequiresBlobName(t *testing.T) {
	keys := &staticKeySource{}
	issuer := newTestIssuer(keys, &staticLister{})

	_, err := issuer.Issue(context.Background(), TokenRequest{})
	require.ErrorIs(t, err, ErrMissingBlobName)
	assert.Equal(t, 0, keys.calls, "no store call may be made for an input error")
}

func TestIssueDefaultsAndOverrides(t *testing.T) {
	issuer := newTestIssuer(&staticKeySource{}, &staticLister{})

	token, err := issuer.Issue(context.Background(), TokenRequest{
		Container:   "images",
		BlobName:    "a b.png",
		Permissions: Permissions{Create: true, Write: true},
		Duration:    5 * time.Minute,
	})
	require.NoError(t, err)

	assert.Contains(t, token.URL, "/images/a%20b.png?")
	q := sasQuery(t, token.URL)
	assert.Equal(t, "cw", q.Get("sp"))
	assert.Equal(t, 5*time.Minute, sasTime(t, q.Get("se")).Sub(sasTime(t, q.Get("st"))))
}

func TestIssueClampsDuration(t *testing.T) {
	issuer := newTestIssuer(&staticKeySource{}, &staticLister{})

	token, err := issuer.Issue(context.Background(), TokenRequest{
		BlobName: "test.txt",
		Duration: 6 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, token.ExpiresOn.Sub(token.StartsOn))
}

func TestIssueReadDefaultsToLongerWindow(t *testing.T) {
	issuer := newTestIssuer(&staticKeySource{}, &staticLister{})

	token, err := issuer.Issue(context.Background(), TokenRequest{
		BlobName:    "test.txt",
		Permissions: ReadOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, token.ExpiresOn.Sub(token.StartsOn))
}

func TestReadAndWriteTokensDiffer(t *testing.T) {
	issuer := newTestIssuer(&staticKeySource{}, &staticLister{})

	write, err := issuer.Issue(context.Background(), TokenRequest{BlobName: "test.txt", Permissions: WriteOnly})
	require.NoError(t, err)
	read, err := issuer.Issue(context.Background(), TokenRequest{BlobName: "test.txt", Permissions: ReadOnly})
	require.NoError(t, err)

	writeSig := sasQuery(t, write.URL).Get("sig")
	readSig := sasQuery(t, read.URL).Get("sig")
	assert.NotEmpty(t, writeSig)
	assert.NotEmpty(t, readSig)
	assert.NotEqual(t, writeSig, readSig, "write and read scopes must never share a signature")
}

func TestListSignsEveryEntryReadOnly(t *testing.T) {
	lister := &staticLister{names: []string{"one.txt", "two.png"}}
	issuer := newTestIssuer(&staticKeySource{}, lister)

	entries, err := issuer.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "one.txt", entries[0].Name)
	assert.Equal(t, "two.png", entries[1].Name)
	for _, e := range entries {
		q := sasQuery(t, e.URL)
		assert.Equal(t, "r", q.Get("sp"), "display URLs are read-scoped")
		assert.NotEmpty(t, q.Get("sig"))
		assert.True(t, strings.Contains(e.URL, "/upload/"+url.PathEscape(e.Name)+"?"))
	}
	assert.NotEqual(t, sasQuery(t, entries[0].URL).Get("sig"), sasQuery(t, entries[1].URL).Get("sig"),
		"each entry is signed independently")
}

func TestListEmptyContainer(t *testing.T) {
	issuer := newTestIssuer(&staticKeySource{}, &staticLister{})

	entries, err := issuer.List(context.Background(), "upload")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClassifyDelegationDenied(t *testing.T) {
	storageErr := &fakeStorageError{code: serviceCodePermissionMismatch}
	err := classifyStorageError("user delegation key request", "testaccount", storageErr)

	var denied *DelegationDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, err.Error(), "Storage Blob Data Contributor")
}

func TestClassifyNetworkPolicyBlocked(t *testing.T) {
	storageErr := &fakeStorageError{code: serviceCodeAuthzFailure}
	err := classifyStorageError("user delegation key request", "testaccount", storageErr)

	var blocked *NetworkPolicyError
	require.ErrorAs(t, err, &blocked)
	assert.Contains(t, err.Error(), "firewall")
	assert.NotContains(t, err.Error(), "Storage Blob Data Contributor",
		"network rejections must not be presented as role problems")
}

func TestClassifyBareForbidden(t *testing.T) {
	storageErr := &fakeStorageError{resp: &http.Response{StatusCode: http.StatusForbidden}}
	err := classifyStorageError("user delegation key request", "testaccount", storageErr)

	var denied *DelegationDeniedError
	require.ErrorAs(t, err, &denied)
}

func TestClassifyGenericUpstream(t *testing.T) {
	err := classifyStorageError("blob listing", "testaccount", errors.New("connection reset"))

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, err.Error(), "connection reset", "upstream text survives for diagnosability")
}

func TestIssueClassifiesKeySourceFailure(t *testing.T) {
	keys := &staticKeySource{err: &fakeStorageError{code: serviceCodeAuthzFailure}}
	issuer := newTestIssuer(keys, &staticLister{})

	_, err := issuer.Issue(context.Background(), TokenRequest{BlobName: "test.txt"})
	var blocked *NetworkPolicyError
	require.ErrorAs(t, err, &blocked)
}

func TestSelfCheckPropagatesClassifiedError(t *testing.T) {
	keys := &staticKeySource{err: &fakeStorageError{code: serviceCodePermissionMismatch}}
	issuer := newTestIssuer(keys, &staticLister{})

	err := issuer.SelfCheck(context.Background())
	var denied *DelegationDeniedError
	require.ErrorAs(t, err, &denied)
}
