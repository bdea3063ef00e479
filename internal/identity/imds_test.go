package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Azure/go-autorest/autorest/adal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingHandler(t *testing.T, actual *map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parameters := r.URL.Query()
		(*actual)["path"] = r.URL.Path
		(*actual)["Metadata"] = r.Header.Get("Metadata")
		(*actual)["method"] = r.Method
		for name := range parameters {
			(*actual)[name] = parameters.Get(name)
		}

		response := adal.Token{AccessToken: "test-token"}
		responseBytes, err := json.Marshal(response)
		require.NoError(t, err)
		_, err = w.Write(responseBytes)
		require.NoError(t, err)
	}
}

func TestFetchIMDSTokenRequestShape(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
	}{
		{"system-assigned", ""},
		{"user-assigned", "d859b29f-5c9c-42f8-a327-ec1bc6408d79"},
	}

	for _, test := range tests {
		actual := make(map[string]string, 8)
		testServer := httptest.NewServer(recordingHandler(t, &actual))
		defer testServer.Close()

		token, err := fetchIMDSToken(context.Background(), testServer.Client(), testServer.URL, test.clientID)
		require.NoErrorf(t, err, "case %s", test.name)
		assert.Equal(t, "test-token", token.AccessToken)

		assert.Equal(t, "GET", actual["method"])
		assert.Equal(t, "true", actual["Metadata"])
		assert.Equal(t, "2018-02-01", actual["api-version"])
		assert.Equal(t, "https://storage.azure.com", actual["resource"])

		if test.clientID == "" {
			_, exists := actual["client_id"]
			assert.Falsef(t, exists, "case %s: client_id must be absent", test.name)
		} else {
			assert.Equalf(t, test.clientID, actual["client_id"], "case %s", test.name)
		}
	}
}

func TestFetchIMDSTokenErrors(t *testing.T) {
	// Drop the backoff so exhausting the retry budget is fast.
	saved := imdsRetryPolicy
	imdsRetryPolicy.Delay = 0
	t.Cleanup(func() { imdsRetryPolicy = saved })

	// 404, 429 and 5xx are retryable per the IMDS guidance; all attempts
	// seeing the same status must still surface the status to the caller.
	for _, code := range []int{404, 429, 500} {
		calls := 0
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "test error generated", code)
		}))
		defer testServer.Close()

		_, err := fetchIMDSToken(context.Background(), testServer.Client(), testServer.URL, "")
		require.Errorf(t, err, "status %d", code)

		var imdsErr *imdsError
		require.ErrorAsf(t, err, &imdsErr, "status %d must produce an imdsError", code)
		assert.Equal(t, code, imdsErr.StatusCode)
		assert.Equalf(t, imdsRetryPolicy.Attempts, calls, "status %d is retryable", code)
	}
}

func TestFetchIMDSTokenDoesNotRetryBadRequest(t *testing.T) {
	calls := 0
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer testServer.Close()

	_, err := fetchIMDSToken(context.Background(), testServer.Client(), testServer.URL, "")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
