package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/Azure/go-autorest/autorest/adal"
)

// cliTokenResponse is the shape of `az account get-access-token --output
// json`. expiresOn is local time without a zone, per the CLI's output format.
type cliTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
}

const cliExpiresOnLayout = "2006-01-02 15:04:05.000000"

// fetchCLIToken resolves a storage-scoped token from a locally authenticated
// Azure CLI session. This is the developer-workstation fallback; it is never
// reached on the hosting platform where IMDS answers first.
func fetchCLIToken(ctx context.Context) (adal.Token, error) {
	var token adal.Token

	cmd := exec.CommandContext(ctx, "az", "account", "get-access-token",
		"--resource", storageResource, "--output", "json")
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return token, fmt.Errorf("identity: az CLI token request failed: %s", string(exitErr.Stderr))
		}
		return token, fmt.Errorf("identity: az CLI not available: %w", err)
	}

	var resp cliTokenResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return token, fmt.Errorf("identity: failed to decode az CLI token: %w", err)
	}
	if resp.AccessToken == "" {
		return token, fmt.Errorf("identity: az CLI returned an empty access token")
	}

	token.AccessToken = resp.AccessToken
	// adal.Token.Expires reads ExpiresOn as Unix seconds.
	if expires, err := time.ParseInLocation(cliExpiresOnLayout, resp.ExpiresOn, time.Local); err == nil {
		token.ExpiresOn = json.Number(strconv.FormatInt(expires.Unix(), 10))
	}
	return token, nil
}
