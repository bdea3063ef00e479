package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT_NAME", "testaccount")
	t.Setenv("AZURE_STORAGE_CONTAINER", "photos")
	t.Setenv("AZURE_CLIENT_ID", "client-123")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_TOKEN_MINUTES", "30")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "testaccount", cfg.AccountName)
	assert.Equal(t, "photos", cfg.Container)
	assert.Equal(t, "client-123", cfg.ClientID)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30, cfg.MaxTokenMinutes)
	require.NoError(t, cfg.Validate())
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT_NAME", "testaccount")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, DefaultContainer, cfg.Container)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxTokenMinutes, cfg.MaxTokenMinutes)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.StrictStartup)
}

func TestValidateRequiresAccount(t *testing.T) {
	cfg := &Config{MaxTokenMinutes: 60}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZURE_STORAGE_ACCOUNT_NAME")
}

func TestValidateRejectsNonPositiveCeiling(t *testing.T) {
	cfg := &Config{AccountName: "testaccount"}
	require.Error(t, cfg.Validate())
}

func TestBlobEndpoint(t *testing.T) {
	cfg := &Config{AccountName: "testaccount", EndpointSuffix: DefaultEndpointSuffix}
	assert.Equal(t, "https://testaccount.blob.core.windows.net", cfg.BlobEndpoint())
}
