package sas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		in   string
		want Permissions
	}{
		{"", Permissions{}},
		{"w", Permissions{Write: true}},
		{"r", Permissions{Read: true}},
		{"cw", Permissions{Create: true, Write: true}},
		{"wc", Permissions{Create: true, Write: true}},
		{"racwdl", Permissions{Read: true, Add: true, Create: true, Write: true, Delete: true, List: true}},
		{"W", Permissions{Write: true}},
	}
	for _, test := range tests {
		got, err := ParsePermissions(test.in)
		require.NoErrorf(t, err, "parse %q", test.in)
		assert.Equalf(t, test.want, got, "parse %q", test.in)
	}
}

func TestParsePermissionsRejectsUnknownCodes(t *testing.T) {
	for _, in := range []string{"x", "wz", "r w"} {
		_, err := ParsePermissions(in)
		assert.Errorf(t, err, "parse %q", in)
	}
}

func TestParsePermissionsRejectsDuplicates(t *testing.T) {
	_, err := ParsePermissions("ww")
	require.Error(t, err)
}

func TestStringCanonicalOrder(t *testing.T) {
	p, err := ParsePermissions("lwdcar")
	require.NoError(t, err)
	assert.Equal(t, "racwdl", p.String())
}

func TestSubsetOf(t *testing.T) {
	assert.True(t, WriteOnly.SubsetOf(UploadPolicy))
	assert.True(t, UploadPolicy.SubsetOf(UploadPolicy))
	assert.True(t, Permissions{}.SubsetOf(WriteOnly))
	assert.False(t, ReadOnly.SubsetOf(UploadPolicy))
	assert.False(t, Permissions{Write: true, Delete: true}.SubsetOf(UploadPolicy))
}
