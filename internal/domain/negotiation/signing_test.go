package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignatureMode(t *testing.T) {
	mode, err := ParseSignatureMode("")
	require.NoError(t, err)
	assert.Equal(t, SignatureModeOff, mode)

	mode, err = ParseSignatureMode("required")
	require.NoError(t, err)
	assert.Equal(t, SignatureModeRequired, mode)

	_, err = ParseSignatureMode("mandatory")
	assert.Error(t, err)
}

func TestHMACSignerRoundTrip(t *testing.T) {
	keys := map[string][]byte{
		"k1": []byte("0123456789abcdef0123456789abcdef"),
		"k2": []byte("fedcba9876543210fedcba9876543210"),
	}
	signer, err := NewHMACSigner("k1", keys)
	require.NoError(t, err)
	assert.Equal(t, "k1", signer.KeyID())

	sig, err := signer.Sign("deadbeef")
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	assert.NoError(t, signer.Verify("k1", "deadbeef", sig))
	assert.Error(t, signer.Verify("k2", "deadbeef", sig))
	assert.Error(t, signer.Verify("k1", "deadbee0", sig))
	assert.Error(t, signer.Verify("unknown", "deadbeef", sig))
}

func TestNewHMACSignerValidation(t *testing.T) {
	_, err := NewHMACSigner("k1", nil)
	assert.Error(t, err)

	_, err = NewHMACSigner("missing", map[string][]byte{"k1": []byte("x")})
	assert.Error(t, err)
}
