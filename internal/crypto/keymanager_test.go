package crypto

import (
	"crypto/ed25519"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecodeBase58(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := base58.Decode(s)
	require.NoError(t, err)
	return raw
}

func TestWalletRoundTrip(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	restored, err := NewWallet(w.Export())
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), restored.PublicKey())
}

func TestWalletSignVerifies(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	msg := []byte("serialized transaction bytes")
	sig := w.Sign(msg)
	require.Len(t, sig, ed25519.SignatureSize)

	restored, err := NewWallet(w.Export())
	require.NoError(t, err)
	pub := ed25519.PublicKey(mustDecodeBase58(t, restored.PublicKey()))
	assert.True(t, ed25519.Verify(pub, msg, sig))
}

func TestNewWalletRejectsBadInput(t *testing.T) {
	_, err := NewWallet("not-base58-0OIl")
	assert.Error(t, err)

	// Valid base58 but wrong length.
	_, err = NewWallet("3mJr7AoUXx2Wqd")
	assert.Error(t, err)
}

func TestEncryptDecryptKey(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)
	secret := w.Export()

	blob, err := EncryptKey(secret, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyRequiresPassword(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	_, err = EncryptKey(w.Export(), "")
	assert.Error(t, err)
}

func TestLoadWalletFromEncryptedFile(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	blob, err := EncryptKey(w.Export(), "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	loaded, err := LoadWallet(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), loaded.PublicKey())
}

func TestLoadWalletNoSource(t *testing.T) {
	_, err := LoadWallet(KeyConfig{})
	assert.Error(t, err)
}

func TestSignQueryAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret"}

	params := url.Values{}
	params.Set("symbol", "SOLUSDC")
	params.Set("side", "BUY")

	got := auth.SignQueryAt(params, 1700000000000)

	params2 := url.Values{}
	params2.Set("symbol", "SOLUSDC")
	params2.Set("side", "BUY")
	assert.Equal(t, got, auth.SignQueryAt(params2, 1700000000000))
	assert.Contains(t, got, "timestamp=1700000000000")
	assert.Contains(t, got, "&signature=")
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "0123456789"}
	s := auth.String()
	assert.NotContains(t, s, "abcdef")
	assert.NotContains(t, s, "0123456789")
	assert.Contains(t, s, "abcd****")
}
