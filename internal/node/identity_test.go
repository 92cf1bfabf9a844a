package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-btpnips/config"
)

func TestNewIdentity(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	id, err := NewIdentity(sk)
	require.NoError(t, err)

	pub, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	assert.Equal(t, pub, id.PubKey())
	assert.Equal(t, pub, string(id.PeerID()))
}

func TestNewIdentity_Invalid(t *testing.T) {
	for _, sk := range []string{"", "zz", strings.Repeat("ab", 16), strings.Repeat("g", 64)} {
		_, err := NewIdentity(sk)
		assert.ErrorIs(t, err, ErrInvalidKey, sk)
	}
}

func TestLoadIdentity_SecretKeyWins(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	id, err := LoadIdentity(config.IdentityConfig{
		SecretKey: sk,
		KeyFile:   filepath.Join(t.TempDir(), "ignored.key"),
	})
	require.NoError(t, err)
	assert.Equal(t, sk, id.SecretKey())
}

func TestLoadIdentity_GenerateAndReload(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "keys", "node.key")
	cfg := config.IdentityConfig{KeyFile: keyFile, AutoGenerate: true}

	first, err := LoadIdentity(cfg)
	require.NoError(t, err)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadIdentity(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.PubKey(), second.PubKey())
}

func TestLoadIdentity_NoKey(t *testing.T) {
	_, err := LoadIdentity(config.IdentityConfig{})
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = LoadIdentity(config.IdentityConfig{KeyFile: filepath.Join(t.TempDir(), "missing.key")})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestIdentity_Sign(t *testing.T) {
	id, err := NewIdentity(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	evt := &nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: "signed"}
	require.NoError(t, id.Sign(evt))
	assert.Equal(t, id.PubKey(), evt.PubKey)

	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}
