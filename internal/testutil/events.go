package testutil

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

// Keypair 测试密钥对
type Keypair struct {
	SecretKey string
	PubKey    string
}

// NewKeypair 生成随机密钥对
func NewKeypair(t testing.TB) Keypair {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	return Keypair{SecretKey: sk, PubKey: pk}
}

// NewEvent 生成并签名事件
func NewEvent(t testing.TB, kp Keypair, kind int, createdAt int64, content string, tags ...nostr.Tag) *nostr.Event {
	t.Helper()
	evt := &nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      nostr.Tags(tags),
		Content:   content,
	}
	if evt.Tags == nil {
		evt.Tags = nostr.Tags{}
	}
	require.NoError(t, evt.Sign(kp.SecretKey))
	return evt
}
