package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// Identity 节点社交身份
type Identity struct {
	secretKey string
	pubKey    string
}

// NewIdentity 从十六进制私钥创建身份
func NewIdentity(secretKey string) (*Identity, error) {
	secretKey = strings.TrimSpace(secretKey)
	raw, err := hex.DecodeString(secretKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	pub, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Identity{secretKey: secretKey, pubKey: pub}, nil
}

// LoadIdentity 按配置加载身份
//
// 顺序：SecretKey → KeyFile → 自动生成。
// 生成的密钥在配置了 KeyFile 时写入该文件（权限 0600）。
func LoadIdentity(cfg config.IdentityConfig) (*Identity, error) {
	if cfg.SecretKey != "" {
		return NewIdentity(cfg.SecretKey)
	}

	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		switch {
		case err == nil:
			return NewIdentity(string(data))
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read key file: %w", err)
		}
	}

	if !cfg.AutoGenerate {
		return nil, ErrNoIdentity
	}

	id, err := NewIdentity(nostr.GeneratePrivateKey())
	if err != nil {
		return nil, err
	}
	if cfg.KeyFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.KeyFile), 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
		if err := os.WriteFile(cfg.KeyFile, []byte(id.secretKey+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write key file: %w", err)
		}
		logger.Info("已生成节点密钥", "file", cfg.KeyFile, "pubkey", id.PeerID().ShortString())
	}
	return id, nil
}

// PubKey 返回 x-only 公钥（hex）
func (i *Identity) PubKey() string { return i.pubKey }

// PeerID 返回节点标识
func (i *Identity) PeerID() types.PeerID { return types.PeerID(i.pubKey) }

// SecretKey 返回私钥（hex）
func (i *Identity) SecretKey() string { return i.secretKey }

// Sign 以节点身份签名事件，填充 PubKey / ID / Sig
func (i *Identity) Sign(evt *nostr.Event) error {
	return evt.Sign(i.secretKey)
}
