package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/lib/log"
)

var logger = log.Logger("btpnips/discovery")

// Publisher 发布签名后的事件（本地存储并向订阅者传播）
type Publisher interface {
	Publish(ctx context.Context, evt *nostr.Event) error
}

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, evt *nostr.Event) error

// Publish 实现 Publisher
func (f PublisherFunc) Publish(ctx context.Context, evt *nostr.Event) error {
	return f(ctx, evt)
}

// Announcer 发布本节点公告
//
// 每次发布都生成新事件，created_at 严格大于上一次，旧事件由可替换语义覆盖。
type Announcer struct {
	secretKey string
	pubkey    string
	publisher Publisher
	clock     clock.Clock

	mu   sync.Mutex
	info Info
	last *nostr.Event
}

// NewAnnouncer 创建公告发布器
func NewAnnouncer(secretKey string, info Info, publisher Publisher, clk clock.Clock) (*Announcer, error) {
	if raw, err := hex.DecodeString(secretKey); err != nil || len(raw) != 32 {
		return nil, ErrInvalidSecretKey
	}
	pubkey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Announcer{
		secretKey: secretKey,
		pubkey:    pubkey,
		publisher: publisher,
		clock:     clk,
		info:      info,
	}, nil
}

// PubKey 本节点身份公钥
func (a *Announcer) PubKey() string {
	return a.pubkey
}

// ILPAddress 本节点 ILP 地址
func (a *Announcer) ILPAddress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ILPAddress(a.info.AddressPrefix, a.pubkey)
}

// Info 当前公告信息的副本
func (a *Announcer) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := a.info
	info.Currencies = append([]string(nil), a.info.Currencies...)
	info.Features = append([]string(nil), a.info.Features...)
	if a.info.Metadata != nil {
		info.Metadata = make(map[string]string, len(a.info.Metadata))
		for k, v := range a.info.Metadata {
			info.Metadata[k] = v
		}
	}
	return info
}

// Publish 以当前信息发布公告
func (a *Announcer) Publish(ctx context.Context) (*nostr.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishLocked(ctx)
}

// Update 信息变化时重新发布，返回是否发布
func (a *Announcer) Update(ctx context.Context, info Info) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.last != nil && a.info.Equal(info) {
		return false, nil
	}
	prev := a.info
	a.info = info
	if _, err := a.publishLocked(ctx); err != nil {
		a.info = prev
		return false, err
	}
	return true, nil
}

// Current 最近一次发布的公告
func (a *Announcer) Current() *nostr.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	evt := *a.last
	return &evt
}

func (a *Announcer) publishLocked(ctx context.Context) (*nostr.Event, error) {
	createdAt := nostr.Timestamp(a.clock.Now().Unix())
	if a.last != nil && createdAt <= a.last.CreatedAt {
		createdAt = a.last.CreatedAt + 1
	}

	evt, err := BuildAnnouncement(a.info, a.pubkey, createdAt)
	if err != nil {
		return nil, err
	}
	if err := evt.Sign(a.secretKey); err != nil {
		return nil, fmt.Errorf("sign announcement: %w", err)
	}
	if err := a.publisher.Publish(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish announcement: %w", err)
	}

	a.last = evt
	logger.Info("已发布节点公告",
		"ilpAddress", ILPAddress(a.info.AddressPrefix, a.pubkey),
		"endpoint", a.info.Endpoint,
		"id", log.TruncateID(evt.ID, 16))
	out := *evt
	return &out, nil
}
