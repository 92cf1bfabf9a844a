package propagation

import (
	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/internal/protocol/codec"
)

// NotifyEncoder 返回把事件编码为 notify 包的 Encoder
//
// sender 为本节点 ILP 地址；转发包不携带付款（金额为 0）。
func NotifyEncoder(sender, currency string, clk clock.Clock) Encoder {
	if clk == nil {
		clk = clock.New()
	}
	return func(sub *Subscription, evt *nostr.Event, ttl int) ([]byte, error) {
		raw, err := codec.MarshalEvent(evt)
		if err != nil {
			return nil, err
		}
		pkt, err := codec.NewPacket(codec.KindNotify,
			codec.Payment{Amount: "0", Currency: currency},
			codec.NotifyBody{SubscriptionID: sub.ID, Event: raw},
			codec.Metadata{
				Timestamp: clk.Now().Unix(),
				Sender:    sender,
				TTL:       codec.IntPtr(ttl),
			},
		)
		if err != nil {
			return nil, err
		}
		return codec.Encode(pkt)
	}
}
