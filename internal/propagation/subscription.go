package propagation

import (
	"github.com/dep2p/go-btpnips/pkg/types"
)

// Subscription 某节点的一个订阅
type Subscription struct {
	ID      string
	PeerID  types.PeerID
	Filters []types.Filter
}

// Key 订阅在索引中的唯一键
func (s *Subscription) Key() string {
	return subscriptionKey(s.PeerID, s.ID)
}

func subscriptionKey(peer types.PeerID, id string) string {
	return string(peer) + "/" + id
}
