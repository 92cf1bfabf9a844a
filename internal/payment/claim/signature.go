package claim

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChannelKey 将通道 ID 映射为 32 字节标识
//
// 0x 前缀的 32 字节 hex 直接解码，其余取 keccak256(channelID)。
func ChannelKey(channelID string) [32]byte {
	var key [32]byte
	if len(channelID) == 66 && strings.HasPrefix(channelID, "0x") {
		if b, err := hex.DecodeString(channelID[2:]); err == nil {
			copy(key[:], b)
			return key
		}
	}
	copy(key[:], crypto.Keccak256([]byte(channelID)))
	return key
}

// Message 声明签名消息：channelKey ‖ amount(u256) ‖ nonce(u256)
func Message(channelID string, amount, nonce uint64) []byte {
	key := ChannelKey(channelID)
	msg := make([]byte, 0, 96)
	msg = append(msg, key[:]...)
	msg = append(msg, math.U256Bytes(new(big.Int).SetUint64(amount))...)
	msg = append(msg, math.U256Bytes(new(big.Int).SetUint64(nonce))...)
	return msg
}

// Digest 按币种族计算签名摘要
func Digest(family Family, channelID string, amount, nonce uint64) []byte {
	msg := Message(channelID, amount, nonce)
	if family == FamilyEVM {
		return crypto.Keccak256(msg)
	}
	sum := sha256.Sum256(msg)
	return sum[:]
}

// VerifySignature 按通道币种校验声明签名
//
// 通道记录了币种时以通道为准，否则使用声明中的币种。
func VerifySignature(state *ChannelState, c *Claim) bool {
	currency := state.Currency
	if currency == "" {
		currency = c.Currency
	}
	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false
	}
	switch currency.Family() {
	case FamilyEVM:
		return verifyEVM(state.Sender, Digest(FamilyEVM, c.ChannelID, c.Amount, c.Nonce), sig)
	case FamilyCosmos:
		return verifyCosmos(state.SenderPubKey, Digest(FamilyCosmos, c.ChannelID, c.Amount, c.Nonce), sig)
	default:
		return false
	}
}

// verifyEVM 从 65 字节可恢复签名恢复地址并与发送方比对
func verifyEVM(sender string, digest, sig []byte) bool {
	if len(sig) != crypto.SignatureLength || !common.IsHexAddress(sender) {
		return false
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return false
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(sender)
}

// verifyCosmos 校验 64 字节 r‖s 紧凑签名
func verifyCosmos(pubKeyHex string, digest, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	pkBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pkBytes)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) || r.IsZero() || s.IsZero() {
		return false
	}
	return secpecdsa.NewSignature(&r, &s).Verify(digest, pub)
}

// ============================================================================
//                              签名（付款方使用）
// ============================================================================

// SignEVM 以 EVM 方案签名声明，返回 130 字符 hex
func SignEVM(key *ecdsa.PrivateKey, channelID string, amount, nonce uint64) (string, error) {
	sig, err := crypto.Sign(Digest(FamilyEVM, channelID, amount, nonce), key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// SignCosmos 以 Cosmos 方案签名声明，返回 128 字符 hex
func SignCosmos(key *secp256k1.PrivateKey, channelID string, amount, nonce uint64) string {
	compact := secpecdsa.SignCompact(key, Digest(FamilyCosmos, channelID, amount, nonce), true)
	// 首字节为恢复码
	return hex.EncodeToString(compact[1:])
}
