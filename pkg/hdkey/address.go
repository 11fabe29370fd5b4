package hdkey

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// Network selects the address prefix space.
type Network byte

const (
	Mainnet Network = 0x00
	Testnet Network = 0x10
)

// ParseNetwork maps a config string to a Network.
func ParseNetwork(name string) (Network, error) {
	switch name {
	case "", "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	}
	return 0, fmt.Errorf("hdkey: unknown network %q", name)
}

// address type tags within a prefix byte
const (
	addrP2PK byte = 1
	addrP2S  byte = 3
)

func encodeAddress(network Network, kind byte, content []byte) string {
	body := make([]byte, 0, 1+len(content)+4)
	body = append(body, byte(network)+kind)
	body = append(body, content...)
	checksum := blake2b.Sum256(body)
	return base58.Encode(append(body, checksum[:4]...))
}

// P2PKAddress builds the pay-to-public-key address for the key derived at the
// given index.
func P2PKAddress(xpub string, index uint32, network Network) (string, error) {
	key, err := Parse(xpub)
	if err != nil {
		return "", err
	}
	pub, err := key.ChildPubKey(index)
	if err != nil {
		return "", err
	}
	return encodeAddress(network, addrP2PK, pub), nil
}

// DerivedPubKeys returns the compressed public keys for indices 0..count-1.
// At least one key is always derived.
func DerivedPubKeys(xpub string, count int) ([][]byte, error) {
	key, err := Parse(xpub)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		pub, err := key.ChildPubKey(uint32(i))
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// ThresholdAddress derives the group's spending address: an atLeast(m, keys)
// proposition tree over each participant's index-0 public key, serialized as
// a pay-to-script address. Keys are sorted so the address is deterministic
// regardless of xpub input order.
func ThresholdAddress(xpubs []string, m int, network Network) (string, error) {
	if m < 1 || m > len(xpubs) {
		return "", fmt.Errorf("hdkey: invalid threshold %d for %d keys", m, len(xpubs))
	}
	keys := make([]string, 0, len(xpubs))
	for _, xpub := range xpubs {
		parsed, err := Parse(xpub)
		if err != nil {
			return "", fmt.Errorf("hdkey: %s: %w", xpub, err)
		}
		pub, err := parsed.ChildPubKey(0)
		if err != nil {
			return "", err
		}
		keys = append(keys, hex.EncodeToString(pub))
	}
	sort.Strings(keys)

	tree := thresholdTree(keys, m)
	return encodeAddress(network, addrP2S, tree), nil
}

// thresholdTree serializes the atLeast proposition over hex-encoded public
// keys. Layout: constant segment (threshold + one ProveDlog per key),
// followed by the atLeast node over a collection of constant placeholders.
func thresholdTree(sortedKeys []string, m int) []byte {
	tree := []byte{0x10} // header: constant segregation, version 0
	tree = appendUVLQ(tree, uint64(len(sortedKeys)+1))
	tree = append(tree, 0x04) // SInt constant: the threshold
	tree = appendIVLQ(tree, int64(m))
	for _, key := range sortedKeys {
		tree = append(tree, 0x08, 0xcd) // SSigmaProp, ProveDlog
		raw, _ := hex.DecodeString(key)
		tree = append(tree, raw...)
	}
	tree = append(tree, 0x98, 0x73, 0x00) // atLeast(placeholder 0, ...)
	tree = append(tree, 0x83)             // collection of constants
	tree = appendUVLQ(tree, uint64(len(sortedKeys)))
	tree = append(tree, 0x08)
	for i := range sortedKeys {
		tree = append(tree, 0x73)
		tree = appendUVLQ(tree, uint64(i+1))
	}
	return tree
}

func appendUVLQ(dst []byte, v uint64) []byte {
	for {
		if v&^0x7f == 0 {
			return append(dst, byte(v))
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

func appendIVLQ(dst []byte, v int64) []byte {
	// zigzag
	return appendUVLQ(dst, uint64((v<<1)^(v>>63)))
}
