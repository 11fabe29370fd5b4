// Package keytest builds deterministic extended public keys for tests.
package keytest

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// XPub returns a valid Base58Check extended public key derived from seed.
// The same seed always yields the same xpub.
func XPub(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + 1 // zero seed must not produce a zero scalar
	}
	priv := secp256k1.PrivKeyFromBytes(raw)

	payload := make([]byte, 0, 78)
	payload = append(payload, 0x04, 0x88, 0xb2, 0x1e)
	payload = append(payload, 4)          // depth
	payload = append(payload, 0, 0, 0, 0) // parent fingerprint
	payload = binary.BigEndian.AppendUint32(payload, 0)
	chainCode := make([]byte, 32)
	for i := range chainCode {
		chainCode[i] = seed ^ 0x5a
	}
	payload = append(payload, chainCode...)
	payload = append(payload, priv.PubKey().SerializeCompressed()...)

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(payload, second[:4]...))
}

// RequestKey returns a deterministic request-signing key pair.
func RequestKey(seed byte) *secp256k1.PrivateKey {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + 101
	}
	return secp256k1.PrivKeyFromBytes(raw)
}
