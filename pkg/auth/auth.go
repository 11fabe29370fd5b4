// Package auth implements the identity registry and request authentication.
//
// A participant registers one or more short-term secp256k1 request-signing
// keys against its xpub. Registration requires a self-authentication proof
// binding the new key to the participant's index-0 P2PK address. Every
// mutating call is then checked against a registered binding.
//
// Verification failures are deliberately uniform: missing binding, non-member
// and bad signature all produce the same Unauthorized error so a caller
// cannot probe which check failed.
package auth

import (
	"context"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/slog"
	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/multisig/pkg/engine"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/hdkey"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
	"golang.org/x/crypto/blake2b"
)

// compactSigLen is the r||s signature form carried by requests.
const compactSigLen = 64

// Request is the authentication envelope every mutating call carries.
type Request interface {
	// AuthXPub is the caller's long-term identity.
	AuthXPub() party.ID
	// AuthPub is the registered request-signing key, compressed.
	AuthPub() []byte
	// AuthSignature is the 64-byte r||s signature over SigningBytes.
	AuthSignature() []byte
	// SigningBytes is the canonical payload serialization with the signature
	// field removed.
	SigningBytes() ([]byte, error)
}

// Registry binds request-signing keys to xpubs and gates mutating calls.
type Registry struct {
	log     slog.Logger
	auths   store.AuthStore
	engine  engine.Engine
	network hdkey.Network
}

// NewRegistry returns a registry backed by the given auth store.
func NewRegistry(log slog.Logger, auths store.AuthStore, eng engine.Engine, network hdkey.Network) *Registry {
	return &Registry{log: log, auths: auths, engine: eng, network: network}
}

// errUnauthorized is the single error every authentication failure maps to.
var errUnauthorized = errs.E(errs.Unauthorized, "unauthorized")

// Register accepts a new (xpub, pub) binding when proof is a valid
// self-authentication of pub by the key behind the xpub's index-0 P2PK
// address. Registration is idempotent.
func (r *Registry) Register(ctx context.Context, xpub party.ID, pub, proof []byte) (*store.Auth, error) {
	if _, err := secp256k1.ParsePubKey(pub); err != nil {
		r.log.Debugf("register: bad pub for %s: %v", xpub, err)
		return nil, errUnauthorized
	}
	address, err := hdkey.P2PKAddress(string(xpub), 0, r.network)
	if err != nil {
		r.log.Debugf("register: cannot derive address for %s: %v", xpub, err)
		return nil, errUnauthorized
	}
	if !r.engine.VerifyP2PK(address, pub, proof) {
		r.log.Warnf("register: invalid self-authentication for %s", xpub)
		return nil, errUnauthorized
	}
	return r.auths.Put(ctx, &store.Auth{XPub: xpub, Pub: pub})
}

// Revoke removes a binding.
func (r *Registry) Revoke(ctx context.Context, xpub party.ID, pub []byte) error {
	return r.auths.Delete(ctx, xpub, pub)
}

// Lookup returns the binding, or a NotFound error.
func (r *Registry) Lookup(ctx context.Context, xpub party.ID, pub []byte) (*store.Auth, error) {
	return r.auths.Get(ctx, xpub, pub)
}

// IsMember reports whether xpub belongs to the team.
func (r *Registry) IsMember(team *store.Team, xpub party.ID) bool {
	return team != nil && team.XPubs.Contains(xpub)
}

// Verify authenticates a request. If team is non-nil the caller must also be
// a member. Every failure returns the identical Unauthorized error.
func (r *Registry) Verify(ctx context.Context, req Request, team *store.Team) (*store.Auth, error) {
	binding, err := r.auths.Get(ctx, req.AuthXPub(), req.AuthPub())
	if err != nil {
		r.log.Debugf("verify: no binding for %s", req.AuthXPub())
		return nil, errUnauthorized
	}
	if team != nil && !r.IsMember(team, req.AuthXPub()) {
		r.log.Debugf("verify: %s is not a member of team %s", req.AuthXPub(), team.ID)
		return nil, errUnauthorized
	}

	payload, err := req.SigningBytes()
	if err != nil {
		return nil, errUnauthorized
	}
	if !VerifyPayload(req.AuthPub(), payload, req.AuthSignature()) {
		r.log.Debugf("verify: bad signature from %s", req.AuthXPub())
		return nil, errUnauthorized
	}
	return binding, nil
}

// VerifyPayload checks a compact r||s signature by pub over the blake2b-256
// digest of payload.
func VerifyPayload(pub, payload, signature []byte) bool {
	if len(signature) != compactSigLen {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	var rScalar, sScalar secp256k1.ModNScalar
	if rScalar.SetByteSlice(signature[:32]) || rScalar.IsZero() {
		return false
	}
	if sScalar.SetByteSlice(signature[32:]) || sScalar.IsZero() {
		return false
	}
	digest := blake2b.Sum256(payload)
	return secpecdsa.NewSignature(&rScalar, &sScalar).Verify(digest[:], pubKey)
}

// SignPayload produces the compact r||s signature Verify expects. Used by
// participant tooling and tests; the server itself never signs requests.
func SignPayload(priv *secp256k1.PrivateKey, payload []byte) []byte {
	digest := blake2b.Sum256(payload)
	// SignCompact prepends a one-byte recovery code to the 64-byte r||s form.
	compact := secpecdsa.SignCompact(priv, digest[:], true)
	out := make([]byte, compactSigLen)
	copy(out, compact[1:])
	return out
}

var canonicalMode cbor.EncMode

func init() {
	var err error
	canonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("auth: cbor enc mode: %w", err))
	}
}

// CanonicalBytes serializes v deterministically for signing. Request DTOs
// call this on a copy of themselves with the signature field cleared.
func CanonicalBytes(v any) ([]byte, error) {
	data, err := canonicalMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("auth: canonical encode: %w", err)
	}
	return data, nil
}
