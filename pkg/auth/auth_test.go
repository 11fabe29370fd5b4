package auth_test

import (
	"context"
	"testing"

	"github.com/decred/slog"
	"github.com/luxfi/multisig/internal/enginetest"
	"github.com/luxfi/multisig/internal/keytest"
	"github.com/luxfi/multisig/pkg/auth"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/hdkey"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
	"github.com/luxfi/multisig/pkg/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	XPub      party.ID `cbor:"xpub"`
	Pub       []byte   `cbor:"pub"`
	Payload   string   `cbor:"payload"`
	Signature []byte   `cbor:"signature,omitempty"`
}

func (r *testRequest) AuthXPub() party.ID    { return r.XPub }
func (r *testRequest) AuthPub() []byte       { return r.Pub }
func (r *testRequest) AuthSignature() []byte { return r.Signature }

func (r *testRequest) SigningBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return auth.CanonicalBytes(&unsigned)
}

func newRegistry(t *testing.T) (*auth.Registry, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	reg := auth.NewRegistry(slog.Disabled, s.Auths(), enginetest.New(), hdkey.Mainnet)
	return reg, s
}

// register binds a fresh request key to the xpub via a fake P2PK proof.
func register(t *testing.T, reg *auth.Registry, xpub string, keySeed byte) []byte {
	t.Helper()
	pub := keytest.RequestKey(keySeed).PubKey().SerializeCompressed()
	address, err := hdkey.P2PKAddress(xpub, 0, hdkey.Mainnet)
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), party.ID(xpub), pub, enginetest.P2PKProof(address, pub))
	require.NoError(t, err)
	return pub
}

func TestRegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	xpub := keytest.XPub(1)

	pub := register(t, reg, xpub, 1)
	first, err := reg.Lookup(ctx, party.ID(xpub), pub)
	require.NoError(t, err)

	// Registering the same binding again returns the existing row.
	address, err := hdkey.P2PKAddress(xpub, 0, hdkey.Mainnet)
	require.NoError(t, err)
	second, err := reg.Register(ctx, party.ID(xpub), pub, enginetest.P2PKProof(address, pub))
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestRegisterRejectsBadProof(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	xpub := keytest.XPub(2)
	pub := keytest.RequestKey(2).PubKey().SerializeCompressed()

	_, err := reg.Register(ctx, party.ID(xpub), pub, []byte("not a proof"))
	assert.True(t, errs.IsKind(err, errs.Unauthorized))

	// Proof for a different message does not transfer.
	address, err := hdkey.P2PKAddress(xpub, 0, hdkey.Mainnet)
	require.NoError(t, err)
	_, err = reg.Register(ctx, party.ID(xpub), pub, enginetest.P2PKProof(address, []byte("other")))
	assert.True(t, errs.IsKind(err, errs.Unauthorized))

	// Garbage key material.
	_, err = reg.Register(ctx, party.ID(xpub), []byte{1, 2, 3}, nil)
	assert.True(t, errs.IsKind(err, errs.Unauthorized))
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	xpub := keytest.XPub(3)

	pub := register(t, reg, xpub, 3)
	require.NoError(t, reg.Revoke(ctx, party.ID(xpub), pub))
	_, err := reg.Lookup(ctx, party.ID(xpub), pub)
	assert.True(t, errs.IsKind(err, errs.NotFound))
}

func signedRequest(t *testing.T, xpub string, keySeed byte, payload string) *testRequest {
	t.Helper()
	key := keytest.RequestKey(keySeed)
	req := &testRequest{
		XPub:    party.ID(xpub),
		Pub:     key.PubKey().SerializeCompressed(),
		Payload: payload,
	}
	bytes, err := req.SigningBytes()
	require.NoError(t, err)
	req.Signature = auth.SignPayload(key, bytes)
	return req
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	xpub := keytest.XPub(4)
	register(t, reg, xpub, 4)

	req := signedRequest(t, xpub, 4, "hello")
	binding, err := reg.Verify(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, party.ID(xpub), binding.XPub)
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	xpub := keytest.XPub(5)
	register(t, reg, xpub, 5)

	team := &store.Team{
		ID:    "t1",
		XPubs: party.NewIDSlice([]party.ID{"someone", "else"}),
		M:     2,
	}

	valid := signedRequest(t, xpub, 5, "payload")

	// Tampered signature: flip one byte.
	tampered := *valid
	tampered.Signature = append([]byte(nil), valid.Signature...)
	tampered.Signature[10] ^= 0x01

	// Tampered payload under a valid signature.
	resigned := *valid
	resigned.Payload = "other payload"

	// Unregistered key.
	unknown := signedRequest(t, keytest.XPub(6), 6, "payload")

	var messages []string
	for _, req := range []*testRequest{&tampered, &resigned, unknown} {
		_, err := reg.Verify(ctx, req, nil)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.Unauthorized))
		messages = append(messages, err.Error())
	}
	// Non-member with an otherwise valid request.
	_, err := reg.Verify(ctx, valid, team)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Unauthorized))
	messages = append(messages, err.Error())

	for _, msg := range messages[1:] {
		assert.Equal(t, messages[0], msg, "failure modes must be indistinguishable")
	}
}

func TestVerifyTeamMember(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	xpub := keytest.XPub(7)
	register(t, reg, xpub, 7)

	team := &store.Team{
		ID:    "t1",
		XPubs: party.NewIDSlice([]party.ID{party.ID(xpub), "other"}),
		M:     1,
	}
	req := signedRequest(t, xpub, 7, "payload")
	_, err := reg.Verify(ctx, req, team)
	assert.NoError(t, err)
	assert.True(t, reg.IsMember(team, party.ID(xpub)))
	assert.False(t, reg.IsMember(team, "stranger"))
}

func TestSignPayloadCompactForm(t *testing.T) {
	key := keytest.RequestKey(7)
	pub := key.PubKey().SerializeCompressed()
	payload := []byte("payload under signature")

	sig := auth.SignPayload(key, payload)
	require.Len(t, sig, 64)
	assert.True(t, auth.VerifyPayload(pub, payload, sig))
	assert.False(t, auth.VerifyPayload(pub, []byte("other payload"), sig))
}
