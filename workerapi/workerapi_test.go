package workerapi

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/trustedop"
)

var (
	keyOnce sync.Once
	testKey *shielding.KeyPair
)

type fakeBackend struct {
	key    *shielding.PublicKey
	m      common.MrEnclave
	shards []common.ShardIdentifier
	value  []byte
	err    error
}

func (b *fakeBackend) ShieldingKey() *shielding.PublicKey { return b.key }
func (b *fakeBackend) MrEnclave() common.MrEnclave        { return b.m }
func (b *fakeBackend) Shards() []common.ShardIdentifier   { return b.shards }

func (b *fakeBackend) QueryState(_ context.Context, _ *trustedop.TrustedGetterSigned, _ common.ShardIdentifier) ([]byte, error) {
	return b.value, b.err
}

func newBackend(t *testing.T) *fakeBackend {
	keyOnce.Do(func() {
		var err error
		testKey, err = shielding.GenerateKeyPair(2048)
		require.NoError(t, err)
	})
	m := common.MrEnclave{0xab}
	return &fakeBackend{
		key:    testKey.Public(),
		m:      m,
		shards: []common.ShardIdentifier{common.ShardIdentifier(m), {0xcd}},
		value:  []byte{1, 16 << 2, 0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
}

func serve(t *testing.T, b Backend, attest Attester) string {
	srv := httptest.NewServer(NewServer(b, attest).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHealth(t *testing.T) {
	url := serve(t, newBackend(t), nil)
	resp, err := http.Get(url + common.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetShieldingKey(t *testing.T) {
	b := newBackend(t)
	var got []string
	attest := func(_ context.Context, nonces []string) (string, error) {
		got = nonces
		return "token", nil
	}
	c := NewClient(serve(t, b, attest), nil, nil)

	sk, err := c.GetShieldingKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.key.DER(), sk.Key.DER())
	assert.Equal(t, b.m, sk.MrEnclave)
	assert.Equal(t, b.shards, sk.Shards)

	require.Len(t, got, 3)
	want, err := AttestationNonces(b.key, got[1], b.shards)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got[1], 36)
}

func TestAttestationNoncesDependOnShards(t *testing.T) {
	b := newBackend(t)
	a, err := AttestationNonces(b.key, "n", b.shards)
	require.NoError(t, err)
	reversed, err := AttestationNonces(b.key, "n", []common.ShardIdentifier{b.shards[1], b.shards[0]})
	require.NoError(t, err)
	assert.Equal(t, a, reversed)
	one, err := AttestationNonces(b.key, "n", b.shards[:1])
	require.NoError(t, err)
	assert.NotEqual(t, a[2], one[2])
	assert.Equal(t, a[0], one[0])
}

func TestAttestationFailures(t *testing.T) {
	b := newBackend(t)
	verifier := &Verifier{JWKURL: "http://127.0.0.1:1/certs"}

	_, err := NewClient(serve(t, b, nil), nil, verifier).GetShieldingKey(context.Background())
	require.ErrorIs(t, err, ErrAttestation)

	bogus := func(context.Context, []string) (string, error) { return "not.a.jwt", nil }
	_, err = NewClient(serve(t, b, bogus), nil, verifier).GetShieldingKey(context.Background())
	require.ErrorIs(t, err, ErrAttestation)

	failing := func(context.Context, []string) (string, error) { return "", errors.New("launcher unavailable") }
	_, err = NewClient(serve(t, b, failing), nil, nil).GetShieldingKey(context.Background())
	require.ErrorIs(t, err, common.ErrNetwork)
}

func signedGetter(t *testing.T) *trustedop.TrustedGetterSigned {
	alice, err := keystore.DevPair("//Alice")
	require.NoError(t, err)
	g, err := trustedop.SignGetter(trustedop.FreeBalance(alice.Public()), alice)
	require.NoError(t, err)
	return g
}

func TestGetState(t *testing.T) {
	b := newBackend(t)
	c := NewClient(serve(t, b, nil), nil, nil)
	ctx := context.Background()

	raw, err := c.GetState(ctx, signedGetter(t), b.shards[1])
	require.NoError(t, err)
	assert.Equal(t, b.value, raw)
	v, ok, err := DecodeStateValue(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), v.Int64())

	_, err = c.GetState(ctx, signedGetter(t), common.ShardIdentifier{0x01})
	require.ErrorIs(t, err, common.ErrNotServed)

	g := signedGetter(t)
	g.Signature[3] ^= 0x80
	_, err = c.GetState(ctx, g, b.shards[0])
	require.ErrorIs(t, err, common.ErrNetwork)

	b.err = errors.New("boom")
	_, err = c.GetState(ctx, signedGetter(t), b.shards[0])
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestGetStateUnreachable(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", nil, nil).GetState(context.Background(), signedGetter(t), common.ShardIdentifier{})
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestDecodeStateValue(t *testing.T) {
	u128 := append([]byte{1, 16 << 2}, common.LittleEndian(big.NewInt(123456789), 16)...)

	v, ok, err := DecodeStateValue(u128)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(123456789), v.Int64())

	// anything past the window is ignored
	v, ok, err = DecodeStateValue(append(u128, 0xde, 0xad))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(123456789), v.Int64())

	_, ok, err = DecodeStateValue([]byte{0})
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = DecodeStateValue([]byte{1, 4 << 2, 7, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), v.Int64())

	for _, bad := range [][]byte{
		nil,
		{2},
		{1, 16 << 2, 1, 2},
		// a 20 byte value does not fit the window
		append([]byte{1, 20 << 2}, make([]byte, 20)...),
	} {
		_, _, err := DecodeStateValue(bad)
		require.ErrorIs(t, err, common.ErrValueDecode, "%x", bad)
	}
}
