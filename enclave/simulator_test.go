package enclave

import (
	"context"
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/forwarder"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/registry"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/trustedop"
)

const testModule = 6

var (
	keyOnce sync.Once
	testKey *shielding.KeyPair
	keyErr  error
)

func shieldingKey(t *testing.T) *shielding.KeyPair {
	keyOnce.Do(func() { testKey, keyErr = shielding.GenerateKeyPair(shielding.KeyBits) })
	require.NoError(t, keyErr)
	return testKey
}

func pair(t *testing.T, uri string) *keystore.Pair {
	p, err := keystore.DevPair(uri)
	require.NoError(t, err)
	return p
}

type fixture struct {
	sim   *Simulator
	root  *keystore.Pair
	alice *keystore.Pair
	bob   *keystore.Pair
	m     common.MrEnclave
	shard common.ShardIdentifier
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		root:  pair(t, "//AliceIncognito"),
		alice: pair(t, "//Alice"),
		bob:   pair(t, "//Bob"),
		m:     common.MrEnclave{0xee, 1},
	}
	f.shard = common.ShardIdentifier(f.m)
	var err error
	f.sim, err = New(Config{
		Shielding:      shieldingKey(t),
		Signer:         pair(t, "//Worker"),
		MrEnclave:      f.m,
		Root:           f.root.Public(),
		RegistryModule: testModule,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) execute(t *testing.T, call trustedop.TrustedCall, signer *keystore.Pair, nonce uint32) ([]byte, []byte, error) {
	tc, err := trustedop.Sign(call, signer, nonce, f.m, f.shard)
	require.NoError(t, err)
	plaintext, err := tc.Encode()
	require.NoError(t, err)
	ct, err := shielding.Encrypt(plaintext, f.sim.ShieldingKey())
	require.NoError(t, err)
	xt, err := f.sim.Execute(context.Background(), forwarder.ExecutionContext{
		Ciphertext:     ct,
		GenesisHash:    common.Hash{1},
		Nonce:          3,
		RuntimeVersion: ledger.RuntimeVersion{SpecVersion: 1, TransactionVersion: 1},
	})
	return xt, plaintext, err
}

func (f *fixture) query(t *testing.T, g trustedop.TrustedGetter, signer *keystore.Pair) []byte {
	sg, err := trustedop.SignGetter(g, signer)
	require.NoError(t, err)
	b, err := f.sim.QueryState(context.Background(), sg, f.shard)
	require.NoError(t, err)
	return b
}

func decodeValue(t *testing.T, b []byte) (*big.Int, bool) {
	var v []byte
	var ok bool
	require.NoError(t, common.Decode(b, func(dec scale.Decoder) error {
		var err error
		v, ok, err = common.DecodeOptionBytes(dec)
		return err
	}))
	if !ok {
		return nil, false
	}
	return common.FromLittleEndian(v), true
}

func TestSetBalanceThenTransfer(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.execute(t, trustedop.BalanceSetBalance{Who: f.alice.Public(), Free: big.NewInt(5000), Reserved: big.NewInt(7)}, f.root, 0)
	require.NoError(t, err)

	xt, plaintext, err := f.execute(t, trustedop.BalanceTransfer{From: f.alice.Public(), To: f.bob.Public(), Amount: big.NewInt(1000)}, f.alice, 0)
	require.NoError(t, err)

	x, err := extrinsic.Decode(xt)
	require.NoError(t, err)
	assert.Equal(t, f.sim.Account(), x.Signer)
	assert.Equal(t, uint32(3), x.Nonce)
	assert.True(t, x.VerifySignature(common.Hash{1}, ledger.RuntimeVersion{SpecVersion: 1, TransactionVersion: 1}))

	args, err := registry.ParseCall(x.Call, testModule)
	require.NoError(t, err)
	confirm, ok := args.(registry.ConfirmCallArgs)
	require.True(t, ok)
	assert.Equal(t, f.shard, confirm.Shard)
	assert.Equal(t, trustedop.CallHash(plaintext), confirm.CallHash)
	assert.Len(t, confirm.StateHash, 32)

	v, ok := decodeValue(t, f.query(t, trustedop.FreeBalance(f.alice.Public()), f.alice))
	require.True(t, ok)
	assert.Equal(t, int64(4000), v.Int64())
	v, ok = decodeValue(t, f.query(t, trustedop.FreeBalance(f.bob.Public()), f.bob))
	require.True(t, ok)
	assert.Equal(t, int64(1000), v.Int64())
	v, ok = decodeValue(t, f.query(t, trustedop.ReservedBalance(f.alice.Public()), f.alice))
	require.True(t, ok)
	assert.Equal(t, int64(7), v.Int64())
	v, ok = decodeValue(t, f.query(t, trustedop.Nonce(f.alice.Public()), f.alice))
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Int64())

	// u128 values fill the whole 18 byte response window
	assert.Len(t, f.query(t, trustedop.FreeBalance(f.alice.Public()), f.alice), 18)
}

func TestRejections(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.execute(t, trustedop.BalanceSetBalance{Who: f.alice.Public(), Free: big.NewInt(10), Reserved: big.NewInt(0)}, f.root, 0)
	require.NoError(t, err)

	_, _, err = f.execute(t, trustedop.BalanceSetBalance{Who: f.alice.Public(), Free: big.NewInt(10), Reserved: big.NewInt(0)}, f.alice, 0)
	require.ErrorIs(t, err, common.ErrBoundary)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = f.execute(t, trustedop.BalanceTransfer{From: f.alice.Public(), To: f.bob.Public(), Amount: big.NewInt(11)}, f.alice, 0)
	require.ErrorIs(t, err, ErrInsufficient)

	_, _, err = f.execute(t, trustedop.BalanceTransfer{From: f.bob.Public(), To: f.alice.Public(), Amount: big.NewInt(0)}, f.alice, 0)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = f.execute(t, trustedop.BalanceTransfer{From: f.alice.Public(), To: f.bob.Public(), Amount: big.NewInt(1)}, f.alice, 5)
	require.NoError(t, err)
	_, _, err = f.execute(t, trustedop.BalanceTransfer{From: f.alice.Public(), To: f.bob.Public(), Amount: big.NewInt(1)}, f.alice, 5)
	require.ErrorIs(t, err, ErrStaleNonce)
}

func TestRejectedCallsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.sim.shards[f.shard].hash()

	_, _, err := f.execute(t, trustedop.BalanceTransfer{From: f.alice.Public(), To: f.bob.Public(), Amount: big.NewInt(5)}, f.alice, 0)
	require.ErrorIs(t, err, ErrInsufficient)
	_, _, err = f.execute(t, trustedop.BalanceSetBalance{Who: f.bob.Public(), Free: big.NewInt(5), Reserved: big.NewInt(0)}, f.alice, 0)
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, []byte{0}, f.query(t, trustedop.FreeBalance(f.alice.Public()), f.alice))
	assert.Equal(t, []byte{0}, f.query(t, trustedop.FreeBalance(f.bob.Public()), f.bob))
	assert.Equal(t, []byte{0}, f.query(t, trustedop.Nonce(f.alice.Public()), f.alice))
	assert.Equal(t, before, f.sim.shards[f.shard].hash())
}

func TestNonceExhausted(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.execute(t, trustedop.BalanceSetBalance{Who: f.alice.Public(), Free: big.NewInt(1), Reserved: big.NewInt(0)}, f.root, math.MaxUint32)
	require.ErrorIs(t, err, ErrStaleNonce)

	_, _, err = f.execute(t, trustedop.BalanceSetBalance{Who: f.alice.Public(), Free: big.NewInt(1), Reserved: big.NewInt(0)}, f.root, math.MaxUint32-1)
	require.NoError(t, err)
	_, _, err = f.execute(t, trustedop.BalanceSetBalance{Who: f.alice.Public(), Free: big.NewInt(2), Reserved: big.NewInt(0)}, f.root, 0)
	require.ErrorIs(t, err, ErrStaleNonce)
}

func TestWrongEnclaveAndGarbage(t *testing.T) {
	f := newFixture(t)
	tc, err := trustedop.Sign(trustedop.BalanceTransfer{From: f.alice.Public(), To: f.bob.Public(), Amount: big.NewInt(0)}, f.alice, 0, common.MrEnclave{9}, f.shard)
	require.NoError(t, err)
	plaintext, err := tc.Encode()
	require.NoError(t, err)
	ct, err := shielding.Encrypt(plaintext, f.sim.ShieldingKey())
	require.NoError(t, err)

	_, err = f.sim.Execute(context.Background(), forwarder.ExecutionContext{Ciphertext: ct})
	require.ErrorIs(t, err, ErrWrongEnclave)

	_, err = f.sim.Execute(context.Background(), forwarder.ExecutionContext{Ciphertext: []byte("not a ciphertext")})
	require.ErrorIs(t, err, common.ErrBoundary)
}

func TestQueryUnknownAccountAndShard(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []byte{0}, f.query(t, trustedop.FreeBalance(f.bob.Public()), f.bob))

	sg, err := trustedop.SignGetter(trustedop.FreeBalance(f.bob.Public()), f.bob)
	require.NoError(t, err)
	_, err = f.sim.QueryState(context.Background(), sg, common.ShardIdentifier{0x42})
	require.ErrorIs(t, err, ErrUnknownShard)

	sg.Signature[0] ^= 1
	_, err = f.sim.QueryState(context.Background(), sg, f.shard)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestDefaultShardIsMrEnclave(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []common.ShardIdentifier{common.ShardIdentifier(f.m)}, f.sim.Shards())
	assert.Equal(t, f.m, f.sim.MrEnclave())
}
